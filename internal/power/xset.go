package power

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// xsetInhibitor resets the X screensaver idle timer on a fixed period. It
// holds no OS handle; the periodic goroutine is the whole resource.
type xsetInhibitor struct {
	opts Options
	log  *slog.Logger
	task periodic
}

func newXSetInhibitor(opts Options) Inhibitor {
	return &xsetInhibitor{opts: opts, log: opts.Logger.With("mode", ModeXSet)}
}

func (x *xsetInhibitor) Name() string { return string(ModeXSet) }

func (x *xsetInhibitor) Available(ctx context.Context) bool {
	return x.opts.hasCommand("xset") && os.Getenv("DISPLAY") != ""
}

func (x *xsetInhibitor) Inhibit(ctx context.Context) error {
	if x.task.start(x.opts.ResetInterval, true, x.reset) {
		x.log.Debug("idle timer reset started", "interval", x.opts.ResetInterval)
	}
	return nil
}

func (x *xsetInhibitor) reset(ctx context.Context) bool {
	runCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	// Fire and forget: a missed reset is covered by the next tick.
	if _, err := x.opts.Run(runCtx, "xset", "s", "reset"); err != nil && ctx.Err() == nil {
		x.log.Debug("xset s reset failed", "error", err)
	}
	return true
}

func (x *xsetInhibitor) Release(ctx context.Context) error {
	x.task.stop()
	return nil
}
