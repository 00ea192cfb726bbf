// Package client follows the daemon's status from the outside: over the bus
// or over the websocket feed.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/shou/vigilare/internal/protocol"
)

// Source is a connection to something that reports the daemon status.
type Source interface {
	Status(ctx context.Context) (protocol.Status, error)
	// Changes yields a value whenever the status may have changed. The
	// channel is closed when the source goes away.
	Changes(ctx context.Context) (<-chan struct{}, error)
	Close() error
}

// Dialer opens a Source.
type Dialer func(ctx context.Context) (Source, error)

var errStreamClosed = errors.New("change stream closed")

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Dial Dialer
	Out  io.Writer
	// Retry spaces reconnects. Defaults to NewReconnector.
	Retry *Reconnector
	// Transient reports whether an error should be retried. Errors it
	// rejects end Run.
	Transient func(error) bool
	Now       func() time.Time
	Logger    *slog.Logger
}

// Watcher prints a report for the current status, then one more every time
// the status changes or the displayed minute count goes stale.
type Watcher struct {
	dial      Dialer
	out       io.Writer
	retry     *Reconnector
	transient func(error) bool
	now       func() time.Time
	log       *slog.Logger
}

// NewWatcher creates a Watcher.
func NewWatcher(cfg WatcherConfig) *Watcher {
	w := &Watcher{
		dial:      cfg.Dial,
		out:       cfg.Out,
		retry:     cfg.Retry,
		transient: cfg.Transient,
		now:       cfg.Now,
		log:       cfg.Logger,
	}
	if w.retry == nil {
		w.retry = NewReconnector()
	}
	if w.transient == nil {
		w.transient = func(error) bool { return false }
	}
	if w.now == nil {
		w.now = time.Now
	}
	if w.log == nil {
		w.log = slog.Default()
	}
	return w
}

// Run watches until ctx ends or a non-transient error occurs.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		err := w.watch(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if !errors.Is(err, errStreamClosed) && !w.transient(err) {
			return err
		}
		w.log.Warn("status source lost, retrying", "error", err)
		if !w.retry.Wait(ctx) {
			return nil
		}
	}
}

func (w *Watcher) watch(ctx context.Context) error {
	src, err := w.dial(ctx)
	if err != nil {
		return err
	}
	defer src.Close()

	// Subscribe before the first read so no change falls between them.
	changes, err := src.Changes(ctx)
	if err != nil {
		return err
	}

	report, err := w.emit(ctx, src)
	if err != nil {
		return err
	}
	w.retry.Reset()

	for {
		var recheck <-chan time.Time
		var timer *time.Timer
		if d, ok := report.NextCheck(); ok {
			timer = time.NewTimer(d)
			recheck = timer.C
		}

		select {
		case _, ok := <-changes:
			if !ok {
				stopTimer(timer)
				return errStreamClosed
			}
		case <-recheck:
		case <-ctx.Done():
			stopTimer(timer)
			return nil
		}
		stopTimer(timer)

		if report, err = w.emit(ctx, src); err != nil {
			return err
		}
	}
}

func (w *Watcher) emit(ctx context.Context, src Source) (protocol.Report, error) {
	st, err := src.Status(ctx)
	if err != nil {
		return protocol.Report{}, err
	}
	report := protocol.NewReport(st, w.now())
	if err := WriteReport(w.out, report); err != nil {
		return protocol.Report{}, err
	}
	return report, nil
}

// WriteReport writes r as one JSON line.
func WriteReport(out io.Writer, r protocol.Report) error {
	if err := json.NewEncoder(out).Encode(r); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
