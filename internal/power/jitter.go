package power

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
)

// Pointer reads and moves the mouse pointer.
type Pointer interface {
	Location(ctx context.Context) (x, y int, err error)
	MoveRelative(ctx context.Context, dx, dy int) error
	MoveTo(ctx context.Context, x, y int) error
}

type point struct{ x, y int }

// jitterInhibitor samples the pointer every JitterInterval. When the pointer
// has not moved for a whole JitterWindow it is moved one pixel and put back,
// which resets the idle timer without visibly displacing it.
type jitterInhibitor struct {
	opts    Options
	log     *slog.Logger
	pointer Pointer
	task    periodic
}

func newJitterInhibitor(opts Options) Inhibitor {
	return &jitterInhibitor{
		opts:    opts,
		log:     opts.Logger.With("mode", ModeMouseJitter),
		pointer: &xdotool{run: opts.Run},
	}
}

func (j *jitterInhibitor) Name() string { return string(ModeMouseJitter) }

func (j *jitterInhibitor) Available(ctx context.Context) bool {
	if !j.opts.hasCommand("xdotool") || os.Getenv("DISPLAY") == "" {
		return false
	}
	_, _, err := j.pointer.Location(ctx)
	return err == nil
}

// historyLen is the number of samples spanning the trailing window, plus the
// sample that closes it.
func (j *jitterInhibitor) historyLen() int {
	return int(math.Ceil(j.opts.JitterWindow.Seconds()/j.opts.JitterInterval.Seconds())) + 1
}

func (j *jitterInhibitor) Inhibit(ctx context.Context) error {
	n := j.historyLen()
	history := make([]point, 0, n+1)

	j.task.start(j.opts.JitterInterval, false, func(ctx context.Context) bool {
		x, y, err := j.pointer.Location(ctx)
		if err != nil {
			if ctx.Err() == nil {
				j.log.Warn("cannot read pointer location, stopping jitter", "error", err)
			}
			return false
		}
		pos := point{x, y}
		history = append(history, pos)
		if len(history) > n {
			history = history[len(history)-n:]
		}
		if len(history) < n {
			return true
		}
		for _, p := range history {
			if p != pos {
				return true
			}
		}

		if err := j.pointer.MoveRelative(ctx, 0, 1); err != nil {
			j.log.Warn("pointer jitter failed", "error", err)
			return true
		}
		if err := j.pointer.MoveTo(ctx, pos.x, pos.y); err != nil {
			j.log.Warn("pointer restore failed", "error", err)
		}
		// Start a new window so the next nudge is a full window away.
		history = history[:0]
		return true
	})
	return nil
}

func (j *jitterInhibitor) Release(ctx context.Context) error {
	j.task.stop()
	return nil
}

// xdotool drives the pointer through the xdotool command.
type xdotool struct {
	run CommandRunner
}

func (x *xdotool) Location(ctx context.Context) (int, int, error) {
	out, err := x.run(ctx, "xdotool", "getmouselocation", "--shell")
	if err != nil {
		return 0, 0, fmt.Errorf("xdotool getmouselocation: %w", err)
	}
	return parseMouseLocation(out)
}

func (x *xdotool) MoveRelative(ctx context.Context, dx, dy int) error {
	_, err := x.run(ctx, "xdotool", "mousemove_relative", "--", strconv.Itoa(dx), strconv.Itoa(dy))
	return err
}

func (x *xdotool) MoveTo(ctx context.Context, px, py int) error {
	_, err := x.run(ctx, "xdotool", "mousemove", strconv.Itoa(px), strconv.Itoa(py))
	return err
}

// parseMouseLocation reads the X= and Y= lines of `getmouselocation --shell`.
func parseMouseLocation(out []byte) (int, int, error) {
	var x, y int
	var gotX, gotY bool
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		key, val, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(val)
		switch key {
		case "X":
			if err != nil {
				return 0, 0, fmt.Errorf("bad X %q", val)
			}
			x, gotX = n, true
		case "Y":
			if err != nil {
				return 0, 0, fmt.Errorf("bad Y %q", val)
			}
			y, gotY = n, true
		}
	}
	if !gotX || !gotY {
		return 0, 0, fmt.Errorf("no pointer location in %q", out)
	}
	return x, y, nil
}
