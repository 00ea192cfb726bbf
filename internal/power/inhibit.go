// Package power keeps the machine awake through one of several OS
// mechanisms selected at daemon startup.
package power

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// Inhibitor prevents the system from idling or sleeping while inhibited.
//
// Inhibit and Release are idempotent: a second Inhibit while active keeps the
// existing handle, and Release while inactive does nothing. Release stops any
// background work before it returns and is safe to call even when Inhibit
// never succeeded.
type Inhibitor interface {
	// Name returns the mode the inhibitor was built for.
	Name() string

	// Available is a best-effort probe. Errors count as unavailable.
	Available(ctx context.Context) bool

	// Inhibit starts keeping the machine awake.
	Inhibit(ctx context.Context) error

	// Release undoes Inhibit.
	Release(ctx context.Context) error
}

var (
	// ErrUnknownMode is returned for mode names not in the registry.
	ErrUnknownMode = errors.New("unknown inhibit mode")
	// ErrUnavailable is returned when no usable inhibitor can be found.
	ErrUnavailable = errors.New("inhibit mode unavailable")
)

// InhibitError is a failed inhibit or release call. It is recoverable: the
// daemon logs it and tries again on the next transition.
type InhibitError struct {
	Mode Mode
	Op   string
	Err  error
}

func (e *InhibitError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Mode, e.Op, e.Err)
}

func (e *InhibitError) Unwrap() error { return e.Err }

func inhibitErr(mode Mode, op string, err error) error {
	if err == nil {
		return nil
	}
	return &InhibitError{Mode: mode, Op: op, Err: err}
}

// CommandRunner runs an external command to completion.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Options configures the inhibitors built by New and Select.
type Options struct {
	// AppName and Reason are reported to the session where the mechanism
	// supports it.
	AppName string
	Reason  string

	// ResetInterval is the period of the xset idle-timer reset.
	ResetInterval time.Duration
	// JitterInterval is the pointer sampling period of mouse-jitter.
	JitterInterval time.Duration
	// JitterWindow is how long the pointer must stay still before it is
	// nudged.
	JitterWindow time.Duration

	Logger *slog.Logger

	// Run and LookPath default to os/exec.
	Run      CommandRunner
	LookPath func(file string) (string, error)
}

const (
	DefaultResetInterval  = 60 * time.Second
	DefaultJitterInterval = 5 * time.Second
	DefaultJitterWindow   = 60 * time.Second
)

func (o Options) withDefaults() Options {
	if o.AppName == "" {
		o.AppName = "vigilare"
	}
	if o.Reason == "" {
		o.Reason = "user request"
	}
	if o.ResetInterval <= 0 {
		o.ResetInterval = DefaultResetInterval
	}
	if o.JitterInterval <= 0 {
		o.JitterInterval = DefaultJitterInterval
	}
	if o.JitterWindow <= 0 {
		o.JitterWindow = DefaultJitterWindow
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Run == nil {
		o.Run = execRunner
	}
	if o.LookPath == nil {
		o.LookPath = exec.LookPath
	}
	return o
}

func (o Options) hasCommand(name string) bool {
	_, err := o.LookPath(name)
	return err == nil
}
