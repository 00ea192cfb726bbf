// Package daemon owns the wake deadline.
//
// A single goroutine (Run) holds the deadline and is the only code that reads
// or writes it. Updates and status queries reach it through one bounded
// channel, so a query always observes every update ordered before it and no
// lock is needed around the state. Each loop iteration handles exactly one of:
// an inbound request, the deadline timer, or termination.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shou/vigilare/internal/power"
	"github.com/shou/vigilare/internal/protocol"
)

// ErrStopped is returned to callers once Run has returned.
var ErrStopped = errors.New("daemon stopped")

const inhibitTimeout = 10 * time.Second

// Notifier receives every change of the observable Status. It is called from
// the event loop and must not block.
type Notifier interface {
	StatusChanged(protocol.Status)
}

// Config configures a Daemon.
type Config struct {
	Inhibitor power.Inhibitor
	Logger    *slog.Logger
	// Now defaults to time.Now. Deadlines are compared with the monotonic
	// clock reading time.Now carries.
	Now func() time.Time
}

// Daemon is the deadline state machine.
type Daemon struct {
	inhibitor power.Inhibitor
	log       *slog.Logger
	now       func() time.Time
	notifiers []Notifier

	requests chan request
	stopped  chan struct{}
	started  atomic.Bool

	// Owned by the Run goroutine.
	deadline time.Time
	held     bool
	last     protocol.Status
}

type request struct {
	update *protocol.Update
	reply  chan protocol.Status
}

// New creates an idle daemon.
func New(cfg Config) *Daemon {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Daemon{
		inhibitor: cfg.Inhibitor,
		log:       cfg.Logger,
		now:       cfg.Now,
		// One slot: only the latest deadline matters, and callers block
		// rather than being dropped when it is full.
		requests: make(chan request, 1),
		stopped:  make(chan struct{}),
	}
}

// Subscribe registers n for status changes. It must be called before Run.
func (d *Daemon) Subscribe(n Notifier) {
	d.notifiers = append(d.notifiers, n)
}

// Update applies u and returns the resulting status. It blocks until the
// event loop has handled the update, ctx ends, or the daemon stops.
//
// An error from ctx does not mean u was dropped: once the event loop has
// accepted the request it applies u even if the caller stopped waiting.
func (d *Daemon) Update(ctx context.Context, u protocol.Update) (protocol.Status, error) {
	if err := u.Validate(); err != nil {
		return protocol.Status{}, err
	}
	return d.call(ctx, request{update: &u, reply: make(chan protocol.Status, 1)})
}

// Status returns the current status as seen by the event loop.
func (d *Daemon) Status(ctx context.Context) (protocol.Status, error) {
	return d.call(ctx, request{reply: make(chan protocol.Status, 1)})
}

func (d *Daemon) call(ctx context.Context, req request) (protocol.Status, error) {
	select {
	case d.requests <- req:
	case <-ctx.Done():
		return protocol.Status{}, ctx.Err()
	case <-d.stopped:
		return protocol.Status{}, ErrStopped
	}
	select {
	case st := <-req.reply:
		return st, nil
	case <-ctx.Done():
		return protocol.Status{}, ctx.Err()
	case <-d.stopped:
		return protocol.Status{}, ErrStopped
	}
}

// Run is the event loop. It returns nil when ctx ends, after releasing the
// inhibitor if it is held.
func (d *Daemon) Run(ctx context.Context) error {
	if !d.started.CompareAndSwap(false, true) {
		return errors.New("daemon: Run called twice")
	}
	defer close(d.stopped)

	d.log.Info("daemon running", "mode", d.inhibitor.Name())

	for {
		// Re-arm from the current deadline every iteration; a nil channel
		// blocks forever, which is the idle wait.
		var timer *time.Timer
		var expired <-chan time.Time
		if !d.deadline.IsZero() {
			timer = time.NewTimer(d.deadline.Sub(d.now()))
			expired = timer.C
		}

		select {
		case req := <-d.requests:
			if req.update != nil {
				d.apply(*req.update)
			}
			req.reply <- d.status()
		case <-expired:
			d.expire()
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			d.shutdown()
			return nil
		}

		if timer != nil {
			timer.Stop()
		}
	}
}

func (d *Daemon) apply(u protocol.Update) {
	now := d.now()
	prev := d.deadline
	d.deadline = Normalize(Apply(prev, u, now), now)

	switch {
	case d.deadline.IsZero() && prev.IsZero():
		d.log.Debug("update while idle", "update", u.String())
	case d.deadline.IsZero():
		d.log.Info("deadline cleared", "update", u.String())
	default:
		d.log.Info("deadline set", "update", u.String(),
			"wake_until", d.deadline.Format(time.RFC3339),
			"remaining", d.deadline.Sub(now).Round(time.Second))
	}

	d.reconcile()
	d.publish()
}

func (d *Daemon) expire() {
	now := d.now()
	if !Normalize(d.deadline, now).IsZero() {
		// Fired before the deadline; the loop re-arms.
		return
	}
	d.log.Info("deadline reached")
	d.deadline = time.Time{}
	d.reconcile()
	d.publish()
}

// reconcile drives the inhibitor toward the current deadline. Failures are
// logged and retried on the next event: Inhibit is idempotent, and a failed
// Release leaves held set.
func (d *Daemon) reconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), inhibitTimeout)
	defer cancel()

	if !d.deadline.IsZero() {
		if err := d.inhibitor.Inhibit(ctx); err != nil {
			d.log.Warn("inhibit failed, will retry", "error", err)
			return
		}
		if !d.held {
			d.log.Debug("inhibitor acquired", "mode", d.inhibitor.Name())
		}
		d.held = true
		return
	}

	if !d.held {
		return
	}
	if err := d.inhibitor.Release(ctx); err != nil {
		d.log.Warn("release failed, will retry", "error", err)
		return
	}
	d.held = false
	d.log.Debug("inhibitor released", "mode", d.inhibitor.Name())
}

// publish notifies subscribers when the projection changed since the last
// notification.
func (d *Daemon) publish() {
	st := d.status()
	if st == d.last {
		return
	}
	d.last = st
	for _, n := range d.notifiers {
		n.StatusChanged(st)
	}
}

func (d *Daemon) status() protocol.Status {
	if d.deadline.IsZero() {
		return protocol.Status{}
	}
	unix := d.deadline.Unix()
	if unix <= 0 {
		// Clock arithmetic went wrong; the daemon cannot report or hold a
		// correct inhibition from here.
		panic(fmt.Sprintf("daemon: active deadline %s is not after the UNIX epoch", d.deadline))
	}
	return protocol.Status{Active: true, WakeUntil: uint64(unix)}
}

func (d *Daemon) shutdown() {
	if d.held {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.inhibitor.Release(ctx); err != nil {
			d.log.Warn("release on shutdown failed", "error", err)
		} else {
			d.held = false
		}
	}
	d.log.Info("daemon stopped")
}
