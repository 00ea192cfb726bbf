package power

import (
	"context"
	"sync"
	"time"
)

// periodic runs fn every interval on its own goroutine until stopped.
// stop blocks until the goroutine has returned, so a following start can
// never overlap with the previous run.
type periodic struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// start launches the task unless it is already running. fn returns false to
// end the task early. It reports whether a new goroutine was started.
func (p *periodic) start(interval time.Duration, immediate bool, fn func(ctx context.Context) bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done != nil {
		select {
		case <-p.done:
			// ended on its own; start a fresh one
		default:
			return false
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	go func() {
		defer close(done)
		if immediate && !fn(ctx) {
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !fn(ctx) {
					return
				}
			}
		}
	}()
	return true
}

// stop cancels the task and waits for it to exit.
func (p *periodic) stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *periodic) running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}
