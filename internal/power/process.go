package power

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"
)

// processInhibitor keeps a helper process alive for as long as the machine
// should stay awake. The helper holds the OS lock; killing it releases the
// lock.
type processInhibitor struct {
	mode Mode
	opts Options
	// command returns the program and its arguments.
	command func(opts Options) (string, []string)

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
}

func (p *processInhibitor) Name() string { return string(p.mode) }

func (p *processInhibitor) Available(ctx context.Context) bool {
	name, _ := p.command(p.opts)
	return p.opts.hasCommand(name)
}

func (p *processInhibitor) Inhibit(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		select {
		case <-p.done:
			p.opts.Logger.Warn("inhibit helper exited, restarting", "mode", p.mode)
			p.cmd = nil
		default:
			return nil // already running
		}
	}

	name, args := p.command(p.opts)
	path, err := p.opts.LookPath(name)
	if err != nil {
		return inhibitErr(p.mode, "inhibit", fmt.Errorf("%s not found: %w", name, err))
	}

	cmd := exec.Command(path, args...)
	cmd.SysProcAttr = helperProcAttr()
	if err := cmd.Start(); err != nil {
		return inhibitErr(p.mode, "inhibit", fmt.Errorf("failed to start %s: %w", name, err))
	}

	// Reap the child in background so it doesn't become a zombie.
	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	p.cmd, p.done = cmd, done
	p.opts.Logger.Debug("inhibit helper started", "mode", p.mode, "pid", cmd.Process.Pid)
	return nil
}

func (p *processInhibitor) Release(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil {
		return nil
	}
	cmd, done := p.cmd, p.done
	p.cmd, p.done = nil, nil

	select {
	case <-done:
		return nil
	default:
	}
	if err := cmd.Process.Kill(); err != nil {
		return inhibitErr(p.mode, "release", err)
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return inhibitErr(p.mode, "release", ctx.Err())
	case <-time.After(5 * time.Second):
		return inhibitErr(p.mode, "release", fmt.Errorf("pid %d did not exit", cmd.Process.Pid))
	}
}
