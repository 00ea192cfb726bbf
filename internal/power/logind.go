package power

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/coreos/go-systemd/v22/login1"
)

// leaseManager is the part of login1.Conn the lease inhibitor needs.
type leaseManager interface {
	Inhibit(what, who, why, mode string) (*os.File, error)
}

// logindInhibitor holds an inhibitor lock from systemd-logind. The lock lives
// as long as the returned file descriptor stays open.
type logindInhibitor struct {
	opts    Options
	connect func() (leaseManager, error)

	mu    sync.Mutex
	conn  leaseManager
	lease *os.File
}

func newLogindInhibitor(opts Options) Inhibitor {
	return &logindInhibitor{
		opts: opts,
		connect: func() (leaseManager, error) {
			return login1.New()
		},
	}
}

func (l *logindInhibitor) Name() string { return string(ModeLogind) }

func (l *logindInhibitor) manager() (leaseManager, error) {
	if l.conn != nil {
		return l.conn, nil
	}
	conn, err := l.connect()
	if err != nil {
		return nil, fmt.Errorf("connecting to logind: %w", err)
	}
	l.conn = conn
	return conn, nil
}

func (l *logindInhibitor) Available(ctx context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.manager()
	return err == nil
}

func (l *logindInhibitor) Inhibit(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lease != nil {
		return nil
	}
	m, err := l.manager()
	if err != nil {
		return inhibitErr(ModeLogind, "inhibit", err)
	}
	lease, err := m.Inhibit("idle:sleep", l.opts.AppName, l.opts.Reason, "block")
	if err != nil {
		return inhibitErr(ModeLogind, "inhibit", err)
	}
	l.lease = lease
	l.opts.Logger.Debug("logind lock acquired", "fd", lease.Fd())
	return nil
}

func (l *logindInhibitor) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lease == nil {
		return nil
	}
	// Closing the descriptor releases the lock.
	err := l.lease.Close()
	l.lease = nil
	return inhibitErr(ModeLogind, "release", err)
}
