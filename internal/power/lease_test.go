package power

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCookies struct {
	mu        sync.Mutex
	next      uint32
	active    map[uint32]bool
	inhibits  int
	failUn    bool
	available bool
}

func newFakeCookies() *fakeCookies {
	return &fakeCookies{next: 41, active: map[uint32]bool{}, available: true}
}

func (f *fakeCookies) Available(context.Context) bool { return f.available }

func (f *fakeCookies) Inhibit(_ context.Context, app, reason string) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inhibits++
	f.next++
	f.active[f.next] = true
	return f.next, nil
}

func (f *fakeCookies) UnInhibit(_ context.Context, cookie uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUn {
		return errors.New("service gone")
	}
	if !f.active[cookie] {
		return errors.New("unknown cookie")
	}
	delete(f.active, cookie)
	return nil
}

func (f *fakeCookies) held() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.active)
}

func TestCookieInhibitHoldsOneCookie(t *testing.T) {
	svc := newFakeCookies()
	c := &cookieInhibitor{mode: ModeXfce4, opts: testOptions(), svc: svc}
	ctx := context.Background()

	require.NoError(t, c.Inhibit(ctx))
	require.NoError(t, c.Inhibit(ctx))
	assert.Equal(t, 1, svc.inhibits)
	assert.Equal(t, 1, svc.held())

	require.NoError(t, c.Release(ctx))
	assert.Equal(t, 0, svc.held())
	require.NoError(t, c.Release(ctx))

	require.NoError(t, c.Inhibit(ctx))
	assert.Equal(t, 1, svc.held())
}

func TestCookieFailedReleaseIsRetried(t *testing.T) {
	svc := newFakeCookies()
	c := &cookieInhibitor{mode: ModeXfce4Screensaver, opts: testOptions(), svc: svc}
	ctx := context.Background()

	require.NoError(t, c.Inhibit(ctx))
	svc.failUn = true
	err := c.Release(ctx)
	var ie *InhibitError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, ModeXfce4Screensaver, ie.Mode)
	assert.Equal(t, "release", ie.Op)

	svc.failUn = false
	require.NoError(t, c.Release(ctx))
	assert.Equal(t, 0, svc.held(), "the original cookie was returned")
}

type fakeLogind struct {
	mu     sync.Mutex
	calls  int
	leases []*os.File
}

func (f *fakeLogind) Inhibit(what, who, why, mode string) (*os.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	_ = w.Close()
	f.leases = append(f.leases, r)
	return r, nil
}

func TestLogindLeaseLifecycle(t *testing.T) {
	fake := &fakeLogind{}
	l := newLogindInhibitor(testOptions()).(*logindInhibitor)
	l.connect = func() (leaseManager, error) { return fake, nil }
	ctx := context.Background()

	assert.True(t, l.Available(ctx))
	require.NoError(t, l.Inhibit(ctx))
	require.NoError(t, l.Inhibit(ctx))
	assert.Equal(t, 1, fake.calls)

	require.NoError(t, l.Release(ctx))
	assert.ErrorIs(t, fake.leases[0].Close(), os.ErrClosed, "release closes the lease fd")
	require.NoError(t, l.Release(ctx))
}

func TestLogindUnreachable(t *testing.T) {
	l := newLogindInhibitor(testOptions()).(*logindInhibitor)
	l.connect = func() (leaseManager, error) { return nil, errors.New("no system bus") }

	assert.False(t, l.Available(context.Background()))
	err := l.Inhibit(context.Background())
	var ie *InhibitError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, ModeLogind, ie.Mode)
}
