package power

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	return Options{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		LookPath: func(file string) (string, error) { return "/usr/bin/" + file, nil },
	}.withDefaults()
}

func TestParseMode(t *testing.T) {
	for _, m := range []string{"auto", "xset", "logind", "xfce4", "xfce4-screensaver", "freedesktop-screensaver", "mouse-jitter"} {
		got, err := ParseMode(m)
		require.NoError(t, err, m)
		assert.Equal(t, Mode(m), got)
	}
	_, err := ParseMode("hibernate-harder")
	assert.ErrorIs(t, err, ErrUnknownMode)

	_, err = New("nope", Options{})
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestModesListsEveryMechanism(t *testing.T) {
	var names []Mode
	for _, m := range Modes() {
		assert.NotEmpty(t, m.Description)
		names = append(names, m.Mode)
	}
	assert.Contains(t, names, ModeXSet)
	assert.Contains(t, names, ModeLogind)
	assert.Contains(t, names, ModeMouseJitter)
	assert.NotContains(t, names, ModeAuto)
}

func TestSelectNamedModeUnavailable(t *testing.T) {
	opts := testOptions()
	opts.LookPath = func(string) (string, error) { return "", errors.New("not found") }
	_, err := Select(context.Background(), ModeXSet, opts)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestXSetInhibitIsIdempotent(t *testing.T) {
	var calls atomic.Int32
	opts := testOptions()
	opts.ResetInterval = time.Hour
	opts.Run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		assert.Equal(t, "xset", name)
		assert.Equal(t, []string{"s", "reset"}, args)
		calls.Add(1)
		return nil, nil
	}
	x := newXSetInhibitor(opts).(*xsetInhibitor)
	ctx := context.Background()

	require.NoError(t, x.Inhibit(ctx))
	require.NoError(t, x.Inhibit(ctx))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "second Inhibit must not start another task")
	assert.True(t, x.task.running())

	require.NoError(t, x.Release(ctx))
	assert.False(t, x.task.running())
	require.NoError(t, x.Release(ctx))
}

func TestXSetResetsPeriodically(t *testing.T) {
	var calls atomic.Int32
	opts := testOptions()
	opts.ResetInterval = 5 * time.Millisecond
	opts.Run = func(context.Context, string, ...string) ([]byte, error) {
		calls.Add(1)
		return nil, errors.New("no display")
	}
	x := newXSetInhibitor(opts)
	require.NoError(t, x.Inhibit(context.Background()))
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	require.NoError(t, x.Release(context.Background()))

	n := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, calls.Load(), "no resets after Release returns")
}

func TestReleaseWithoutInhibit(t *testing.T) {
	ctx := context.Background()
	opts := testOptions()
	for _, inh := range []Inhibitor{
		newXSetInhibitor(opts),
		newJitterInhibitor(opts),
		newLogindInhibitor(opts),
		newScreenSaverInhibitor(opts),
		&processInhibitor{mode: "test", opts: opts},
	} {
		assert.NoError(t, inh.Release(ctx), inh.Name())
	}
}

type fakePointer struct {
	mu     sync.Mutex
	x, y   int
	moving bool
	fail   bool
	moves  []string
	reads  int
}

func (p *fakePointer) Location(context.Context) (int, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reads++
	if p.fail {
		return 0, 0, errors.New("no display")
	}
	if p.moving {
		p.x++
	}
	return p.x, p.y, nil
}

func (p *fakePointer) MoveRelative(_ context.Context, dx, dy int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.moves = append(p.moves, "rel")
	p.x += dx
	p.y += dy
	return nil
}

func (p *fakePointer) MoveTo(_ context.Context, x, y int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.moves = append(p.moves, "abs")
	p.x, p.y = x, y
	return nil
}

func (p *fakePointer) readCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reads
}

func (p *fakePointer) moveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.moves)
}

func newTestJitter(p Pointer) *jitterInhibitor {
	opts := testOptions()
	opts.JitterInterval = 5 * time.Millisecond
	opts.JitterWindow = 10 * time.Millisecond
	j := newJitterInhibitor(opts).(*jitterInhibitor)
	j.pointer = p
	return j
}

func TestJitterNudgesIdlePointer(t *testing.T) {
	p := &fakePointer{x: 40, y: 30}
	j := newTestJitter(p)
	assert.Equal(t, 3, j.historyLen())

	ctx := context.Background()
	require.NoError(t, j.Inhibit(ctx))
	require.NoError(t, j.Inhibit(ctx))
	require.Eventually(t, func() bool { return p.moveCount() >= 2 }, time.Second, time.Millisecond)
	require.NoError(t, j.Release(ctx))

	p.mu.Lock()
	assert.Equal(t, []string{"rel", "abs"}, p.moves[:2])
	assert.Equal(t, 40, p.x)
	assert.Equal(t, 30, p.y, "pointer is restored to where it was")
	p.mu.Unlock()

	n := p.moveCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, p.moveCount())
}

func TestJitterInhibitIsIdempotent(t *testing.T) {
	p := &fakePointer{moving: true}
	opts := testOptions()
	opts.JitterInterval = 20 * time.Millisecond
	j := newJitterInhibitor(opts).(*jitterInhibitor)
	j.pointer = p

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, j.Inhibit(ctx))
	}
	time.Sleep(210 * time.Millisecond)
	require.NoError(t, j.Release(ctx))

	// One task samples about ten times in 210ms; three would triple that.
	reads := p.readCount()
	assert.GreaterOrEqual(t, reads, 5)
	assert.LessOrEqual(t, reads, 12, "second Inhibit must not start another sampler")
}

func TestJitterLeavesMovingPointerAlone(t *testing.T) {
	p := &fakePointer{moving: true}
	j := newTestJitter(p)
	require.NoError(t, j.Inhibit(context.Background()))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, j.Release(context.Background()))
	assert.Zero(t, p.moveCount())
}

func TestJitterStopsWhenPointerUnreadable(t *testing.T) {
	p := &fakePointer{fail: true}
	j := newTestJitter(p)
	require.NoError(t, j.Inhibit(context.Background()))
	require.Eventually(t, func() bool { return !j.task.running() }, time.Second, time.Millisecond)

	p.mu.Lock()
	p.fail = false
	p.mu.Unlock()
	require.NoError(t, j.Inhibit(context.Background()))
	assert.True(t, j.task.running(), "inhibit restarts an ended task")
	require.NoError(t, j.Release(context.Background()))
}

func TestParseMouseLocation(t *testing.T) {
	x, y, err := parseMouseLocation([]byte("X=1024\nY=768\nSCREEN=0\nWINDOW=12345\n"))
	require.NoError(t, err)
	assert.Equal(t, 1024, x)
	assert.Equal(t, 768, y)

	_, _, err = parseMouseLocation([]byte("SCREEN=0\n"))
	assert.Error(t, err)
	_, _, err = parseMouseLocation([]byte("X=a\nY=1\n"))
	assert.Error(t, err)
}
