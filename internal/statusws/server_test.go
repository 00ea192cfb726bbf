package statusws

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shou/vigilare/internal/protocol"
)

type fixedStatus struct {
	mu  sync.Mutex
	st  protocol.Status
	err error
}

func (f *fixedStatus) Status(context.Context) (protocol.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st, f.err
}

func newTestServer(t *testing.T, status StatusReader) (*Server, string) {
	t.Helper()
	s := New(status, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Stop()
		ts.Close()
	})
	return s, "ws" + strings.TrimPrefix(ts.URL, "http") + Path
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) protocol.FeedMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg protocol.FeedMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func waitForClients(t *testing.T, s *Server, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return s.ClientCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestInitialStatusOnConnect(t *testing.T) {
	want := protocol.Status{Active: true, WakeUntil: 1_800_000_000}
	_, url := newTestServer(t, &fixedStatus{st: want})

	msg := read(t, dial(t, url))
	assert.Equal(t, protocol.FeedStatus, msg.Type)
	require.NotNil(t, msg.Status)
	assert.Equal(t, want, *msg.Status)
}

// racingStatus publishes a change while the connect-time read is in flight,
// as the event loop does when an update lands right after the read.
type racingStatus struct {
	srv *Server
}

func (r *racingStatus) Status(context.Context) (protocol.Status, error) {
	r.srv.StatusChanged(protocol.Status{Active: true, WakeUntil: 999})
	return protocol.Status{}, nil
}

func TestChangeDuringConnectIsNotOverwritten(t *testing.T) {
	rs := &racingStatus{}
	s, url := newTestServer(t, rs)
	rs.srv = s
	conn := dial(t, url)

	msg := read(t, conn)
	require.NotNil(t, msg.Status)
	assert.Equal(t, protocol.Status{Active: true, WakeUntil: 999}, *msg.Status)

	// Nothing older may follow the newer frame.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	var next protocol.FeedMessage
	err := conn.ReadJSON(&next)
	if err == nil {
		assert.NotEqual(t, protocol.FeedStatus, next.Type, "stale status after a newer one: %+v", next.Status)
	}
}

func TestChangesAreBroadcast(t *testing.T) {
	s, url := newTestServer(t, &fixedStatus{})
	a := dial(t, url)
	b := dial(t, url)
	read(t, a)
	read(t, b)
	waitForClients(t, s, 2)

	next := protocol.Status{Active: true, WakeUntil: 42}
	s.StatusChanged(next)

	for _, conn := range []*websocket.Conn{a, b} {
		msg := read(t, conn)
		require.NotNil(t, msg.Status)
		assert.Equal(t, next, *msg.Status)
	}
}

func TestSlowClientDoesNotBlock(t *testing.T) {
	s, url := newTestServer(t, &fixedStatus{})
	dial(t, url) // never reads
	waitForClients(t, s, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10*sendBufferSize; i++ {
			s.StatusChanged(protocol.Status{Active: true, WakeUntil: uint64(i + 1)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("StatusChanged blocked on a slow client")
	}
}

func TestServerPings(t *testing.T) {
	s := New(&fixedStatus{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.PingInterval = 30 * time.Millisecond
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	defer s.Stop()

	conn := dial(t, "ws"+strings.TrimPrefix(ts.URL, "http")+Path)
	read(t, conn)
	assert.Equal(t, protocol.FeedPing, read(t, conn).Type)
}

func TestClientPingIsAnswered(t *testing.T) {
	_, url := newTestServer(t, &fixedStatus{})
	conn := dial(t, url)
	read(t, conn)

	require.NoError(t, conn.WriteJSON(protocol.FeedMessage{Type: protocol.FeedPing}))
	assert.Equal(t, protocol.FeedPong, read(t, conn).Type)
}

func TestStopDisconnectsClients(t *testing.T) {
	s, url := newTestServer(t, &fixedStatus{})
	conn := dial(t, url)
	read(t, conn)
	waitForClients(t, s, 1)

	s.Stop()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Zero(t, s.ClientCount())
}

func TestStatusFailureClosesConnection(t *testing.T) {
	s, url := newTestServer(t, &fixedStatus{err: errors.New("daemon stopped")})
	conn := dial(t, url)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	waitForClients(t, s, 0)
}

func TestServeStopsWithContext(t *testing.T) {
	s := New(&fixedStatus{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, "127.0.0.1:0") }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}
