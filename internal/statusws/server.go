// Package statusws serves the daemon status over a websocket.
//
// Every client gets the current status right after the upgrade and one
// frame per change afterwards. The server pings each client every
// PingInterval and drops clients that stop answering.
package statusws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shou/vigilare/internal/protocol"
)

const (
	// Path is where the feed is served.
	Path = "/status"

	defaultPingInterval = 20 * time.Second
	writeTimeout        = 10 * time.Second
	statusTimeout       = 5 * time.Second
	sendBufferSize      = 8
	maxMessageSize      = 4 * 1024
)

// StatusReader returns the current status. *daemon.Daemon implements it.
type StatusReader interface {
	Status(ctx context.Context) (protocol.Status, error)
}

// Server is the status feed. It implements daemon.Notifier.
type Server struct {
	status   StatusReader
	log      *slog.Logger
	upgrader websocket.Upgrader

	// PingInterval is how often clients are pinged. Set before serving.
	PingInterval time.Duration

	mu      sync.RWMutex
	clients map[*client]struct{}
	stopped bool
}

type client struct {
	conn      *websocket.Conn
	send      chan protocol.FeedMessage
	done      chan struct{}
	closeOnce sync.Once
	// notified is set once a change frame was offered to the client. Any
	// such frame is at least as new as the status read on connect.
	notified atomic.Bool
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// New creates a feed server reading the current status from status.
func New(status StatusReader, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		status:       status,
		log:          log,
		PingInterval: defaultPingInterval,
		clients:      make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			// The feed is read-only and carries no secrets.
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Handler routes Path to the websocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(Path, s.handleWebSocket)
	return mux
}

// Serve listens on addr until ctx ends.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx ends.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		s.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("status feed listening", "addr", ln.Addr().String(), "path", Path)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status feed: %w", err)
	}
	return nil
}

// Stop disconnects every client and refuses new ones.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	for c := range s.clients {
		c.close()
	}
	s.clients = make(map[*client]struct{})
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// StatusChanged queues st for every client. Clients whose buffer is full
// miss the frame.
func (s *Server) StatusChanged(st protocol.Status) {
	msg := protocol.FeedMessage{Type: protocol.FeedStatus, Status: &st}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		c.notified.Store(true)
		select {
		case c.send <- msg:
		default:
			s.log.Debug("status feed client is slow, dropping frame")
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan protocol.FeedMessage, sendBufferSize),
		done: make(chan struct{}),
	}

	// Register before reading the status so no change is lost in between.
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(r.Context(), statusTimeout)
	st, err := s.status.Status(ctx)
	cancel()
	if err != nil {
		s.log.Warn("reading status for feed client failed", "error", err)
		s.unregister(c)
		conn.Close()
		return
	}
	if !c.notified.Load() {
		select {
		case c.send <- protocol.FeedMessage{Type: protocol.FeedStatus, Status: &st}:
		default:
		}
	}

	s.log.Debug("status feed client connected", "remote", r.RemoteAddr, "clients", s.ClientCount())

	go s.writePump(c)
	s.readPump(c)
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.close()
}

// writePump is the only writer on the connection.
func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(s.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				s.log.Debug("status feed write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(protocol.FeedMessage{Type: protocol.FeedPing}); err != nil {
				return
			}
		}
	}
}

// readPump consumes pongs and detects disconnects.
func (s *Server) readPump(c *client) {
	defer func() {
		s.unregister(c)
		s.log.Debug("status feed client disconnected", "clients", s.ClientCount())
	}()

	wait := 3 * s.PingInterval
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(wait))

	for {
		var msg protocol.FeedMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("status feed read failed", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(wait))
		if msg.Type == protocol.FeedPing {
			select {
			case c.send <- protocol.FeedMessage{Type: protocol.FeedPong}:
			default:
			}
		}
	}
}
