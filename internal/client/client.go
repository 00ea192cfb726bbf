package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shou/vigilare/internal/protocol"
)

const (
	pingInterval     = 20 * time.Second
	readTimeout      = 3 * pingInterval
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
	writeChanSize    = 16
)

// ErrFeedUnavailable marks a feed that cannot be reached or was lost.
var ErrFeedUnavailable = errors.New("status feed unavailable")

// IsFeedTransport reports whether err is a retryable feed failure.
func IsFeedTransport(err error) bool {
	return errors.Is(err, ErrFeedUnavailable)
}

// FeedDialer returns a Dialer for the websocket feed at url.
func FeedDialer(url string, log *slog.Logger) Dialer {
	return func(ctx context.Context) (Source, error) {
		return DialFeed(ctx, url, log)
	}
}

// Feed is a Source backed by the daemon's websocket status feed.
type Feed struct {
	conn *websocket.Conn
	log  *slog.Logger

	mu   sync.Mutex
	last protocol.Status
	err  error

	changes chan struct{}
	writeCh chan protocol.FeedMessage
	done    chan struct{}
	once    sync.Once
}

// DialFeed connects to url and waits for the initial status frame.
func DialFeed(ctx context.Context, url string, log *slog.Logger) (*Feed, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrFeedUnavailable, url, err)
	}

	// The server sends the current status first.
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var first protocol.FeedMessage
	if err := conn.ReadJSON(&first); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: reading initial status: %v", ErrFeedUnavailable, err)
	}
	if first.Type != protocol.FeedStatus || first.Status == nil {
		conn.Close()
		return nil, fmt.Errorf("unexpected first message type: %s", first.Type)
	}

	f := &Feed{
		conn:    conn,
		log:     log,
		last:    *first.Status,
		changes: make(chan struct{}, 1),
		writeCh: make(chan protocol.FeedMessage, writeChanSize),
		done:    make(chan struct{}),
	}
	go f.writeLoop()
	go f.readLoop()
	return f, nil
}

// Status returns the most recent status received.
func (f *Feed) Status(context.Context) (protocol.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return protocol.Status{}, f.err
	}
	return f.last, nil
}

// Changes returns the feed's change channel. It is shared by all callers.
func (f *Feed) Changes(context.Context) (<-chan struct{}, error) {
	return f.changes, nil
}

// Close closes the connection and stops the feed goroutines.
func (f *Feed) Close() error {
	var err error
	f.once.Do(func() {
		close(f.done)
		err = f.conn.Close()
	})
	return err
}

// send enqueues a frame for the write goroutine. Non-blocking: drops the frame
// if the buffer is full.
func (f *Feed) send(m protocol.FeedMessage) {
	select {
	case f.writeCh <- m:
	default:
	}
}

// writeLoop is the single goroutine that writes to the websocket.
func (f *Feed) writeLoop() {
	for {
		select {
		case <-f.done:
			return
		case msg := <-f.writeCh:
			_ = f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := f.conn.WriteJSON(msg); err != nil {
				f.log.Debug("feed write failed", "error", err)
				return
			}
		}
	}
}

func (f *Feed) readLoop() {
	defer close(f.changes)
	for {
		_ = f.conn.SetReadDeadline(time.Now().Add(readTimeout))
		var msg protocol.FeedMessage
		if err := f.conn.ReadJSON(&msg); err != nil {
			f.fail(err)
			return
		}

		switch msg.Type {
		case protocol.FeedStatus:
			if msg.Status == nil {
				continue
			}
			f.mu.Lock()
			f.last = *msg.Status
			f.mu.Unlock()
			select {
			case f.changes <- struct{}{}:
			default:
			}
		case protocol.FeedPing:
			f.send(protocol.FeedMessage{Type: protocol.FeedPong})
		case protocol.FeedPong:
			// Heartbeat ack: no action
		default:
			f.log.Debug("ignoring feed message", "type", msg.Type)
		}
	}
}

func (f *Feed) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err == nil {
		f.err = fmt.Errorf("%w: %v", ErrFeedUnavailable, err)
	}
}
