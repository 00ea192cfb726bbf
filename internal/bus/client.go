package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/shou/vigilare/internal/protocol"
)

// ErrTransport marks failures to reach the daemon: no session bus, no owner
// for the name, or a connection that went away. Callers may retry them.
var ErrTransport = errors.New("daemon unreachable")

var transportErrors = map[string]bool{
	"org.freedesktop.DBus.Error.ServiceUnknown": true,
	"org.freedesktop.DBus.Error.NameHasNoOwner": true,
	"org.freedesktop.DBus.Error.NoReply":        true,
	"org.freedesktop.DBus.Error.Disconnected":   true,
	"org.freedesktop.DBus.Error.NoServer":       true,
	"org.freedesktop.DBus.Error.Timeout":        true,
}

// IsTransport reports whether err is a retryable transport failure.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, dbus.ErrClosed) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	var derr dbus.Error
	if errors.As(err, &derr) && transportErrors[derr.Name] {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	var pderr *dbus.Error
	if errors.As(err, &pderr) && transportErrors[pderr.Name] {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return err
}

// Client talks to a running daemon over the session bus.
type Client struct {
	conn *dbus.Conn
	obj  dbus.BusObject
}

// Dial connects to the session bus. It does not check that the daemon runs;
// the first call does.
func Dial() (*Client, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to session bus: %v", ErrTransport, err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an existing connection.
func NewClient(conn *dbus.Conn) *Client {
	return &Client{conn: conn, obj: conn.Object(protocol.BusName, protocol.ObjectPath)}
}

// Update sends u to the daemon.
func (c *Client) Update(ctx context.Context, u protocol.Update) error {
	if err := u.Validate(); err != nil {
		return err
	}
	kind, nanos := u.Wire()
	call := c.obj.CallWithContext(ctx, protocol.Interface+".Update", 0, kind, nanos)
	return classify(call.Err)
}

// Status reads the daemon's Status property.
func (c *Client) Status(ctx context.Context) (protocol.Status, error) {
	var v dbus.Variant
	err := c.obj.CallWithContext(ctx, propertiesInterface+".Get", 0,
		protocol.Interface, protocol.StatusProperty).Store(&v)
	if err != nil {
		return protocol.Status{}, classify(err)
	}
	return decodeStatus(v)
}

func decodeStatus(v dbus.Variant) (protocol.Status, error) {
	var st protocol.Status
	if err := dbus.Store([]interface{}{v.Value()}, &st); err != nil {
		return protocol.Status{}, fmt.Errorf("decoding status %s: %w", v.Signature(), err)
	}
	return st, nil
}

// Changes subscribes to status change signals. The channel yields one value
// per burst of changes and is closed when ctx ends or the connection drops.
func (c *Client) Changes(ctx context.Context) (<-chan struct{}, error) {
	opts := []dbus.MatchOption{
		dbus.WithMatchObjectPath(protocol.ObjectPath),
		dbus.WithMatchInterface(propertiesInterface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchSender(protocol.BusName),
	}
	if err := c.conn.AddMatchSignal(opts...); err != nil {
		return nil, classify(err)
	}

	signals := make(chan *dbus.Signal, 8)
	c.conn.Signal(signals)
	out := make(chan struct{}, 1)

	go func() {
		defer close(out)
		defer c.conn.RemoveSignal(signals)
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.conn.Context().Done():
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				if !isStatusChange(sig) {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, nil
}

func isStatusChange(sig *dbus.Signal) bool {
	if sig == nil || sig.Path != protocol.ObjectPath || sig.Name != propertiesChanged {
		return false
	}
	if len(sig.Body) == 0 {
		return false
	}
	iface, ok := sig.Body[0].(string)
	return ok && iface == protocol.Interface
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
