// Package bus exposes the daemon on the D-Bus session bus and provides the
// matching client.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"

	"github.com/shou/vigilare/internal/protocol"
)

const (
	propertiesInterface = "org.freedesktop.DBus.Properties"
	propertiesChanged   = propertiesInterface + ".PropertiesChanged"

	errInvalidUpdate    = protocol.Interface + ".Error.InvalidUpdate"
	errUnknownInterface = "org.freedesktop.DBus.Error.UnknownInterface"
	errUnknownProperty  = "org.freedesktop.DBus.Error.UnknownProperty"
	errReadOnly         = "org.freedesktop.DBus.Error.PropertyReadOnly"

	callTimeout = 10 * time.Second
)

// ErrAlreadyRunning is returned by Serve when another process owns the name.
var ErrAlreadyRunning = errors.New("another daemon owns " + protocol.BusName)

// Controller is the daemon side of the service.
type Controller interface {
	Update(ctx context.Context, u protocol.Update) (protocol.Status, error)
	Status(ctx context.Context) (protocol.Status, error)
}

// Emitter sends signals. *dbus.Conn implements it.
type Emitter interface {
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
}

// Service translates bus calls into Controller calls and status changes
// into PropertiesChanged signals.
type Service struct {
	ctrl Controller
	emit Emitter
	log  *slog.Logger
}

// NewService creates a service. emit may be nil until Serve binds it.
func NewService(ctrl Controller, emit Emitter, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{ctrl: ctrl, emit: emit, log: log}
}

// Serve exports the service on conn and claims the well-known name. It fails
// with ErrAlreadyRunning if the name has an owner.
func Serve(conn *dbus.Conn, s *Service) error {
	s.emit = conn

	if err := conn.Export(&controlObject{s}, protocol.ObjectPath, protocol.Interface); err != nil {
		return fmt.Errorf("exporting %s: %w", protocol.Interface, err)
	}
	if err := conn.Export(&propertiesObject{s}, protocol.ObjectPath, propertiesInterface); err != nil {
		return fmt.Errorf("exporting properties: %w", err)
	}
	if err := conn.Export(introspect.NewIntrospectable(introspection()), protocol.ObjectPath,
		"org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("exporting introspection: %w", err)
	}

	reply, err := conn.RequestName(protocol.BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", protocol.BusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return ErrAlreadyRunning
	}
	s.log.Info("bus service ready", "name", protocol.BusName, "path", protocol.ObjectPath)
	return nil
}

// StatusChanged implements daemon.Notifier.
func (s *Service) StatusChanged(st protocol.Status) {
	if s.emit == nil {
		return
	}
	changed := map[string]dbus.Variant{protocol.StatusProperty: dbus.MakeVariant(st)}
	if err := s.emit.Emit(protocol.ObjectPath, propertiesChanged, protocol.Interface, changed, []string{}); err != nil {
		s.log.Warn("emitting status change failed", "error", err)
	}
}

func (s *Service) update(kind string, nanos uint64) *dbus.Error {
	u, err := protocol.UpdateFromWire(kind, nanos)
	if err != nil {
		return dbus.NewError(errInvalidUpdate, []interface{}{err.Error()})
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	if _, err := s.ctrl.Update(ctx, u); err != nil {
		if errors.Is(err, protocol.ErrInvalidUpdate) {
			return dbus.NewError(errInvalidUpdate, []interface{}{err.Error()})
		}
		return dbus.MakeFailedError(err)
	}
	s.log.Debug("bus update", "update", u.String())
	return nil
}

func (s *Service) status() (protocol.Status, *dbus.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	st, err := s.ctrl.Status(ctx)
	if err != nil {
		return protocol.Status{}, dbus.MakeFailedError(err)
	}
	return st, nil
}

// controlObject carries only the methods exported on protocol.Interface.
type controlObject struct{ s *Service }

func (o *controlObject) Update(kind string, nanos uint64) *dbus.Error {
	return o.s.update(kind, nanos)
}

// propertiesObject implements org.freedesktop.DBus.Properties. Status is
// read through the daemon on every Get, never cached.
type propertiesObject struct{ s *Service }

func (o *propertiesObject) Get(iface, name string) (dbus.Variant, *dbus.Error) {
	if iface != protocol.Interface {
		return dbus.Variant{}, dbus.NewError(errUnknownInterface, []interface{}{iface})
	}
	if name != protocol.StatusProperty {
		return dbus.Variant{}, dbus.NewError(errUnknownProperty, []interface{}{name})
	}
	st, derr := o.s.status()
	if derr != nil {
		return dbus.Variant{}, derr
	}
	return dbus.MakeVariant(st), nil
}

func (o *propertiesObject) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if iface != protocol.Interface {
		return nil, dbus.NewError(errUnknownInterface, []interface{}{iface})
	}
	st, derr := o.s.status()
	if derr != nil {
		return nil, derr
	}
	return map[string]dbus.Variant{protocol.StatusProperty: dbus.MakeVariant(st)}, nil
}

func (o *propertiesObject) Set(iface, name string, _ dbus.Variant) *dbus.Error {
	return dbus.NewError(errReadOnly, []interface{}{iface + "." + name})
}

func introspection() *introspect.Node {
	return &introspect.Node{
		Name: protocol.ObjectPath,
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name: protocol.Interface,
				Methods: []introspect.Method{{
					Name: "Update",
					Args: []introspect.Arg{
						{Name: "kind", Type: "s", Direction: "in"},
						{Name: "nanos", Type: "t", Direction: "in"},
					},
				}},
				Properties: []introspect.Property{{
					Name:   protocol.StatusProperty,
					Type:   dbus.SignatureOf(protocol.Status{}).String(),
					Access: "read",
					Annotations: []introspect.Annotation{{
						Name:  "org.freedesktop.DBus.Property.EmitsChangedSignal",
						Value: "true",
					}},
				}},
			},
		},
	}
}
