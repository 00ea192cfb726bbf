package power

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
)

// cookieService is a desktop service that hands out inhibit cookies.
type cookieService interface {
	Available(ctx context.Context) bool
	Inhibit(ctx context.Context, app, reason string) (uint32, error)
	UnInhibit(ctx context.Context, cookie uint32) error
}

// cookieInhibitor holds at most one cookie. The cookie is always returned
// before a new one is requested, otherwise the service would keep the old
// inhibition alive.
type cookieInhibitor struct {
	mode Mode
	opts Options
	svc  cookieService

	mu     sync.Mutex
	cookie uint32
	held   bool
}

func (c *cookieInhibitor) Name() string { return string(c.mode) }

func (c *cookieInhibitor) Available(ctx context.Context) bool {
	return c.svc.Available(ctx)
}

func (c *cookieInhibitor) Inhibit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.held {
		return nil
	}
	cookie, err := c.svc.Inhibit(ctx, c.opts.AppName, c.opts.Reason)
	if err != nil {
		return inhibitErr(c.mode, "inhibit", err)
	}
	c.cookie, c.held = cookie, true
	c.opts.Logger.Debug("inhibit cookie acquired", "mode", c.mode, "cookie", cookie)
	return nil
}

func (c *cookieInhibitor) Release(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.held {
		return nil
	}
	if err := c.svc.UnInhibit(ctx, c.cookie); err != nil {
		// Keep the cookie so the next release can return it.
		return inhibitErr(c.mode, "release", err)
	}
	c.held = false
	return nil
}

// busCookieService talks to a cookie service on the session bus.
type busCookieService struct {
	dest  string
	path  dbus.ObjectPath
	iface string

	connect func() (*dbus.Conn, error)
}

func (s *busCookieService) conn() (*dbus.Conn, error) {
	conn, err := s.connect()
	if err != nil {
		return nil, fmt.Errorf("connecting to session bus: %w", err)
	}
	return conn, nil
}

func (s *busCookieService) Available(ctx context.Context) bool {
	conn, err := s.conn()
	if err != nil {
		return false
	}
	var has bool
	err = conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.NameHasOwner", 0, s.dest).Store(&has)
	return err == nil && has
}

func (s *busCookieService) Inhibit(ctx context.Context, app, reason string) (uint32, error) {
	conn, err := s.conn()
	if err != nil {
		return 0, err
	}
	var cookie uint32
	err = conn.Object(s.dest, s.path).CallWithContext(ctx, s.iface+".Inhibit", 0, app, reason).Store(&cookie)
	if err != nil {
		return 0, fmt.Errorf("%s.Inhibit: %w", s.iface, err)
	}
	return cookie, nil
}

func (s *busCookieService) UnInhibit(ctx context.Context, cookie uint32) error {
	conn, err := s.conn()
	if err != nil {
		return err
	}
	call := conn.Object(s.dest, s.path).CallWithContext(ctx, s.iface+".UnInhibit", 0, cookie)
	if call.Err != nil {
		return fmt.Errorf("%s.UnInhibit: %w", s.iface, call.Err)
	}
	return nil
}

func newBusCookieInhibitor(mode Mode, opts Options, dest string, path dbus.ObjectPath, iface string) Inhibitor {
	return &cookieInhibitor{
		mode: mode,
		opts: opts,
		svc: &busCookieService{
			dest:    dest,
			path:    path,
			iface:   iface,
			connect: dbus.SessionBus,
		},
	}
}

func newXfcePowerInhibitor(opts Options) Inhibitor {
	return newBusCookieInhibitor(ModeXfce4, opts,
		"org.xfce.PowerManager", "/org/freedesktop/PowerManagement/Inhibit",
		"org.freedesktop.PowerManagement.Inhibit")
}

func newXfceScreenSaverInhibitor(opts Options) Inhibitor {
	return newBusCookieInhibitor(ModeXfce4Screensaver, opts,
		"org.xfce.ScreenSaver", "/", "org.xfce.ScreenSaver")
}

func newScreenSaverInhibitor(opts Options) Inhibitor {
	return newBusCookieInhibitor(ModeScreenSaver, opts,
		"org.freedesktop.ScreenSaver", "/org/freedesktop/ScreenSaver",
		"org.freedesktop.ScreenSaver")
}
