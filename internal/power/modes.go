package power

import (
	"context"
	"fmt"
)

// Mode names an inhibit mechanism.
type Mode string

const (
	ModeAuto             Mode = "auto"
	ModeXSet             Mode = "xset"
	ModeLogind           Mode = "logind"
	ModeXfce4            Mode = "xfce4"
	ModeXfce4Screensaver Mode = "xfce4-screensaver"
	ModeScreenSaver      Mode = "freedesktop-screensaver"
	ModeMouseJitter      Mode = "mouse-jitter"
	ModeSystemdInhibit   Mode = "systemd-inhibit"
	ModeCaffeinate       Mode = "caffeinate"
)

// ModeInfo describes a registered mode.
type ModeInfo struct {
	Mode        Mode
	Description string
}

type modeEntry struct {
	ModeInfo
	build func(Options) Inhibitor
}

// registry lists modes in the order ModeAuto tries them: leases first,
// synthetic input last.
func registry() []modeEntry {
	entries := []modeEntry{
		{ModeInfo{ModeLogind, "hold a logind idle/sleep inhibitor lock"}, newLogindInhibitor},
		{ModeInfo{ModeScreenSaver, "inhibit org.freedesktop.ScreenSaver"}, newScreenSaverInhibitor},
		{ModeInfo{ModeXfce4, "inhibit sleep from xfce4-power-manager"}, newXfcePowerInhibitor},
		{ModeInfo{ModeXfce4Screensaver, "inhibit xfce4-screensaver"}, newXfceScreenSaverInhibitor},
	}
	entries = append(entries, platformModes()...)
	entries = append(entries,
		modeEntry{ModeInfo{ModeXSet, "reset the X screensaver timer with `xset s reset`"}, newXSetInhibitor},
		modeEntry{ModeInfo{ModeMouseJitter, "nudge an idle pointer by one pixel with xdotool"}, newJitterInhibitor},
	)
	return entries
}

// Modes returns every mode New accepts, excluding ModeAuto.
func Modes() []ModeInfo {
	entries := registry()
	out := make([]ModeInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ModeInfo)
	}
	return out
}

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if m == ModeAuto {
		return m, nil
	}
	for _, e := range registry() {
		if e.Mode == m {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// New builds the inhibitor for mode without probing it.
func New(mode Mode, opts Options) (Inhibitor, error) {
	opts = opts.withDefaults()
	for _, e := range registry() {
		if e.Mode == mode {
			return e.build(opts), nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
}

// Select resolves mode into a usable inhibitor. For ModeAuto it returns the
// first available mode in registry order; otherwise the named mode must be
// available. Failing here is fatal for the daemon.
func Select(ctx context.Context, mode Mode, opts Options) (Inhibitor, error) {
	if mode != ModeAuto {
		inh, err := New(mode, opts)
		if err != nil {
			return nil, err
		}
		if !inh.Available(ctx) {
			return nil, fmt.Errorf("%w: %s", ErrUnavailable, mode)
		}
		return inh, nil
	}

	opts = opts.withDefaults()
	for _, e := range registry() {
		inh := e.build(opts)
		if inh.Available(ctx) {
			opts.Logger.Debug("auto-selected inhibit mode", "mode", e.Mode)
			return inh, nil
		}
	}
	return nil, fmt.Errorf("%w: no mode is usable on this system", ErrUnavailable)
}
