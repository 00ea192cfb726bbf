//go:build linux

package power

import "syscall"

func platformModes() []modeEntry {
	return []modeEntry{
		{ModeInfo{ModeSystemdInhibit, "run `systemd-inhibit sleep infinity` while active"}, newSystemdInhibitor},
	}
}

func newSystemdInhibitor(opts Options) Inhibitor {
	return &processInhibitor{
		mode: ModeSystemdInhibit,
		opts: opts,
		command: func(opts Options) (string, []string) {
			return "systemd-inhibit", []string{
				"--what=idle:sleep",
				"--who=" + opts.AppName,
				"--why=" + opts.Reason,
				"--mode=block",
				"sleep", "infinity",
			}
		},
	}
}

// helperProcAttr makes the kernel send SIGTERM to the helper when the daemon
// dies, so a crashed daemon never leaves the machine inhibited.
func helperProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Pdeathsig: syscall.SIGTERM}
}
