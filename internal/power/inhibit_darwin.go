//go:build darwin

package power

import (
	"os"
	"strconv"
	"syscall"
)

func platformModes() []modeEntry {
	return []modeEntry{
		{ModeInfo{ModeCaffeinate, "run `caffeinate -is` while active"}, newCaffeinateInhibitor},
	}
}

func newCaffeinateInhibitor(opts Options) Inhibitor {
	return &processInhibitor{
		mode: ModeCaffeinate,
		opts: opts,
		command: func(Options) (string, []string) {
			// -i: prevent idle sleep
			// -s: prevent system sleep (AC power)
			// -w <pid>: exit automatically when the daemon dies
			return "caffeinate", []string{"-is", "-w", strconv.Itoa(os.Getpid())}
		},
	}
}

func helperProcAttr() *syscall.SysProcAttr { return nil }
