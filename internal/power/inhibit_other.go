//go:build !darwin && !linux

package power

import "syscall"

func platformModes() []modeEntry { return nil }

func helperProcAttr() *syscall.SysProcAttr { return nil }
