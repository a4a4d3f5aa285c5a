//go:build !windows

package cmd

import (
	"errors"
	"os"
	"syscall"
)

func gracefulSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}

// processIsAlive sends signal 0. EPERM means the process exists but belongs
// to another user.
func processIsAlive(proc *os.Process) bool {
	err := proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

// sendGracefulStop sends SIGTERM, which start turns into a context
// cancellation so the audit worker drains before exit.
func sendGracefulStop(proc *os.Process) error {
	return proc.Signal(syscall.SIGTERM)
}
