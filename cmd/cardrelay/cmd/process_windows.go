//go:build windows

package cmd

import (
	"os"

	"golang.org/x/sys/windows"
)

// Windows delivers no SIGTERM; only Ctrl+C reaches the broker gracefully.
func gracefulSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// processIsAlive waits on the process handle with a zero timeout. A handle
// that is not yet signaled belongs to a running process.
func processIsAlive(proc *os.Process) bool {
	h, err := windows.OpenProcess(windows.SYNCHRONIZE, false, uint32(proc.Pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(h)

	event, err := windows.WaitForSingleObject(h, 0)
	return err == nil && event == uint32(windows.WAIT_TIMEOUT)
}

// sendGracefulStop terminates the process. The audit buffer is not flushed.
func sendGracefulStop(proc *os.Process) error {
	return proc.Kill()
}
