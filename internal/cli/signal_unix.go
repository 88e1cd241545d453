//go:build unix

package cli

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// signalName returns the SIG* name for sig, or its number.
func signalName(sig int) string {
	if name := unix.SignalName(syscall.Signal(sig)); name != "" {
		return name
	}
	return fmt.Sprintf("signal %d", sig)
}

// isRoot reports whether the process runs with an effective uid of 0.
func isRoot() bool { return unix.Geteuid() == 0 }
