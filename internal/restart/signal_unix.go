//go:build !windows

package restart

import (
	"os"
	"syscall"
)

// SelfSignalFunc returns the signalFunc for New on unix-like platforms: a
// real SIGUSR1 delivered to the current process, caught by the launcher's
// signal.Notify loop.
func SelfSignalFunc() func() error {
	return func() error {
		p, err := os.FindProcess(os.Getpid())
		if err != nil {
			return err
		}
		return p.Signal(syscall.SIGUSR1)
	}
}
