//go:build windows

package restart

// SelfSignalFunc returns the signalFunc for New on Windows, where SIGUSR1
// does not exist. The cooperative equivalent is a non-blocking send on an
// internal buffered channel rather than an OS signal; RestartRequested
// exposes the receiving end.
var restartRequested = make(chan struct{}, 1)

func SelfSignalFunc() func() error {
	return func() error {
		select {
		case restartRequested <- struct{}{}:
		default:
		}
		return nil
	}
}

// RestartRequested returns the channel SelfSignalFunc sends on, the Windows
// stand-in for a SIGUSR1 signal.Notify channel.
func RestartRequested() <-chan struct{} {
	return restartRequested
}
