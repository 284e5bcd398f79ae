// Package activation detects systemd socket activation, so the trigger
// server can inherit its listener from the service manager instead of
// binding one itself.
package activation

import (
	"fmt"
	"net"
	"os"
	"strconv"
)

// Systemd passes activated file descriptors starting at fd 3
// (0=stdin, 1=stdout, 2=stderr).
const firstActivationFD = 3

// Listeners returns the systemd-activated listeners, if any. It returns
// (nil, nil) when no socket activation is detected or when the activation
// targets a different process.
func Listeners() ([]net.Listener, error) {
	numFDs, err := activatedFDs()
	if err != nil || numFDs == 0 {
		return nil, err
	}

	listeners := make([]net.Listener, 0, numFDs)
	for i := 0; i < numFDs; i++ {
		fd := firstActivationFD + i
		file := os.NewFile(uintptr(fd), fmt.Sprintf("systemd-socket-%d", i))
		if file == nil {
			return nil, fmt.Errorf("failed to create file for fd %d", fd)
		}

		listener, err := net.FileListener(file)
		if err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("failed to create listener from fd %d: %w", fd, err)
		}

		// Listener takes ownership of the descriptor.
		_ = file.Close()

		listeners = append(listeners, listener)
	}

	// Unset the environment so child processes don't inherit the fds.
	_ = os.Unsetenv("LISTEN_PID")
	_ = os.Unsetenv("LISTEN_FDS")
	_ = os.Unsetenv("LISTEN_FDNAMES")

	return listeners, nil
}

// activatedFDs parses the LISTEN_PID/LISTEN_FDS environment and returns the
// number of descriptors passed to this process, or 0 when activation is
// absent or addressed elsewhere.
func activatedFDs() (int, error) {
	pidStr := os.Getenv("LISTEN_PID")
	if pidStr == "" {
		return 0, nil
	}

	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("invalid LISTEN_PID %q: %w", pidStr, err)
	}
	if pid != os.Getpid() {
		// Activation is for a different process.
		return 0, nil
	}

	fdsStr := os.Getenv("LISTEN_FDS")
	if fdsStr == "" {
		return 0, nil
	}

	numFDs, err := strconv.Atoi(fdsStr)
	if err != nil {
		return 0, fmt.Errorf("invalid LISTEN_FDS %q: %w", fdsStr, err)
	}
	if numFDs < 1 {
		return 0, nil
	}

	return numFDs, nil
}
