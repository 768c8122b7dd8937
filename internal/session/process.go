package session

import (
	"errors"
	"os"
	"os/exec"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// ptySize is the terminal size workers see in pty mode.
var ptySize = pty.Winsize{Rows: 50, Cols: 200}

// startPTY starts cmd as a session leader on a new pty and returns the
// master side. The child's process group id equals its pid.
func startPTY(cmd *exec.Cmd) (*os.File, error) {
	return pty.StartWithSize(cmd, &ptySize)
}

// processAlive reports whether pid exists (signal 0 probe).
func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// killGroup sends SIGTERM to the process group led by pid and escalates
// to SIGKILL after grace.
func killGroup(pid int, grace time.Duration) error {
	if err := unix.Kill(-pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		return unix.Kill(-pid, unix.SIGKILL)
	}
	go func() {
		time.Sleep(grace)
		// ESRCH from a group that already exited is harmless.
		_ = unix.Kill(-pid, unix.SIGKILL)
	}()
	return nil
}
