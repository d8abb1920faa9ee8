// Package osutil collects small OS-facing helpers: process launching with
// group-kill semantics, path helpers, and existence checks.
package osutil

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Command builds an *exec.Cmd that runs in its own process group, so that
// KillGroup can take down any grandchildren the hypervisor itself spawns.
func Command(name string, args ...string) *exec.Cmd {
	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

// CommandContext is Command, additionally killed if ctx is done before the
// process exits.
func CommandContext(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

// KillGroup sends SIGKILL to the process group of a command started with
// Command. It is safe to call more than once and on an already-dead process.
func KillGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	if err == unix.ESRCH {
		return nil
	}
	return err
}

// IsExist reports whether path refers to an existing filesystem entry.
func IsExist(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Abs returns the absolute form of path, or path unchanged if it cannot be
// resolved.
func Abs(path string) string {
	if path == "" {
		return path
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// WaitTick is the polling interval used throughout the harness for
// cooperative status polling (child exit status, monitor socket
// appearance).
const WaitTick = 100 * time.Millisecond
