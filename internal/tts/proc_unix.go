//go:build unix

package tts

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// isolate starts the child in its own process group and makes cancellation
// kill the whole group, so interpreter workers do not outlive a timeout.
func isolate(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
}
