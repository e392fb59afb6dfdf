//go:build !windows

package launcher

import (
	"os/exec"
	"syscall"
)

// detach starts the child in a new session, the programmatic form of
// `nohup cmd &`: no controlling terminal, no SIGHUP from ours.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
