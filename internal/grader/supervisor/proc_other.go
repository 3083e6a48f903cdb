//go:build !unix

package supervisor

import (
	"os/exec"
	"syscall"
)

func buildSysProcAttr() *syscall.SysProcAttr {
	return nil
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
