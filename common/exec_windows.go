//go:build windows

package common

import (
	"os/exec"
	"syscall"
)

// HideConsole keeps a child process from opening a console window.
func HideConsole(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.HideWindow = true
}
