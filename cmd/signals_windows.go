//go:build windows

package cmd

import (
	"os"
	"os/exec"
	"syscall"
)

// Windows has no SIGTERM delivery; os.Interrupt is all a console sends.
var stopSignals = []os.Signal{os.Interrupt}

func detach(c *exec.Cmd) {
	c.SysProcAttr = &syscall.SysProcAttr{CreationFlags: 0x00000200} // CREATE_NEW_PROCESS_GROUP
}

// Both stop paths kill on Windows.
func termSignal() syscall.Signal { return syscall.SIGKILL }

func killSignal() syscall.Signal { return syscall.SIGKILL }
