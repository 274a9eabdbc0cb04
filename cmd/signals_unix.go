//go:build !windows

package cmd

import (
	"os"
	"os/exec"
	"syscall"
)

// stopSignals cancel a running review, MCP session or API server.
var stopSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}

// detach starts the background server in its own session so it survives
// the terminal that launched it.
func detach(c *exec.Cmd) {
	c.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

func termSignal() syscall.Signal { return syscall.SIGTERM }

func killSignal() syscall.Signal { return syscall.SIGKILL }
