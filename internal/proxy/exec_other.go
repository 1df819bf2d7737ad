//go:build !unix

package proxy

import (
	"os"
	"os/exec"
)

func prepareCommand(cmd *exec.Cmd) {}

// 没有 SIGTERM 的平台直接结束进程
func terminate(p *os.Process) error {
	return p.Kill()
}

func kill(p *os.Process) error {
	return p.Kill()
}

func reapGroup(p *os.Process) {}
