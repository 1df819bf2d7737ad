//go:build unix

package proxy

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func prepareCommand(cmd *exec.Cmd) {
	// 独立进程组，终端的 SIGINT 不会直接打到子进程，停止时按组发信号
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminate(p *os.Process) error {
	return signalGroup(p, unix.SIGTERM)
}

func kill(p *os.Process) error {
	return signalGroup(p, unix.SIGKILL)
}

// reapGroup 结束主进程退出后残留的组内进程
func reapGroup(p *os.Process) {
	_ = unix.Kill(-p.Pid, unix.SIGKILL)
}

func signalGroup(p *os.Process, sig unix.Signal) error {
	if err := unix.Kill(-p.Pid, sig); err != nil {
		// 进程组已不存在时退回到单个进程
		return p.Signal(sig)
	}
	return nil
}
