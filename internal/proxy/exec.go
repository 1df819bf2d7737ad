package proxy

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"

	corelog "byedpi-core/internal/core/log"
)

// ExecEngine 以子进程方式运行 ciadpi 兼容的代理二进制
type ExecEngine struct {
	binary string
	logger corelog.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	requested atomic.Bool
	killed    atomic.Bool
}

// NewExecEngine 创建外部进程引擎
func NewExecEngine(binary string, logger corelog.Logger) *ExecEngine {
	return &ExecEngine{
		binary: binary,
		logger: corelog.OrDefault(logger, "proxy"),
	}
}

// Run 实现 Engine
func (e *ExecEngine) Run(ctx context.Context, cfg *Config) int {
	if ctx.Err() != nil {
		return ExitOK
	}

	cmd := exec.Command(e.binary, cfg.Args()...)
	out := &lineWriter{logger: e.logger, prefix: "ProxyProcess: "}
	cmd.Stdout = out
	cmd.Stderr = out
	prepareCommand(cmd)

	e.logger.Infof("ExecEngine: starting %s %s", e.binary, strings.Join(cfg.Args(), " "))

	if err := cmd.Start(); err != nil {
		e.logger.Errorf("ExecEngine: failed to start %s: %v", e.binary, err)
		return ExitLaunchFailed
	}

	e.mu.Lock()
	e.cmd = cmd
	e.mu.Unlock()

	waitDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = e.Stop()
		case <-waitDone:
		}
	}()

	err := cmd.Wait()
	close(waitDone)
	if e.requested.Load() {
		reapGroup(cmd.Process)
	}
	out.Flush()

	e.mu.Lock()
	e.cmd = nil
	e.mu.Unlock()

	code := exitCode(err)
	switch {
	case e.killed.Load():
		e.logger.Warnf("ExecEngine: process %d was killed", cmd.Process.Pid)
		return ExitKilled
	case e.requested.Load() && code != ExitOK:
		// 收到 SIGTERM 后的退出视为正常停止
		e.logger.Infof("ExecEngine: process %d stopped on request (status %d)", cmd.Process.Pid, code)
		return ExitOK
	}

	e.logger.Infof("ExecEngine: process %d exited with code %d", cmd.Process.Pid, code)
	return code
}

// Stop 发送终止信号
func (e *ExecEngine) Stop() error {
	e.mu.Lock()
	cmd := e.cmd
	e.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	e.requested.Store(true)
	return terminate(cmd.Process)
}

// ForceTerminate 杀死子进程
func (e *ExecEngine) ForceTerminate() {
	e.mu.Lock()
	cmd := e.cmd
	e.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	e.requested.Store(true)
	e.killed.Store(true)
	if err := kill(cmd.Process); err != nil {
		e.logger.Debugf("ExecEngine: kill failed: %v", err)
	}
}

func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
		return ExitFailure
	}
	return ExitFailure
}

// lineWriter 把子进程输出按行写入日志
type lineWriter struct {
	logger corelog.Logger
	prefix string

	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// 不完整的行放回缓冲区
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		if trimmed := strings.TrimRight(line, "\r\n"); trimmed != "" {
			w.logger.Info(w.prefix + trimmed)
		}
	}
	return len(p), nil
}

// Flush 输出剩余的不完整行
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if rest := strings.TrimSpace(w.buf.String()); rest != "" {
		w.logger.Info(w.prefix + rest)
	}
	w.buf.Reset()
}
