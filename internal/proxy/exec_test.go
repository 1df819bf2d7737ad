//go:build unix

package proxy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	corelog "byedpi-core/internal/core/log"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ciadpi")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := NewConfig(baseProxy())
	require.NoError(t, err)
	return cfg
}

func TestExecEngineExitCode(t *testing.T) {
	bin := writeScript(t, `echo "listening $1"; exit 3`)
	e := NewExecEngine(bin, corelog.NewTestLogger(t))
	assert.Equal(t, 3, e.Run(context.Background(), testConfig(t)))
}

func TestExecEngineLaunchFailure(t *testing.T) {
	e := NewExecEngine(filepath.Join(t.TempDir(), "missing"), corelog.NewTestLogger(t))
	assert.Equal(t, ExitLaunchFailed, e.Run(context.Background(), testConfig(t)))
}

func TestExecEngineStop(t *testing.T) {
	bin := writeScript(t, `trap 'exit 0' TERM; while :; do sleep 0.05; done`)
	e := NewExecEngine(bin, corelog.NewTestLogger(t))

	exit := make(chan int, 1)
	go func() { exit <- e.Run(context.Background(), testConfig(t)) }()

	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.cmd != nil
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, e.Stop())
	assert.Equal(t, ExitOK, waitExit(t, exit))
}

func TestExecEngineForceTerminate(t *testing.T) {
	bin := writeScript(t, `trap '' TERM; while :; do sleep 0.05; done`)
	e := NewExecEngine(bin, corelog.NewTestLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	exit := make(chan int, 1)
	go func() { exit <- e.Run(ctx, testConfig(t)) }()

	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.cmd != nil
	}, 2*time.Second, 10*time.Millisecond)

	// 忽略 SIGTERM 的进程只能被强制结束
	cancel()
	select {
	case <-exit:
		t.Fatal("process exited although it ignores SIGTERM")
	case <-time.After(200 * time.Millisecond):
	}

	e.ForceTerminate()
	assert.Equal(t, ExitKilled, waitExit(t, exit))
}

func TestExecEngineStopWhenIdle(t *testing.T) {
	e := NewExecEngine("ciadpi", nil)
	assert.NoError(t, e.Stop())
	e.ForceTerminate()
}

func TestLineWriter(t *testing.T) {
	rec := &recorder{}
	w := &lineWriter{logger: corelog.NewTestLogger(rec), prefix: "p: "}

	_, _ = w.Write([]byte("first\nsec"))
	_, _ = w.Write([]byte("ond\n\nthird"))
	w.Flush()

	assert.Equal(t, []string{"[INFO] p: first", "[INFO] p: second", "[INFO] p: third"}, rec.lines)
}

type recorder struct {
	lines []string
}

func (r *recorder) Log(args ...interface{}) {
	r.lines = append(r.lines, args[0].(string))
}

func (r *recorder) Logf(format string, args ...interface{}) {}
