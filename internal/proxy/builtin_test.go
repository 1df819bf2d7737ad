package proxy

import (
	"context"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/proxy"

	"byedpi-core/internal/config/schema"
	corelog "byedpi-core/internal/core/log"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func startEcho(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				_, _ = io.Copy(c, c)
			}()
		}
	}()
	return ln.Addr().String()
}

func startBuiltin(t *testing.T, mutate func(p *schema.ProxyConfig)) (*BuiltinEngine, *Config, <-chan int) {
	t.Helper()
	p := baseProxy()
	p.Engine = schema.EngineBuiltin
	p.Port = freePort(t)
	if mutate != nil {
		mutate(&p)
	}
	cfg, err := NewConfig(p)
	require.NoError(t, err)

	e := NewBuiltinEngine(corelog.NewTestLogger(t))
	ready := e.Ready()
	exit := make(chan int, 1)
	go func() { exit <- e.Run(context.Background(), cfg) }()

	select {
	case <-ready:
	case code := <-exit:
		t.Fatalf("engine exited early with %d", code)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not become ready")
	}
	return e, cfg, exit
}

func waitExit(t *testing.T, exit <-chan int) int {
	t.Helper()
	select {
	case code := <-exit:
		return code
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not exit")
		return -1
	}
}

func TestBuiltinEngineRelay(t *testing.T) {
	echo := startEcho(t)
	e, cfg, exit := startBuiltin(t, nil)
	assert.Equal(t, cfg.Address(), e.Addr().String())

	dialer, err := proxy.SOCKS5("tcp", cfg.Address(), nil, proxy.Direct)
	require.NoError(t, err)

	conn, err := dialer.Dial("tcp", echo)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello"))
	require.NoError(t, err)
	buf := make([]byte, 5)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))

	conn.Close()
	require.NoError(t, e.Stop())
	assert.Equal(t, ExitOK, waitExit(t, exit))
	assert.Nil(t, e.Addr())
}

func TestBuiltinEngineConnectRefused(t *testing.T) {
	e, cfg, exit := startBuiltin(t, nil)

	dialer, err := proxy.SOCKS5("tcp", cfg.Address(), nil, proxy.Direct)
	require.NoError(t, err)

	_, err = dialer.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(freePort(t))))
	assert.Error(t, err)

	// 失败的 CONNECT 不影响后续连接
	c, err := net.DialTimeout("tcp", cfg.Address(), time.Second)
	require.NoError(t, err)
	c.Close()

	require.NoError(t, e.Stop())
	assert.Equal(t, ExitOK, waitExit(t, exit))
}

func TestBuiltinEngineContextCancel(t *testing.T) {
	p := baseProxy()
	p.Engine = schema.EngineBuiltin
	p.Port = freePort(t)
	cfg, err := NewConfig(p)
	require.NoError(t, err)

	e := NewBuiltinEngine(corelog.NewTestLogger(t))
	ready := e.Ready()
	ctx, cancel := context.WithCancel(context.Background())
	exit := make(chan int, 1)
	go func() { exit <- e.Run(ctx, cfg) }()
	<-ready

	cancel()
	assert.Equal(t, ExitOK, waitExit(t, exit))
}

func TestBuiltinEngineForceTerminate(t *testing.T) {
	echo := startEcho(t)
	e, cfg, exit := startBuiltin(t, nil)

	dialer, err := proxy.SOCKS5("tcp", cfg.Address(), nil, proxy.Direct)
	require.NoError(t, err)
	conn, err := dialer.Dial("tcp", echo)
	require.NoError(t, err)
	defer conn.Close()

	// 协作式停止不会打断正在转发的连接
	require.NoError(t, e.Stop())
	select {
	case <-exit:
		t.Fatal("engine exited while a connection was still open")
	case <-time.After(100 * time.Millisecond):
	}

	e.ForceTerminate()
	assert.Equal(t, ExitOK, waitExit(t, exit))

	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestBuiltinEngineListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	p := baseProxy()
	p.Port = ln.Addr().(*net.TCPAddr).Port
	cfg, err := NewConfig(p)
	require.NoError(t, err)

	e := NewBuiltinEngine(corelog.NewTestLogger(t))
	assert.Equal(t, ExitListenFailed, e.Run(context.Background(), cfg))
}

func TestBuiltinEngineStopBeforeRun(t *testing.T) {
	p := baseProxy()
	p.Port = freePort(t)
	cfg, err := NewConfig(p)
	require.NoError(t, err)

	e := NewBuiltinEngine(corelog.NewTestLogger(t))
	require.NoError(t, e.Stop())
	assert.Equal(t, ExitOK, e.Run(context.Background(), cfg))
}

