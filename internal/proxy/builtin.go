package proxy

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"byedpi-core/internal/core/dispose"
	corelog "byedpi-core/internal/core/log"
	"byedpi-core/internal/core/metrics"
	"byedpi-core/internal/proxy/socks5"
)

const (
	handshakeTimeout = 30 * time.Second
	dialTimeout      = 10 * time.Second

	// 接受速率限制，防止本地突发连接耗尽文件描述符
	acceptRate  = 1000
	acceptBurst = 200
)

// BuiltinEngine 进程内 SOCKS5 直连转发引擎
//
// 不做任何 DPI 规避，仅用于没有外部 ciadpi 二进制时保持链路可用。
// 出站连接会应用配置中的默认 TTL。
type BuiltinEngine struct {
	logger corelog.Logger

	mu       sync.Mutex
	svc      *dispose.ServiceBase
	addr     net.Addr
	conns    map[net.Conn]struct{}
	stopping atomic.Bool
	ready    chan struct{}
}

// NewBuiltinEngine 创建内置引擎
func NewBuiltinEngine(logger corelog.Logger) *BuiltinEngine {
	return &BuiltinEngine{
		logger: corelog.OrDefault(logger, "proxy"),
		conns:  make(map[net.Conn]struct{}),
		ready:  make(chan struct{}),
	}
}

// Ready 监听成功后关闭
func (e *BuiltinEngine) Ready() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

// Addr 实际监听地址，未运行时为 nil
func (e *BuiltinEngine) Addr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addr
}

// Run 实现 Engine
func (e *BuiltinEngine) Run(ctx context.Context, cfg *Config) int {
	ln, err := net.Listen("tcp", cfg.Address())
	if err != nil {
		e.logger.Errorf("SOCKS5Engine: failed to listen on %s: %v", cfg.Address(), err)
		return ExitListenFailed
	}

	svc := dispose.NewService("SOCKS5Engine", ctx)
	svc.AddCleanHandler(ln.Close)

	e.mu.Lock()
	e.svc = svc
	e.addr = ln.Addr()
	ready := e.ready
	e.mu.Unlock()
	close(ready)

	// Run 之前已经收到 Stop
	if e.stopping.Load() {
		svc.Close()
	}

	e.logger.Infof("SOCKS5Engine: listening on %s", ln.Addr())

	limiter := rate.NewLimiter(rate.Limit(acceptRate), acceptBurst)
	var slots chan struct{}
	if cfg.MaxConnections() > 0 {
		slots = make(chan struct{}, cfg.MaxConnections())
	}

	dialer := &net.Dialer{
		Timeout: dialTimeout,
		Control: ttlControl(cfg.DefaultTTL()),
	}

	var g errgroup.Group
	code := ExitOK

	for {
		if err := limiter.Wait(svc.Ctx()); err != nil {
			break
		}

		conn, err := ln.Accept()
		if err != nil {
			if e.stopping.Load() || svc.IsClosed() || svc.Ctx().Err() != nil {
				break
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			e.logger.Errorf("SOCKS5Engine: accept failed: %v", err)
			code = ExitFailure
			break
		}

		if slots != nil {
			select {
			case slots <- struct{}{}:
			default:
				e.logger.Warnf("SOCKS5Engine: connection limit %d reached, rejecting %s",
					cfg.MaxConnections(), conn.RemoteAddr())
				_ = conn.Close()
				continue
			}
		}

		e.track(conn)
		g.Go(func() error {
			defer func() {
				e.untrack(conn)
				if slots != nil {
					<-slots
				}
			}()
			e.handle(svc.Ctx(), conn, dialer, cfg.BufferSize())
			return nil
		})
	}

	svc.Close()
	_ = g.Wait()

	e.mu.Lock()
	e.svc = nil
	e.addr = nil
	e.ready = make(chan struct{})
	e.mu.Unlock()
	e.stopping.Store(false)

	e.logger.Infof("SOCKS5Engine: stopped with code %d", code)
	return code
}

// Stop 关闭监听，已建立的连接继续转发直到结束
func (e *BuiltinEngine) Stop() error {
	e.stopping.Store(true)
	e.mu.Lock()
	svc := e.svc
	e.mu.Unlock()
	if svc == nil {
		return nil
	}
	return svc.CloseWithError()
}

// ForceTerminate 关闭监听和全部连接
func (e *BuiltinEngine) ForceTerminate() {
	_ = e.Stop()

	e.mu.Lock()
	conns := make([]net.Conn, 0, len(e.conns))
	for c := range e.conns {
		conns = append(conns, c)
	}
	e.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	if len(conns) > 0 {
		e.logger.Warnf("SOCKS5Engine: force closed %d connections", len(conns))
	}
}

func (e *BuiltinEngine) track(c net.Conn) {
	e.mu.Lock()
	e.conns[c] = struct{}{}
	e.mu.Unlock()
}

func (e *BuiltinEngine) untrack(c net.Conn) {
	e.mu.Lock()
	delete(e.conns, c)
	e.mu.Unlock()
	_ = c.Close()
}

func (e *BuiltinEngine) handle(ctx context.Context, conn net.Conn, dialer *net.Dialer, bufSize int) {
	_ = conn.SetDeadline(time.Now().Add(handshakeTimeout))

	req, err := socks5.Handshake(conn)
	if err != nil {
		e.logger.Debugf("SOCKS5Engine: handshake failed from %s: %v", conn.RemoteAddr(), err)
		return
	}

	remote, err := dialer.DialContext(ctx, "tcp", req.Address())
	if err != nil {
		e.logger.Debugf("SOCKS5Engine: CONNECT %s failed: %v", req.Address(), err)
		_ = socks5.SendError(conn, socks5.ReplyForError(err))
		return
	}
	defer remote.Close()

	if err := socks5.SendSuccess(conn); err != nil {
		return
	}
	_ = conn.SetDeadline(time.Time{})

	e.mu.Lock()
	e.conns[remote] = struct{}{}
	e.mu.Unlock()
	defer e.untrack(remote)

	metrics.RelayOpened()
	sent, received := relay(conn, remote, bufSize)
	metrics.RelayClosed(sent, received)
	e.logger.Debugf("SOCKS5Engine: %s closed, sent=%d received=%d", req.Address(), sent, received)
}
