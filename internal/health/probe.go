package health

import (
	"context"
	"io"
	"net"
	"time"

	"golang.org/x/net/proxy"

	coreerrors "byedpi-core/internal/core/errors"
	"byedpi-core/internal/proxy/socks5"
)

// Prober 代理就绪探测
type Prober interface {
	// Probe 在 timeout 内确认 address 可以接受连接
	Probe(ctx context.Context, address string, timeout time.Duration) error
}

// ProberFunc 把函数适配为 Prober
type ProberFunc func(ctx context.Context, address string, timeout time.Duration) error

func (f ProberFunc) Probe(ctx context.Context, address string, timeout time.Duration) error {
	return f(ctx, address, timeout)
}

// DialProbe 通过 TCP 连接探测代理端口
// Handshake 为 true 时还要完成 SOCKS5 no-auth 协商；Target 非空时再经由代理 CONNECT 到 Target
type DialProbe struct {
	Handshake bool
	Target    string
}

// NewDialProbe 创建 TCP 探测器
func NewDialProbe() *DialProbe {
	return &DialProbe{}
}

// NewSOCKSProbe 创建带 SOCKS5 握手的探测器，target 可为空
func NewSOCKSProbe(target string) *DialProbe {
	return &DialProbe{Handshake: true, Target: target}
}

// Probe 执行一次有界的连接检查
func (p *DialProbe) Probe(ctx context.Context, address string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	forward := &net.Dialer{}

	if !p.Handshake {
		conn, err := forward.DialContext(ctx, "tcp", address)
		if err != nil {
			return classify(ctx, err, address)
		}
		return conn.Close()
	}

	if p.Target == "" {
		return greet(ctx, forward, address)
	}

	dialer, err := proxy.SOCKS5("tcp", address, nil, forward)
	if err != nil {
		return coreerrors.Wrapf(err, coreerrors.CodeHealthCheckFailed, "socks5 dialer for %s", address)
	}
	ctxDialer, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return coreerrors.New(coreerrors.CodeHealthCheckFailed, "socks5 dialer does not support context")
	}
	conn, err := ctxDialer.DialContext(ctx, "tcp", p.Target)
	if err != nil {
		return classify(ctx, err, address)
	}
	return conn.Close()
}

// greet 只完成方法协商，不发起 CONNECT
func greet(ctx context.Context, d *net.Dialer, address string) error {
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return classify(ctx, err, address)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := conn.Write([]byte{socks5.Version, 1, socks5.AuthNone}); err != nil {
		return classify(ctx, err, address)
	}
	reply := make([]byte, 2)
	if _, err := io.ReadFull(conn, reply); err != nil {
		return classify(ctx, err, address)
	}
	if reply[0] != socks5.Version || reply[1] != socks5.AuthNone {
		return coreerrors.Newf(coreerrors.CodeHealthCheckFailed,
			"proxy %s rejected no-auth greeting (%#02x %#02x)", address, reply[0], reply[1])
	}
	return nil
}

func classify(ctx context.Context, err error, address string) error {
	if ctx.Err() == context.DeadlineExceeded {
		return coreerrors.Wrapf(err, coreerrors.CodeHealthCheckFailed, "proxy %s not reachable in time", address)
	}
	return coreerrors.Wrapf(err, coreerrors.CodeHealthCheckFailed, "proxy %s not reachable", address)
}

// ProbeChecker 把 Prober 包装成 HealthChecker，用于状态查询
type ProbeChecker struct {
	name    string
	prober  Prober
	address func() string
	timeout time.Duration
}

// NewProbeChecker 创建探测检查器，address 为空时报告降级
func NewProbeChecker(name string, prober Prober, address func() string, timeout time.Duration) *ProbeChecker {
	return &ProbeChecker{name: name, prober: prober, address: address, timeout: timeout}
}

// Check 执行检查
func (c *ProbeChecker) Check(ctx context.Context) (*ComponentHealth, error) {
	addr := c.address()
	if addr == "" {
		return &ComponentHealth{
			Name:      c.name,
			Status:    ComponentStatusDegraded,
			Message:   "not running",
			LastCheck: time.Now(),
		}, nil
	}

	start := time.Now()
	if err := c.prober.Probe(ctx, addr, c.timeout); err != nil {
		return &ComponentHealth{
			Name:      c.name,
			Status:    ComponentStatusUnhealthy,
			Message:   err.Error(),
			LastCheck: time.Now(),
		}, nil
	}
	return &ComponentHealth{
		Name:      c.name,
		Status:    ComponentStatusHealthy,
		Latency:   time.Since(start),
		LastCheck: time.Now(),
	}, nil
}
