package service

import (
	"context"
	"sync/atomic"

	"byedpi-core/internal/config/schema"
	"byedpi-core/internal/core/dispose"
	corelog "byedpi-core/internal/core/log"
	"byedpi-core/internal/health"
	"byedpi-core/internal/netif"
	"byedpi-core/internal/proxy"
	"byedpi-core/internal/tunnel"
)

// 会话资源名，释放顺序与注册顺序相反
const (
	resourceInterface = "interface"
	resourceProxy     = "proxy"
	resourceAdapter   = "adapter"
)

// proxyTask 正在运行的代理引擎
type proxyTask struct {
	done chan struct{}
	code int
}

func (t *proxyTask) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// session 一次启动周期内的全部资源
type session struct {
	id     string
	mode   string
	cfg    *schema.Root
	logger corelog.Logger

	// ctx 在拆除开始时取消，延迟探测据此放弃
	ctx    context.Context
	cancel context.CancelFunc
	// proxyCtx 只在停止代理时取消，保证适配器先于代理停止
	proxyCtx    context.Context
	proxyCancel context.CancelFunc

	proxyCfg  *proxy.Config
	tunnelCfg *tunnel.Config
	netifCfg  *netif.Config
	prober    health.Prober

	engine    proxy.Engine
	task      *proxyTask
	handle    netif.Handle
	adapter   *tunnel.Running
	// probeDone 延迟探测协程退出时关闭
	probeDone chan struct{}

	resources *dispose.ResourceManager
	stopping  atomic.Bool
}

func newSession(parent context.Context, id string, cfg *schema.Root, logger corelog.Logger) *session {
	ctx, cancel := context.WithCancel(parent)
	proxyCtx, proxyCancel := context.WithCancel(parent)
	return &session{
		id:          id,
		mode:        cfg.Service.Mode,
		cfg:         cfg,
		logger:      logger.WithField("session", id),
		ctx:         ctx,
		cancel:      cancel,
		proxyCtx:    proxyCtx,
		proxyCancel: proxyCancel,
		probeDone:   make(chan struct{}),
		resources:   dispose.NewResourceManager(),
	}
}

func (s *session) vpn() bool {
	return s.mode != schema.ModeProxy
}

func (s *session) interfaceFD() int {
	if s.handle == nil {
		return -1
	}
	return s.handle.FD()
}
