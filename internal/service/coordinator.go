// Package service 代理引擎和隧道适配器的生命周期协调
//
// Coordinator 负责状态机和互斥：Start 依次建立网卡、启动代理，
// 然后在锁外等待代理就绪并探测，探测通过后启动隧道适配器。
// Stop 在锁内按 适配器 → 代理 → 网卡 的顺序拆除，代理停止有时间上限，
// 超时后强制终止。
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"byedpi-core/internal/config/schema"
	"byedpi-core/internal/core/dispose"
	coreerrors "byedpi-core/internal/core/errors"
	"byedpi-core/internal/core/events"
	corelog "byedpi-core/internal/core/log"
	"byedpi-core/internal/core/metrics"
	"byedpi-core/internal/netif"
	"byedpi-core/internal/proxy"
	"byedpi-core/internal/tunnel"
	"byedpi-core/internal/utils"
)

// Coordinator 服务生命周期协调器
type Coordinator struct {
	*dispose.ServiceBase

	opts    Options
	logger  corelog.Logger
	bus     events.EventBus
	ownsBus bool
	status  *StatusHolder

	provisioner *netif.Provisioner

	// lifecycleMu 保护 session、proxyTask 和全部状态转换
	lifecycleMu sync.Mutex
	session     *session
	proxyTask   *proxyTask
	closed      bool
}

// NewCoordinator 创建协调器
func NewCoordinator(ctx context.Context, opts Options) (*Coordinator, error) {
	if opts.Preferences == nil {
		return nil, coreerrors.New(coreerrors.CodeInvalidParam, "preferences are required")
	}
	opts.Logger = corelog.OrDefault(opts.Logger, "service")
	opts.applyDefaults()

	c := &Coordinator{
		ServiceBase: dispose.NewService("Coordinator", ctx),
		opts:        opts,
		logger:      opts.Logger,
		status:      newStatusHolder(),
		provisioner: netif.NewProvisioner(opts.Logger),
	}

	c.bus = opts.Bus
	if c.bus == nil {
		c.bus = events.NewEventBusWithLogger(c.Ctx(), opts.Logger)
		c.ownsBus = true
	}

	return c, nil
}

// Bus 状态事件总线
func (c *Coordinator) Bus() events.EventBus {
	return c.bus
}

// Subscribe 订阅状态事件，返回的函数用于取消订阅
func (c *Coordinator) Subscribe(fn func(*events.StatusEvent)) (func(), error) {
	id, err := c.bus.Subscribe(events.TypeServiceStatus, func(e events.Event) error {
		if se, ok := e.(*events.StatusEvent); ok {
			fn(se)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return func() {
		_ = c.bus.Unsubscribe(events.TypeServiceStatus, id)
	}, nil
}

// Status 当前对外状态
func (c *Coordinator) Status() Status {
	return c.status.Status()
}

// Snapshot 当前完整状态
func (c *Coordinator) Snapshot() Snapshot {
	return c.status.Snapshot()
}

// ============================================================================
// Start
// ============================================================================

// Start 开始一次启动周期
//
// 返回 nil 表示启动已被接受，最终结果通过状态事件通知。
// 已连接时返回 ErrAlreadyConnected，启动进行中返回 ErrAlreadyRunning，状态均不变。
// 配置、网卡和代理启动错误会先拆除已获取的资源，将状态置为 Failed 后返回。
func (c *Coordinator) Start(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.closed {
		return coreerrors.ErrServiceClosed
	}
	if c.status.Status() == StatusConnected {
		c.logger.Warn("Coordinator: start ignored, already connected")
		return coreerrors.ErrAlreadyConnected
	}
	if c.session != nil || (c.proxyTask != nil && !c.proxyTask.finished()) {
		c.logger.Warn("Coordinator: start ignored, a session is already in progress")
		return coreerrors.ErrAlreadyRunning
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cfg, err := c.opts.Preferences()
	if err == nil {
		err = validatePreferences(cfg)
	}
	if err != nil {
		err = asCode(err, coreerrors.CodeConfigError, "failed to read preferences")
		return c.failLocked(nil, events.SourceCoordinator, err)
	}

	sess := newSession(c.Ctx(), uuid.NewString(), cfg, c.logger)
	c.session = sess

	if err := c.prepareLocked(sess); err != nil {
		return c.failLocked(sess, events.SourceCoordinator, err)
	}
	c.status.begin(sess.id, sess.mode, sess.proxyCfg.Address())
	metrics.RecordStart(sess.mode)
	sess.logger.Infof("Coordinator: starting in %s mode, proxy %s", sess.mode, sess.proxyCfg.Address())

	if sess.vpn() {
		if err := c.provisionLocked(sess); err != nil {
			return c.failLocked(sess, events.SourceInterface, err)
		}
	}

	if err := c.launchProxyLocked(sess); err != nil {
		return c.failLocked(sess, events.SourceProxy, err)
	}

	utils.Go(sess.logger, "probe-"+sess.id, func() { c.probeAndAttach(sess) })
	return nil
}

// prepareLocked 由偏好设置派生本次会话的不可变配置
func (c *Coordinator) prepareLocked(sess *session) error {
	var err error
	if sess.proxyCfg, err = proxy.NewConfig(sess.cfg.Proxy); err != nil {
		return err
	}
	if sess.vpn() {
		if sess.netifCfg, err = netif.NewConfig(sess.cfg.VPN); err != nil {
			return err
		}
		if sess.tunnelCfg, err = tunnel.NewConfig(sess.proxyCfg.IP(), sess.proxyCfg.Port(), sess.cfg.VPN); err != nil {
			return err
		}
	}

	sess.prober = c.opts.Prober
	if sess.prober == nil {
		sess.prober = proberFor(sess.cfg.Health)
	}
	return nil
}

func (c *Coordinator) provisionLocked(sess *session) error {
	builder, err := c.opts.Builders(sess.cfg.VPN)
	if err != nil {
		return asCode(err, coreerrors.CodeProvisionError, "failed to create interface builder")
	}

	handle, report, err := c.provisioner.Provision(builder, sess.netifCfg)
	if err != nil {
		return err
	}
	sess.handle = handle
	if report != nil && len(report.Skipped) > 0 {
		skipped := make([]string, 0, len(report.Skipped))
		for _, e := range report.Skipped {
			skipped = append(skipped, fmt.Sprintf("%s %s: %v", e.Kind, e.Value, e.Err))
		}
		c.status.setSkipped(skipped)
	}

	return sess.resources.RegisterFunc(resourceInterface, func() error {
		if err := handle.Close(); err != nil {
			return coreerrors.Wrap(err, coreerrors.CodeCleanupError, "failed to close interface")
		}
		sess.logger.Debug("Coordinator: interface closed")
		return nil
	})
}

func (c *Coordinator) launchProxyLocked(sess *session) error {
	engine, err := c.opts.Engines(sess.cfg.Proxy, sess.logger)
	if err != nil {
		return asCode(err, coreerrors.CodeEngineError, "failed to create proxy engine")
	}
	sess.engine = engine
	sess.task = c.newProxyTaskLocked()

	if err := sess.resources.RegisterFunc(resourceProxy, func() error {
		return c.stopProxy(sess)
	}); err != nil {
		return err
	}

	task := sess.task
	utils.Go(sess.logger, "proxy-"+sess.id, func() {
		code := proxy.ExitFailure
		func() {
			defer utils.Recover(sess.logger, "Coordinator: proxy engine", nil)
			code = engine.Run(sess.proxyCtx, sess.proxyCfg)
		}()
		task.code = code
		close(task.done)
		metrics.RecordProxyExit(code, sess.stopping.Load())

		_ = c.bus.Publish(events.NewProxyExitedEvent(sess.id, code, sess.stopping.Load()))
		c.onProxyExit(sess, code)
	})
	return nil
}

// newProxyTaskLocked 同一时刻只允许一个代理任务，违反即为调用方缺陷
func (c *Coordinator) newProxyTaskLocked() *proxyTask {
	if c.proxyTask != nil && !c.proxyTask.finished() {
		panic("service: proxy task already running")
	}
	c.proxyTask = &proxyTask{done: make(chan struct{})}
	return c.proxyTask
}

// ============================================================================
// 延迟探测和适配器启动
// ============================================================================

func (c *Coordinator) probeAndAttach(sess *session) {
	defer close(sess.probeDone)

	hc := sess.cfg.Health
	select {
	case <-time.After(hc.SettleDelay):
	case <-sess.ctx.Done():
		return
	}

	addr := sess.proxyCfg.Address()
	probeStart := time.Now()
	probeErr := sess.prober.Probe(sess.ctx, addr, hc.ProbeTimeout)
	metrics.RecordProbe(probeErr, time.Since(probeStart))

	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	// 会话已被拆除或已被替换
	if sess.ctx.Err() != nil || c.session != sess {
		sess.logger.Debug("Coordinator: probe result discarded for stale session")
		return
	}

	if probeErr != nil {
		sess.logger.Warnf("Coordinator: proxy %s failed health check: %v", addr, probeErr)
		_ = c.failLocked(sess, events.SourceHealth,
			asCode(probeErr, coreerrors.CodeHealthCheckFailed, "proxy health check failed"))
		return
	}

	source := events.SourceHealth
	if sess.vpn() {
		running, err := tunnel.Launch(c.opts.Adapter, sess.tunnelCfg, sess.interfaceFD(), c.opts.ArtifactDir, sess.logger)
		if err != nil {
			_ = c.failLocked(sess, events.SourceTunnel, err)
			return
		}
		sess.adapter = running
		if err := sess.resources.RegisterFunc(resourceAdapter, running.Stop); err != nil {
			_ = c.failLocked(sess, events.SourceTunnel, err)
			return
		}
		source = events.SourceTunnel
	}

	sess.logger.Infof("Coordinator: connected (%s mode)", sess.mode)
	c.completeLocked(source, StatusConnected, nil)
}

// ============================================================================
// 代理退出
// ============================================================================

func (c *Coordinator) onProxyExit(sess *session, code int) {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.session != sess || sess.stopping.Load() {
		return
	}

	if code == proxy.ExitOK {
		sess.logger.Info("Coordinator: proxy exited, tearing down")
		c.teardownLocked(sess)
		c.completeLocked(events.SourceProxy, StatusDisconnected, nil)
		return
	}

	err := coreerrors.Wrapf(coreerrors.ErrEngineCrashed, coreerrors.CodeEngineCrashed,
		"proxy exited with code %d", code)
	sess.logger.Errorf("Coordinator: %v", err)
	_ = c.failLocked(sess, events.SourceProxy, err)
}

// ============================================================================
// Stop
// ============================================================================

// Stop 任何状态下都可以调用
// Disconnected 时不做任何事，Failed 且无会话时清除为 Disconnected
func (c *Coordinator) Stop(ctx context.Context) error {
	return c.stop(events.SourceCoordinator)
}

// Revoke 系统撤销 VPN 授权时调用
func (c *Coordinator) Revoke() {
	c.logger.Warn("Coordinator: interface permission revoked")
	_ = c.stop(events.SourceRevoke)
}

func (c *Coordinator) stop(source string) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	return c.stopLocked(source)
}

func (c *Coordinator) stopLocked(source string) error {
	sess := c.session
	if sess == nil {
		switch c.status.Status() {
		case StatusDisconnected:
			return nil
		default:
			c.completeLocked(source, StatusDisconnected, nil)
			return nil
		}
	}

	start := time.Now()
	c.status.setPhase(PhaseStopping)
	sess.logger.Infof("Coordinator: stopping (%s)", source)

	c.teardownLocked(sess)
	c.completeLocked(source, StatusDisconnected, nil)

	elapsed := time.Since(start)
	metrics.ObserveStop(elapsed)
	sess.logger.Infof("Coordinator: stopped in %v", elapsed.Round(time.Millisecond))
	return nil
}

// Close 停止服务并释放事件总线，之后 Start 返回 ErrServiceClosed
func (c *Coordinator) Close() error {
	c.lifecycleMu.Lock()
	if c.closed {
		c.lifecycleMu.Unlock()
		return nil
	}
	sess := c.session
	_ = c.stopLocked(events.SourceCoordinator)
	c.closed = true
	c.lifecycleMu.Unlock()

	// 会话已取消，延迟探测最多再占用一个探测超时
	if sess != nil {
		select {
		case <-sess.probeDone:
		case <-time.After(sess.cfg.Health.ProbeTimeout):
			c.logger.Warnf("Coordinator: health check of session %s still running", sess.id)
		}
	}

	if c.ownsBus {
		if err := c.bus.Close(); err != nil {
			c.logger.Warnf("Coordinator: failed to close event bus: %v", err)
		}
	}
	return c.CloseWithError()
}

// ============================================================================
// 拆除
// ============================================================================

// teardownLocked 按注册的逆序释放会话资源，错误只记录
func (c *Coordinator) teardownLocked(sess *session) {
	sess.stopping.Store(true)
	// 延迟探测可能正在等锁，取消后它会自行退出
	sess.cancel()

	result := sess.resources.DisposeAll()
	for _, e := range result.Errors {
		sess.logger.Warnf("Coordinator: teardown of %s failed: %v", e.ResourceName, e.Err)
	}

	sess.proxyCancel()
	if c.proxyTask != nil && c.proxyTask.finished() {
		c.proxyTask = nil
	}
	if c.session == sess {
		c.session = nil
	}
}

// stopProxy 先协作停止，超出预算后强制终止
func (c *Coordinator) stopProxy(sess *session) error {
	task := sess.task
	if task == nil || sess.engine == nil {
		return nil
	}
	if task.finished() {
		return nil
	}

	sc := sess.cfg.Service
	if err := sess.engine.Stop(); err != nil {
		sess.logger.Warnf("Coordinator: proxy stop request failed: %v", err)
	}
	sess.proxyCancel()

	select {
	case <-task.done:
		return nil
	case <-time.After(sc.StopTimeout):
	}

	sess.logger.Warnf("Coordinator: proxy did not stop within %v, forcing", sc.StopTimeout)
	sess.engine.ForceTerminate()

	select {
	case <-task.done:
		return nil
	case <-time.After(sc.ForceGrace):
		return coreerrors.Newf(coreerrors.CodeTimeout,
			"proxy still running %v after forced termination", sc.ForceGrace)
	}
}

// ============================================================================
// 状态
// ============================================================================

// failLocked 拆除会话并进入 Failed，返回 err
func (c *Coordinator) failLocked(sess *session, source string, err error) error {
	if sess != nil {
		c.teardownLocked(sess)
	}
	c.completeLocked(source, StatusFailed, err)
	return err
}

func (c *Coordinator) completeLocked(source string, status Status, cause error) {
	prev := c.status.Snapshot()
	snap := c.status.complete(status, cause)

	sessionID := snap.SessionID
	if sessionID == "" {
		sessionID = prev.SessionID
	}
	c.logger.Infof("Coordinator: %s -> %s (source %s)", prev.Phase, status, source)
	metrics.RecordTransition(string(status), source)

	event := events.NewStatusEvent(source, string(status), snap.Mode, sessionID, cause)
	if err := c.bus.Publish(event); err != nil {
		c.logger.Debugf("Coordinator: status event dropped: %v", err)
	}
}

// asCode 保留已有错误码，否则用 code 包装
func asCode(err error, code coreerrors.ErrorCode, message string) error {
	var e *coreerrors.Error
	if coreerrors.As(err, &e) {
		return err
	}
	return coreerrors.Wrap(err, code, message)
}

// String 便于日志输出
func (s Snapshot) String() string {
	if s.LastError != "" {
		return fmt.Sprintf("%s (%s): %s", s.Status, s.Phase, s.LastError)
	}
	return fmt.Sprintf("%s (%s)", s.Status, s.Phase)
}

// ProxyMode 是否为仅代理模式
func (s Snapshot) ProxyMode() bool {
	return s.Mode == schema.ModeProxy
}
