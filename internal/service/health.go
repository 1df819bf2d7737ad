package service

import (
	"context"
	"time"

	"byedpi-core/internal/health"
)

const healthCheckTimeout = 2 * time.Second

// Health 对当前会话执行一次健康检查
func (c *Coordinator) Health(ctx context.Context) map[string]*health.ComponentHealth {
	composite := health.NewCompositeHealthChecker(healthCheckTimeout)

	snap := c.Snapshot()
	prober, timeout := c.healthProber()
	composite.RegisterChecker("proxy", health.NewProbeChecker("proxy", prober, func() string {
		if snap.Status != StatusConnected {
			return ""
		}
		return snap.ProxyAddress
	}, timeout))

	composite.RegisterChecker("service", health.CheckerFunc(func(ctx context.Context) (*health.ComponentHealth, error) {
		status := health.ComponentStatusHealthy
		if snap.Status == StatusFailed {
			status = health.ComponentStatusUnhealthy
		} else if snap.Status != StatusConnected {
			status = health.ComponentStatusDegraded
		}
		return &health.ComponentHealth{
			Name:      "service",
			Status:    status,
			Message:   snap.String(),
			LastCheck: time.Now(),
		}, nil
	}))

	return composite.CheckAll(ctx)
}

// healthProber 与启动时的就绪探测使用同一配置
func (c *Coordinator) healthProber() (health.Prober, time.Duration) {
	cfg, err := c.opts.Preferences()
	if err != nil {
		c.logger.Debugf("Coordinator: preferences unavailable for health check: %v", err)
		if c.opts.Prober != nil {
			return c.opts.Prober, time.Second
		}
		return health.NewDialProbe(), time.Second
	}
	if c.opts.Prober != nil {
		return c.opts.Prober, cfg.Health.ProbeTimeout
	}
	return proberFor(cfg.Health), cfg.Health.ProbeTimeout
}
