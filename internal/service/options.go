package service

import (
	"byedpi-core/internal/config/schema"
	"byedpi-core/internal/config/validator"
	coreerrors "byedpi-core/internal/core/errors"
	"byedpi-core/internal/core/events"
	corelog "byedpi-core/internal/core/log"
	"byedpi-core/internal/health"
	"byedpi-core/internal/netif"
	"byedpi-core/internal/proxy"
	"byedpi-core/internal/tunnel"
)

// Preferences 每次启动时读取当前偏好设置
type Preferences func() (*schema.Root, error)

// StaticPreferences 固定配置，每次返回副本
func StaticPreferences(cfg *schema.Root) Preferences {
	return func() (*schema.Root, error) {
		if cfg == nil {
			return nil, coreerrors.New(coreerrors.CodeConfigError, "no configuration")
		}
		c := *cfg
		c.VPN.Apps = append([]string(nil), cfg.VPN.Apps...)
		return &c, nil
	}
}

// EngineFactory 为每个会话创建代理引擎
type EngineFactory func(p schema.ProxyConfig, logger corelog.Logger) (proxy.Engine, error)

// BuilderFactory 为每个会话创建网卡构建器
type BuilderFactory func(vpn schema.VPNConfig) (netif.Builder, error)

// Options 协调器依赖，未设置的字段使用默认实现
type Options struct {
	Preferences Preferences
	Engines     EngineFactory
	Builders    BuilderFactory
	Adapter     tunnel.Adapter
	// Prober 为空时按配置选择 TCP 或 SOCKS5 探测
	Prober      health.Prober
	Bus         events.EventBus
	Logger      corelog.Logger
	ArtifactDir string
}

func (o *Options) applyDefaults() {
	if o.Engines == nil {
		o.Engines = proxy.New
	}
	if o.Builders == nil {
		o.Builders = func(vpn schema.VPNConfig) (netif.Builder, error) {
			return netif.NewTUNBuilder(vpn.TunName, o.Logger), nil
		}
	}
	if o.Adapter == nil {
		o.Adapter = tunnel.NewTun2SocksAdapter(o.Logger)
	}
}

func proberFor(cfg schema.HealthConfig) health.Prober {
	if cfg.SOCKSHandshake {
		return health.NewSOCKSProbe(cfg.ProbeTarget)
	}
	return health.NewDialProbe()
}

func validatePreferences(cfg *schema.Root) error {
	if result := validator.ValidateConfig(cfg); !result.IsValid() {
		return coreerrors.Wrap(result, coreerrors.CodeConfigError, "invalid preferences")
	}
	return nil
}
