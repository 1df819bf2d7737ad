package source

import (
	"time"

	"byedpi-core/internal/config/schema"
)

// Default values shared with other packages
const (
	DefaultProxyIP       = "127.0.0.1"
	DefaultProxyPort     = 1080
	DefaultMaxConns      = 512
	DefaultBufferSize    = 16384
	DefaultFakeTTL       = 8
	DefaultFakeSNI       = "www.iana.org"
	DefaultOOBData       = "a"
	DefaultMTU           = 8500
	DefaultDNS           = "9.9.9.9"
	DefaultTaskStackSize = 81920
	DefaultUDPMode       = "udp"
	DefaultSelfPackage   = "io.github.dovecoteescapee.byedpi"
	DefaultAPIListen     = "127.0.0.1:9091"
)

// DefaultSource provides default configuration values
type DefaultSource struct{}

// NewDefaultSource creates a new DefaultSource
func NewDefaultSource() *DefaultSource {
	return &DefaultSource{}
}

// Name returns the source name
func (s *DefaultSource) Name() string {
	return "defaults"
}

// Priority returns the source priority
func (s *DefaultSource) Priority() int {
	return PriorityDefaults
}

// LoadInto loads default values into the configuration
func (s *DefaultSource) LoadInto(cfg *schema.Root) error {
	cfg.Service.Mode = schema.ModeVPN
	cfg.Service.StopTimeout = 1000 * time.Millisecond
	cfg.Service.ForceGrace = 200 * time.Millisecond

	cfg.Proxy.Engine = schema.EngineExec
	cfg.Proxy.Binary = "ciadpi"
	cfg.Proxy.IP = DefaultProxyIP
	cfg.Proxy.Port = DefaultProxyPort
	cfg.Proxy.MaxConnections = DefaultMaxConns
	cfg.Proxy.BufferSize = DefaultBufferSize
	cfg.Proxy.DesyncHTTP = true
	cfg.Proxy.DesyncHTTPS = true
	cfg.Proxy.DesyncMethod = schema.DesyncDisorder
	cfg.Proxy.SplitPosition = 1
	cfg.Proxy.FakeTTL = DefaultFakeTTL
	cfg.Proxy.FakeSNI = DefaultFakeSNI
	cfg.Proxy.OOBData = DefaultOOBData

	cfg.VPN.TunName = "byedpi0"
	cfg.VPN.MTU = DefaultMTU
	cfg.VPN.DNS = DefaultDNS
	cfg.VPN.AppPolicy = schema.AppPolicyDisabled
	cfg.VPN.SelfPackage = DefaultSelfPackage
	cfg.VPN.TaskStackSize = DefaultTaskStackSize
	cfg.VPN.UDPMode = DefaultUDPMode
	cfg.VPN.LogLevel = schema.LogLevelWarn

	cfg.Health.SettleDelay = 500 * time.Millisecond
	cfg.Health.ProbeTimeout = 1000 * time.Millisecond

	cfg.API.Enabled = false
	cfg.API.Listen = DefaultAPIListen

	cfg.Log.Level = schema.LogLevelInfo
	cfg.Log.Format = schema.LogFormatText
	cfg.Log.Output = "stderr"

	return nil
}

// GetDefaultConfig returns a new Root with all defaults applied
func GetDefaultConfig() *schema.Root {
	cfg := &schema.Root{}
	_ = NewDefaultSource().LoadInto(cfg)
	return cfg
}
