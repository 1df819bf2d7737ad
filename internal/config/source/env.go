package source

import (
	"os"
	"strconv"
	"strings"
	"time"

	"byedpi-core/internal/config/schema"
)

// EnvPrefix is the default environment variable prefix
const EnvPrefix = "BYEDPI"

// EnvSource loads configuration from environment variables
type EnvSource struct {
	prefix string
}

// NewEnvSource creates a new EnvSource with the specified prefix
func NewEnvSource(prefix string) *EnvSource {
	return &EnvSource{prefix: prefix}
}

// Name returns the source name
func (s *EnvSource) Name() string {
	return "env"
}

// Priority returns the source priority
func (s *EnvSource) Priority() int {
	return PriorityEnv
}

// LoadInto loads environment variables into the config structure
func (s *EnvSource) LoadInto(cfg *schema.Root) error {
	// Service
	s.loadString("MODE", &cfg.Service.Mode)
	s.loadDuration("STOP_TIMEOUT", &cfg.Service.StopTimeout)
	s.loadDuration("FORCE_GRACE", &cfg.Service.ForceGrace)

	// Proxy
	s.loadString("PROXY_ENGINE", &cfg.Proxy.Engine)
	s.loadString("PROXY_BINARY", &cfg.Proxy.Binary)
	s.loadString("PROXY_IP", &cfg.Proxy.IP)
	s.loadInt("PROXY_PORT", &cfg.Proxy.Port)
	s.loadInt("PROXY_MAX_CONNECTIONS", &cfg.Proxy.MaxConnections)
	s.loadInt("PROXY_BUFFER_SIZE", &cfg.Proxy.BufferSize)
	s.loadInt("PROXY_DEFAULT_TTL", &cfg.Proxy.DefaultTTL)
	s.loadString("PROXY_DESYNC_METHOD", &cfg.Proxy.DesyncMethod)
	s.loadInt("PROXY_SPLIT_POSITION", &cfg.Proxy.SplitPosition)
	s.loadInt("PROXY_FAKE_TTL", &cfg.Proxy.FakeTTL)
	s.loadString("PROXY_FAKE_SNI", &cfg.Proxy.FakeSNI)
	s.loadBool("PROXY_USE_COMMAND_LINE", &cfg.Proxy.UseCommandLine)
	s.loadString("PROXY_COMMAND_LINE", &cfg.Proxy.CommandLine)

	// VPN
	s.loadString("TUN_NAME", &cfg.VPN.TunName)
	s.loadInt("MTU", &cfg.VPN.MTU)
	s.loadString("DNS", &cfg.VPN.DNS)
	s.loadBool("IPV6", &cfg.VPN.IPv6)
	s.loadString("APP_POLICY", &cfg.VPN.AppPolicy)
	s.loadStringSlice("APPS", &cfg.VPN.Apps)
	s.loadString("SELF_PACKAGE", &cfg.VPN.SelfPackage)

	// Health
	s.loadDuration("HEALTH_SETTLE_DELAY", &cfg.Health.SettleDelay)
	s.loadDuration("HEALTH_PROBE_TIMEOUT", &cfg.Health.ProbeTimeout)
	s.loadBool("HEALTH_SOCKS_HANDSHAKE", &cfg.Health.SOCKSHandshake)
	s.loadString("HEALTH_PROBE_TARGET", &cfg.Health.ProbeTarget)

	// API
	s.loadBool("API_ENABLED", &cfg.API.Enabled)
	s.loadString("API_LISTEN", &cfg.API.Listen)

	// Log
	s.loadString("LOG_LEVEL", &cfg.Log.Level)
	s.loadString("LOG_FORMAT", &cfg.Log.Format)
	s.loadString("LOG_OUTPUT", &cfg.Log.Output)
	s.loadString("LOG_FILE", &cfg.Log.File)

	return nil
}

// getEnv gets environment variable with the configured prefix
func (s *EnvSource) getEnv(key string) (string, bool) {
	if v := os.Getenv(s.prefix + "_" + key); v != "" {
		return v, true
	}
	return "", false
}

func (s *EnvSource) loadString(key string, target *string) {
	if v, ok := s.getEnv(key); ok {
		*target = v
	}
}

func (s *EnvSource) loadBool(key string, target *bool) {
	if v, ok := s.getEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

func (s *EnvSource) loadInt(key string, target *int) {
	if v, ok := s.getEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			*target = i
		}
	}
}

func (s *EnvSource) loadDuration(key string, target *time.Duration) {
	if v, ok := s.getEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*target = d
		}
	}
}

func (s *EnvSource) loadStringSlice(key string, target *[]string) {
	if v, ok := s.getEnv(key); ok {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			*target = result
		}
	}
}
