// Package schema defines configuration structure types
package schema

import "time"

// Root is the top-level configuration structure
type Root struct {
	Service ServiceConfig `yaml:"service" json:"service"`
	Proxy   ProxyConfig   `yaml:"proxy" json:"proxy"`
	VPN     VPNConfig     `yaml:"vpn" json:"vpn"`
	Health  HealthConfig  `yaml:"health" json:"health"`
	API     APIConfig     `yaml:"api" json:"api"`
	Log     LogConfig     `yaml:"log" json:"log"`
}

// Service modes
const (
	ModeVPN   = "vpn"   // interface + proxy + tunnel adapter
	ModeProxy = "proxy" // local proxy only
)

// ServiceConfig contains lifecycle settings
type ServiceConfig struct {
	Mode        string        `yaml:"mode" json:"mode"`
	StopTimeout time.Duration `yaml:"stop_timeout" json:"stop_timeout"` // cooperative stop budget
	ForceGrace  time.Duration `yaml:"force_grace" json:"force_grace"`   // wait after force termination
}

// HealthConfig contains proxy readiness probe settings
type HealthConfig struct {
	SettleDelay    time.Duration `yaml:"settle_delay" json:"settle_delay"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout" json:"probe_timeout"`
	SOCKSHandshake bool          `yaml:"socks_handshake" json:"socks_handshake"`
	ProbeTarget    string        `yaml:"probe_target" json:"probe_target"` // optional CONNECT target after the greeting
}

// APIConfig contains the local control API settings
type APIConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Listen  string `yaml:"listen" json:"listen"`
}
