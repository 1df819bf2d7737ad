// Package tunnel 虚拟网卡到本地 SOCKS5 的转发适配器
package tunnel

import (
	"net"
	"strconv"

	"byedpi-core/internal/config/schema"
	coreerrors "byedpi-core/internal/core/errors"
)

// Config 适配器配置，会话内不可变
type Config struct {
	ProxyIP       string
	ProxyPort     int
	MTU           int
	TaskStackSize int
	UDPMode       string
	LogLevel      string
}

// NewConfig 由代理端点和 VPN 设置构造
func NewConfig(proxyIP string, proxyPort int, vpn schema.VPNConfig) (*Config, error) {
	if net.ParseIP(proxyIP) == nil {
		return nil, coreerrors.Newf(coreerrors.CodeConfigError, "invalid proxy ip %q", proxyIP)
	}
	if proxyPort < 1 || proxyPort > 65535 {
		return nil, coreerrors.Newf(coreerrors.CodeConfigError, "invalid proxy port %d", proxyPort)
	}
	if vpn.MTU <= 0 {
		return nil, coreerrors.Newf(coreerrors.CodeConfigError, "invalid mtu %d", vpn.MTU)
	}

	return &Config{
		ProxyIP:       proxyIP,
		ProxyPort:     proxyPort,
		MTU:           vpn.MTU,
		TaskStackSize: vpn.TaskStackSize,
		UDPMode:       vpn.UDPMode,
		LogLevel:      vpn.LogLevel,
	}, nil
}

// ProxyAddress host:port
func (c *Config) ProxyAddress() string {
	return net.JoinHostPort(c.ProxyIP, strconv.Itoa(c.ProxyPort))
}
