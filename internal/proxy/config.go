package proxy

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"byedpi-core/internal/config/schema"
	coreerrors "byedpi-core/internal/core/errors"
)

// Config 一次代理运行的不可变配置
type Config struct {
	ip             string
	port           int
	maxConnections int
	bufferSize     int
	defaultTTL     int
	args           []string
}

// NewConfig 从偏好设置构造 Config
func NewConfig(p schema.ProxyConfig) (*Config, error) {
	ip := net.ParseIP(strings.TrimSpace(p.IP))
	if ip == nil {
		return nil, coreerrors.Newf(coreerrors.CodeConfigError, "invalid proxy ip %q", p.IP)
	}
	if p.Port < 1 || p.Port > 65535 {
		return nil, coreerrors.Newf(coreerrors.CodeConfigError, "invalid proxy port %d", p.Port)
	}

	cfg := &Config{
		ip:             ip.String(),
		port:           p.Port,
		maxConnections: p.MaxConnections,
		bufferSize:     p.BufferSize,
		defaultTTL:     p.DefaultTTL,
	}

	if p.UseCommandLine {
		extra, err := shlex.Split(p.CommandLine)
		if err != nil {
			return nil, coreerrors.Wrap(err, coreerrors.CodeConfigError, "failed to parse proxy command line")
		}
		cfg.args = append(endpointArgs(cfg.ip, cfg.port), extra...)
	} else {
		cfg.args = buildArgs(cfg.ip, cfg.port, p)
	}

	return cfg, nil
}

// IP 监听 IP
func (c *Config) IP() string { return c.ip }

// Port 监听端口
func (c *Config) Port() int { return c.port }

// Address host:port 形式的监听地址
func (c *Config) Address() string {
	return net.JoinHostPort(c.ip, strconv.Itoa(c.port))
}

// MaxConnections 最大并发连接数，0 表示不限制
func (c *Config) MaxConnections() int { return c.maxConnections }

// BufferSize 转发缓冲区大小
func (c *Config) BufferSize() int {
	if c.bufferSize <= 0 {
		return 16384
	}
	return c.bufferSize
}

// DefaultTTL 出站连接 TTL，0 表示系统默认
func (c *Config) DefaultTTL() int { return c.defaultTTL }

// Args ciadpi 兼容的命令行参数（不含程序名）
func (c *Config) Args() []string {
	out := make([]string, len(c.args))
	copy(out, c.args)
	return out
}

func endpointArgs(ip string, port int) []string {
	return []string{"-i" + ip, "-p" + strconv.Itoa(port)}
}

func buildArgs(ip string, port int, p schema.ProxyConfig) []string {
	args := endpointArgs(ip, port)

	if p.MaxConnections > 0 {
		args = append(args, "-c"+strconv.Itoa(p.MaxConnections))
	}
	if p.BufferSize > 0 {
		args = append(args, "-b"+strconv.Itoa(p.BufferSize))
	}

	protocols := make([]string, 0, 2)
	if p.DesyncHTTPS {
		protocols = append(protocols, "t")
	}
	if p.DesyncHTTP {
		protocols = append(protocols, "h")
	}
	if len(protocols) > 0 {
		args = append(args, "-K"+strings.Join(protocols, ","))
	}

	if p.DefaultTTL != 0 {
		args = append(args, "-g"+strconv.Itoa(p.DefaultTTL))
	}
	if p.NoDomain {
		args = append(args, "-N")
	}

	if p.SplitPosition != 0 {
		position := strconv.Itoa(p.SplitPosition)
		if p.SplitAtHost {
			position += "+h"
		}
		if flag := desyncFlag(p.DesyncMethod); flag != "" {
			args = append(args, flag+position)
		}
	}

	switch p.DesyncMethod {
	case schema.DesyncFake:
		args = append(args, "-t"+strconv.Itoa(p.FakeTTL))
		if p.FakeSNI != "" {
			args = append(args, "-n"+p.FakeSNI)
		}
		if p.FakeOffset != 0 {
			args = append(args, "-O"+strconv.Itoa(p.FakeOffset))
		}
	case schema.DesyncOOB, schema.DesyncDisOOB:
		if p.OOBData != "" {
			args = append(args, fmt.Sprintf("-e%d", p.OOBData[0]))
		}
	}

	mods := make([]string, 0, 3)
	if p.HostMixedCase {
		mods = append(mods, "h")
	}
	if p.DomainMixedCase {
		mods = append(mods, "d")
	}
	if p.HostRemoveSpaces {
		mods = append(mods, "r")
	}
	if len(mods) > 0 {
		args = append(args, "-M"+strings.Join(mods, ","))
	}

	if p.TLSRecordSplit {
		position := strconv.Itoa(p.TLSRecordSplitPosition)
		if p.TLSRecordSplitAtSNI {
			position += "+s"
		}
		args = append(args, "-r"+position)
	}
	if p.TCPFastOpen {
		args = append(args, "-F")
	}
	if p.DropSack {
		args = append(args, "-Y")
	}
	if p.DesyncUDP {
		args = append(args, "-Ku")
		if p.UDPFakeCount > 0 {
			args = append(args, "-a"+strconv.Itoa(p.UDPFakeCount))
		}
	}

	return args
}

func desyncFlag(method string) string {
	switch method {
	case schema.DesyncSplit:
		return "-s"
	case schema.DesyncDisorder:
		return "-d"
	case schema.DesyncFake:
		return "-f"
	case schema.DesyncOOB:
		return "-o"
	case schema.DesyncDisOOB:
		return "-q"
	default:
		return ""
	}
}
