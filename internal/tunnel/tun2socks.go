package tunnel

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xjasonlyu/tun2socks/v2/engine"
	t2slog "github.com/xjasonlyu/tun2socks/v2/log"

	coreerrors "byedpi-core/internal/core/errors"
	corelog "byedpi-core/internal/core/log"
)

// tun2socks 引擎是进程级单例
var engineMu sync.Mutex

// UDP 转发模式
const (
	UDPModeUDP = "udp"
	UDPModeTCP = "tcp"
)

// NormalizeLogLevel 转换为 tun2socks 可接受的日志级别，空值取 warn
func NormalizeLogLevel(level string) (string, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	switch level {
	case "", "warning":
		level = "warn"
	}
	if _, err := t2slog.ParseLevel(level); err != nil {
		return "", coreerrors.Wrapf(err, coreerrors.CodeTunnelError, "invalid log level %q", level)
	}
	return level, nil
}

// Tun2SocksAdapter 基于 xjasonlyu/tun2socks 的适配器
type Tun2SocksAdapter struct {
	logger corelog.Logger

	mu  sync.Mutex
	key *engine.Key
}

// NewTun2SocksAdapter 创建适配器
func NewTun2SocksAdapter(logger corelog.Logger) *Tun2SocksAdapter {
	return &Tun2SocksAdapter{logger: corelog.OrDefault(logger, "tunnel")}
}

// BuildKey 由配置文件生成引擎参数
// 引擎内部遇到非法参数会直接退出进程，所以这里先完成全部校验
func BuildKey(doc *Document, fd int) (*engine.Key, error) {
	if fd < 0 {
		return nil, coreerrors.Newf(coreerrors.CodeTunnelError, "invalid tun fd %d", fd)
	}
	if doc.SOCKS5.Address == "" || doc.SOCKS5.Port < 1 || doc.SOCKS5.Port > 65535 {
		return nil, coreerrors.Newf(coreerrors.CodeTunnelError,
			"invalid socks5 endpoint %s:%d", doc.SOCKS5.Address, doc.SOCKS5.Port)
	}
	if doc.Tunnel.MTU <= 0 {
		return nil, coreerrors.Newf(coreerrors.CodeTunnelError, "invalid mtu %d", doc.Tunnel.MTU)
	}
	switch doc.SOCKS5.UDP {
	case "", UDPModeUDP, UDPModeTCP:
	default:
		return nil, coreerrors.Newf(coreerrors.CodeTunnelError, "invalid udp mode %q", doc.SOCKS5.UDP)
	}

	level := ""
	if doc.Log != nil {
		level = doc.Log.Level
	}
	mapped, err := NormalizeLogLevel(level)
	if err != nil {
		return nil, err
	}

	host := doc.SOCKS5.Address
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	return &engine.Key{
		Device:   fmt.Sprintf("fd://%d", fd),
		Proxy:    fmt.Sprintf("socks5://%s:%d", host, doc.SOCKS5.Port),
		MTU:      doc.Tunnel.MTU,
		LogLevel: mapped,
	}, nil
}

// Start 实现 Adapter
func (a *Tun2SocksAdapter) Start(artifactPath string, fd int) error {
	doc, err := ReadDocument(artifactPath)
	if err != nil {
		return err
	}
	key, err := BuildKey(doc, fd)
	if err != nil {
		return err
	}
	if doc.SOCKS5.UDP == UDPModeTCP {
		a.logger.Warn("Tun2Socks: udp-over-tcp is not supported, UDP will be relayed as UDP")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.key != nil {
		return coreerrors.ErrAlreadyRunning
	}

	// 引擎停止时会关闭设备 fd，交给它一份副本，原 fd 仍归接口句柄所有
	dup, err := dupFD(fd)
	if err != nil {
		return coreerrors.Wrapf(err, coreerrors.CodeTunnelError, "failed to dup tun fd %d", fd)
	}
	key.Device = fmt.Sprintf("fd://%d", dup)

	engineMu.Lock()
	defer engineMu.Unlock()

	engine.Insert(key)
	engine.Start()
	a.key = key

	a.logger.Infof("Tun2Socks: started %s -> %s (mtu %d)", key.Device, key.Proxy, key.MTU)
	return nil
}

// Stop 实现 Adapter
func (a *Tun2SocksAdapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.key == nil {
		return nil
	}

	engineMu.Lock()
	engine.Stop()
	engineMu.Unlock()

	a.logger.Infof("Tun2Socks: stopped %s", a.key.Device)
	a.key = nil
	return nil
}

// IsRunning 是否正在运行
func (a *Tun2SocksAdapter) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.key != nil
}
