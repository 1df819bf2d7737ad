package netif

import (
	"context"
	"net/netip"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	coreerrors "byedpi-core/internal/core/errors"
	corelog "byedpi-core/internal/core/log"
)

// RouteTable 主机模式下路由写入的独立路由表，选路规则由主机配置
const RouteTable = 2080

const commandTimeout = 5 * time.Second

// CommandRunner 执行外部命令，返回合并输出
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// TUNBuilder 主机 TUN 设备构建器
//
// 按应用分流在主机上不可用，对应条目会被跳过。DNS 只记录，不改写主机解析配置。
type TUNBuilder struct {
	name   string
	logger corelog.Logger
	run    CommandRunner

	mu     sync.Mutex
	mtu    int
	addrs  []netip.Prefix
	routes []netip.Prefix
	dns    []netip.Addr
}

// NewTUNBuilder 创建构建器，name 为期望的设备名
func NewTUNBuilder(name string, logger corelog.Logger) *TUNBuilder {
	return &TUNBuilder{
		name:   name,
		logger: corelog.OrDefault(logger, "netif"),
		run:    execRunner,
	}
}

// WithRunner 替换命令执行器
func (b *TUNBuilder) WithRunner(run CommandRunner) *TUNBuilder {
	b.run = run
	return b
}

func (b *TUNBuilder) SetMTU(mtu int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mtu = mtu
	return nil
}

func (b *TUNBuilder) AddAddress(prefix netip.Prefix) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addrs = append(b.addrs, prefix)
	return nil
}

func (b *TUNBuilder) AddRoute(prefix netip.Prefix) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routes = append(b.routes, prefix.Masked())
	return nil
}

func (b *TUNBuilder) AddDNSServer(addr netip.Addr) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dns = append(b.dns, addr)
	b.logger.Infof("TUNBuilder: DNS %s is left to the host resolver", addr)
	return nil
}

func (b *TUNBuilder) AddAllowedApplication(app string) error {
	return coreerrors.ErrNotSupported
}

func (b *TUNBuilder) AddDisallowedApplication(app string) error {
	return coreerrors.ErrNotSupported
}

// setupCommands 设备创建后需要执行的 ip 命令
func (b *TUNBuilder) setupCommands(dev string) [][]string {
	b.mu.Lock()
	defer b.mu.Unlock()

	cmds := make([][]string, 0, 2+len(b.addrs)+len(b.routes))
	if b.mtu > 0 {
		cmds = append(cmds, []string{"ip", "link", "set", "dev", dev, "mtu", strconv.Itoa(b.mtu)})
	}
	for _, a := range b.addrs {
		cmds = append(cmds, []string{"ip", familyFlag(a), "addr", "replace", a.String(), "dev", dev})
	}
	cmds = append(cmds, []string{"ip", "link", "set", "dev", dev, "up"})
	for _, r := range b.routes {
		cmds = append(cmds, []string{"ip", familyFlag(r), "route", "replace", r.String(),
			"dev", dev, "table", strconv.Itoa(RouteTable)})
	}
	return cmds
}

func (b *TUNBuilder) configure(dev string) error {
	for _, args := range b.setupCommands(dev) {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		out, err := b.run(ctx, args[0], args[1:]...)
		cancel()
		if err != nil {
			return coreerrors.Wrapf(err, coreerrors.CodeProvisionError, "%s: %s",
				strings.Join(args, " "), strings.TrimSpace(string(out)))
		}
		b.logger.Debugf("TUNBuilder: %s", strings.Join(args, " "))
	}
	b.logger.Infof("TUNBuilder: routes of %s are in table %d, steer traffic with e.g. `ip rule add not uidrange <proxy-uid>-<proxy-uid> lookup %d`",
		dev, RouteTable, RouteTable)
	return nil
}

func familyFlag(p netip.Prefix) string {
	if p.Addr().Is4() {
		return "-4"
	}
	return "-6"
}
