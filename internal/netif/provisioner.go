package netif

import (
	"net/netip"
	"strings"

	"byedpi-core/internal/config/schema"
	coreerrors "byedpi-core/internal/core/errors"
	corelog "byedpi-core/internal/core/log"
)

// 网卡地址和路由
var (
	IPv4Address = netip.MustParsePrefix("10.10.10.10/32")
	IPv4Route   = netip.MustParsePrefix("0.0.0.0/0")
	IPv6Address = netip.MustParsePrefix("fd00::1/128")
	IPv6Route   = netip.MustParsePrefix("::/0")
)

// 跳过条目的类别
const (
	EntryDNS        = "dns"
	EntryAllowed    = "allowed_app"
	EntryDisallowed = "disallowed_app"
)

// AppPolicy 按应用分流策略
type AppPolicy struct {
	Mode string
	Apps []string
}

// Config 网卡配置，会话内不可变
type Config struct {
	MTU    int
	DNS    string
	IPv6   bool
	Policy AppPolicy
	// Self 本服务自身的应用标识
	Self string
}

// NewConfig 从 VPN 设置构造
func NewConfig(vpn schema.VPNConfig) (*Config, error) {
	switch vpn.AppPolicy {
	case schema.AppPolicyDisabled, schema.AppPolicyWhitelist, schema.AppPolicyBlacklist:
	case "":
		vpn.AppPolicy = schema.AppPolicyDisabled
	default:
		return nil, coreerrors.Newf(coreerrors.CodeConfigError, "unknown app policy %q", vpn.AppPolicy)
	}
	if vpn.MTU <= 0 {
		return nil, coreerrors.Newf(coreerrors.CodeConfigError, "invalid mtu %d", vpn.MTU)
	}

	apps := make([]string, len(vpn.Apps))
	copy(apps, vpn.Apps)

	return &Config{
		MTU:    vpn.MTU,
		DNS:    strings.TrimSpace(vpn.DNS),
		IPv6:   vpn.IPv6,
		Policy: AppPolicy{Mode: vpn.AppPolicy, Apps: apps},
		Self:   vpn.SelfPackage,
	}, nil
}

// SkippedEntry 应用失败被跳过的条目
type SkippedEntry struct {
	Kind  string
	Value string
	Err   error
}

// Report 实际应用到网卡上的配置
type Report struct {
	Addresses  []netip.Prefix
	Routes     []netip.Prefix
	DNS        []netip.Addr
	Allowed    []string
	Disallowed []string
	Skipped    []SkippedEntry
}

// Provisioner 把 Config 应用到 Builder 上并建立网卡
type Provisioner struct {
	logger corelog.Logger
}

// NewProvisioner 创建 Provisioner
func NewProvisioner(logger corelog.Logger) *Provisioner {
	return &Provisioner{logger: corelog.OrDefault(logger, "netif")}
}

// Provision 配置并建立网卡
//
// 地址、路由和 MTU 失败会中止本次启动；DNS 和应用条目失败只记录并跳过。
func (p *Provisioner) Provision(b Builder, cfg *Config) (Handle, *Report, error) {
	report := &Report{}

	if err := b.SetMTU(cfg.MTU); err != nil {
		return nil, report, coreerrors.Wrapf(err, coreerrors.CodeProvisionError, "failed to set mtu %d", cfg.MTU)
	}

	if err := p.addFamily(b, report, IPv4Address, IPv4Route); err != nil {
		return nil, report, err
	}
	if cfg.IPv6 {
		if err := p.addFamily(b, report, IPv6Address, IPv6Route); err != nil {
			return nil, report, err
		}
	}

	if cfg.DNS != "" {
		p.addDNS(b, report, cfg.DNS)
	}

	p.applyPolicy(b, report, cfg)

	handle, err := b.Establish()
	if err != nil {
		return nil, report, coreerrors.Wrap(err, coreerrors.CodeProvisionError, "failed to establish interface")
	}
	if handle == nil {
		return nil, report, coreerrors.New(coreerrors.CodeProvisionError, "interface builder returned no handle")
	}

	p.logger.Infof("Provisioner: interface established (fd %d, %d addresses, %d skipped entries)",
		handle.FD(), len(report.Addresses), len(report.Skipped))
	return handle, report, nil
}

func (p *Provisioner) addFamily(b Builder, report *Report, addr, route netip.Prefix) error {
	if err := b.AddAddress(addr); err != nil {
		return coreerrors.Wrapf(err, coreerrors.CodeProvisionError, "failed to add address %s", addr)
	}
	report.Addresses = append(report.Addresses, addr)

	if err := b.AddRoute(route); err != nil {
		return coreerrors.Wrapf(err, coreerrors.CodeProvisionError, "failed to add route %s", route)
	}
	report.Routes = append(report.Routes, route)
	return nil
}

func (p *Provisioner) addDNS(b Builder, report *Report, dns string) {
	addr, err := netip.ParseAddr(dns)
	if err == nil {
		err = b.AddDNSServer(addr)
	}
	if err != nil {
		p.skip(report, EntryDNS, dns, err)
		return
	}
	report.DNS = append(report.DNS, addr)
}

func (p *Provisioner) applyPolicy(b Builder, report *Report, cfg *Config) {
	switch cfg.Policy.Mode {
	case schema.AppPolicyWhitelist:
		for _, app := range cfg.Policy.Apps {
			if err := b.AddAllowedApplication(app); err != nil {
				p.skip(report, EntryAllowed, app, err)
				continue
			}
			report.Allowed = append(report.Allowed, app)
		}

	case schema.AppPolicyBlacklist:
		for _, app := range cfg.Policy.Apps {
			if app == cfg.Self {
				continue
			}
			p.disallow(b, report, app)
		}
		p.disallow(b, report, cfg.Self)

	default:
		p.disallow(b, report, cfg.Self)
	}
}

func (p *Provisioner) disallow(b Builder, report *Report, app string) {
	if app == "" {
		return
	}
	if err := b.AddDisallowedApplication(app); err != nil {
		p.skip(report, EntryDisallowed, app, err)
		return
	}
	report.Disallowed = append(report.Disallowed, app)
}

func (p *Provisioner) skip(report *Report, kind, value string, err error) {
	p.logger.Warnf("Provisioner: skipping %s %q: %v", kind, value, err)
	report.Skipped = append(report.Skipped, SkippedEntry{Kind: kind, Value: value, Err: err})
}
