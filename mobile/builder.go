package mobile

import (
	"net/netip"
	"sync"

	"byedpi-core/internal/netif"
)

// InterfaceBuilder 由宿主应用实现，对应 Android VpnService.Builder
//
// 每个方法返回的错误只影响当前条目；Establish 失败则本次启动失败。
type InterfaceBuilder interface {
	SetMtu(mtu int) error
	AddAddress(address string, prefixLength int) error
	AddRoute(address string, prefixLength int) error
	AddDnsServer(address string) error
	AddAllowedApplication(packageName string) error
	AddDisallowedApplication(packageName string) error

	// Establish 创建网卡并返回文件描述符，描述符归宿主所有
	Establish() (int, error)
	// CloseInterface 关闭 Establish 返回的网卡
	CloseInterface(fd int) error
}

// hostBuilder 把宿主实现适配为 netif.Builder
type hostBuilder struct {
	host InterfaceBuilder
}

func (b *hostBuilder) SetMTU(mtu int) error {
	return b.host.SetMtu(mtu)
}

func (b *hostBuilder) AddAddress(prefix netip.Prefix) error {
	return b.host.AddAddress(prefix.Addr().String(), prefix.Bits())
}

func (b *hostBuilder) AddRoute(prefix netip.Prefix) error {
	return b.host.AddRoute(prefix.Addr().String(), prefix.Bits())
}

func (b *hostBuilder) AddDNSServer(addr netip.Addr) error {
	return b.host.AddDnsServer(addr.String())
}

func (b *hostBuilder) AddAllowedApplication(app string) error {
	return b.host.AddAllowedApplication(app)
}

func (b *hostBuilder) AddDisallowedApplication(app string) error {
	return b.host.AddDisallowedApplication(app)
}

func (b *hostBuilder) Establish() (netif.Handle, error) {
	fd, err := b.host.Establish()
	if err != nil {
		return nil, err
	}
	return &hostHandle{host: b.host, fd: fd}, nil
}

type hostHandle struct {
	host InterfaceBuilder
	fd   int
	once sync.Once
	err  error
}

func (h *hostHandle) FD() int {
	return h.fd
}

func (h *hostHandle) Close() error {
	h.once.Do(func() {
		h.err = h.host.CloseInterface(h.fd)
	})
	return h.err
}
