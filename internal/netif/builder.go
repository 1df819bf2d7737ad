// Package netif 虚拟网卡的构建和策略
package netif

import (
	"io"
	"net/netip"
	"sync"
)

// Builder 平台虚拟网卡构建器，与 Android VpnService.Builder 对应
// 任何方法返回错误都只影响当前条目
type Builder interface {
	SetMTU(mtu int) error
	AddAddress(prefix netip.Prefix) error
	AddRoute(prefix netip.Prefix) error
	AddDNSServer(addr netip.Addr) error
	AddAllowedApplication(app string) error
	AddDisallowedApplication(app string) error
	// Establish 创建网卡，失败对本次启动是致命的
	Establish() (Handle, error)
}

// Handle 已建立的网卡，Close 之后 FD 失效
type Handle interface {
	io.Closer
	FD() int
}

// closeOnce 保证底层关闭只执行一次
type closeOnce struct {
	once  sync.Once
	err   error
	close func() error
}

func (c *closeOnce) Close() error {
	c.once.Do(func() {
		c.err = c.close()
	})
	return c.err
}
