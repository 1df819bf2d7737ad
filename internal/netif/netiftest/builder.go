// Package netiftest 内存实现的网卡构建器，供测试使用
package netiftest

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"

	"byedpi-core/internal/netif"
)

// ErrUnknownApp 应用不存在
var ErrUnknownApp = errors.New("application not installed")

// Builder 记录所有调用，每次 Establish 返回新的 Handle
type Builder struct {
	// InvalidApps 中的应用在添加时返回 ErrUnknownApp
	InvalidApps map[string]bool
	// EstablishErr 非空时 Establish 失败
	EstablishErr error

	mu         sync.Mutex
	MTU        int
	Addresses  []netip.Prefix
	Routes     []netip.Prefix
	DNS        []netip.Addr
	Allowed    []string
	Disallowed []string

	nextFD      int32
	open        atomic.Int32
	established atomic.Int32
}

// NewBuilder 创建 Builder，invalid 为不存在的应用
func NewBuilder(invalid ...string) *Builder {
	b := &Builder{InvalidApps: make(map[string]bool), nextFD: 100}
	for _, app := range invalid {
		b.InvalidApps[app] = true
	}
	return b
}

func (b *Builder) SetMTU(mtu int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.MTU = mtu
	return nil
}

func (b *Builder) AddAddress(prefix netip.Prefix) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Addresses = append(b.Addresses, prefix)
	return nil
}

func (b *Builder) AddRoute(prefix netip.Prefix) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Routes = append(b.Routes, prefix)
	return nil
}

func (b *Builder) AddDNSServer(addr netip.Addr) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.DNS = append(b.DNS, addr)
	return nil
}

func (b *Builder) AddAllowedApplication(app string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.InvalidApps[app] {
		return fmt.Errorf("%w: %s", ErrUnknownApp, app)
	}
	b.Allowed = append(b.Allowed, app)
	return nil
}

func (b *Builder) AddDisallowedApplication(app string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.InvalidApps[app] {
		return fmt.Errorf("%w: %s", ErrUnknownApp, app)
	}
	b.Disallowed = append(b.Disallowed, app)
	return nil
}

func (b *Builder) Establish() (netif.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.EstablishErr != nil {
		return nil, b.EstablishErr
	}
	b.nextFD++
	b.open.Add(1)
	b.established.Add(1)
	return &Handle{fd: int(b.nextFD), owner: b}, nil
}

// Reset 清空记录的配置，模拟新的 VpnService.Builder
func (b *Builder) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.MTU = 0
	b.Addresses = nil
	b.Routes = nil
	b.DNS = nil
	b.Allowed = nil
	b.Disallowed = nil
}

// OpenHandles 未关闭的 Handle 数量
func (b *Builder) OpenHandles() int {
	return int(b.open.Load())
}

// Established Establish 成功次数
func (b *Builder) Established() int {
	return int(b.established.Load())
}

// Handle 内存网卡句柄
type Handle struct {
	fd     int
	owner  *Builder
	closed atomic.Int32
}

func (h *Handle) FD() int { return h.fd }

// Close 重复关闭返回错误，便于发现重复释放
func (h *Handle) Close() error {
	if h.closed.Add(1) != 1 {
		return errors.New("handle already closed")
	}
	h.owner.open.Add(-1)
	return nil
}

// Closes Close 调用次数
func (h *Handle) Closes() int {
	return int(h.closed.Load())
}
