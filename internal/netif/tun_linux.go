//go:build linux

package netif

import (
	"golang.org/x/sys/unix"

	coreerrors "byedpi-core/internal/core/errors"
)

const tunDevice = "/dev/net/tun"

// Establish 创建 TUN 设备并完成地址和路由配置
func (b *TUNBuilder) Establish() (Handle, error) {
	fd, err := unix.Open(tunDevice, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, coreerrors.Wrapf(err, coreerrors.CodeProvisionError, "failed to open %s", tunDevice)
	}

	ifr, err := unix.NewIfreq(b.name)
	if err != nil {
		unix.Close(fd)
		return nil, coreerrors.Wrapf(err, coreerrors.CodeProvisionError, "invalid interface name %q", b.name)
	}
	ifr.SetUint16(unix.IFF_TUN | unix.IFF_NO_PI)
	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		unix.Close(fd)
		return nil, coreerrors.Wrap(err, coreerrors.CodeProvisionError, "TUNSETIFF failed")
	}
	dev := ifr.Name()

	if err := b.configure(dev); err != nil {
		unix.Close(fd)
		return nil, err
	}

	b.logger.Infof("TUNBuilder: device %s ready (fd %d)", dev, fd)
	return &tunHandle{
		fd:        fd,
		name:      dev,
		closeOnce: closeOnce{close: func() error { return unix.Close(fd) }},
	}, nil
}

// 设备非持久，fd 关闭后内核删除设备及其路由
type tunHandle struct {
	closeOnce
	fd   int
	name string
}

func (h *tunHandle) FD() int { return h.fd }

// Name 设备名
func (h *tunHandle) Name() string { return h.name }
