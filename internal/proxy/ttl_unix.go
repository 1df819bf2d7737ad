//go:build unix

package proxy

import (
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// ttlControl 为出站 socket 设置 TTL / hop limit
func ttlControl(ttl int) func(network, address string, c syscall.RawConn) error {
	if ttl <= 0 {
		return nil
	}
	return func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			if strings.HasSuffix(network, "6") {
				sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_UNICAST_HOPS, ttl)
				return
			}
			sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TTL, ttl)
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}
