//go:build !unix

package proxy

import "syscall"

func ttlControl(ttl int) func(network, address string, c syscall.RawConn) error {
	return nil
}
