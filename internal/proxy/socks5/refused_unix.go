//go:build unix

package socks5

import (
	"golang.org/x/sys/unix"

	coreerrors "byedpi-core/internal/core/errors"
)

func isRefused(err error) bool {
	return coreerrors.Is(err, unix.ECONNREFUSED)
}
