//go:build !unix

package tunnel

import coreerrors "byedpi-core/internal/core/errors"

func dupFD(fd int) (int, error) {
	return -1, coreerrors.New(coreerrors.CodeTunnelError, "fd devices are not supported on this platform")
}
