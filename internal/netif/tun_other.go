//go:build !linux

package netif

import (
	coreerrors "byedpi-core/internal/core/errors"
)

// Establish 当前平台没有 TUN 实现，需要宿主注入 Builder
func (b *TUNBuilder) Establish() (Handle, error) {
	return nil, coreerrors.Wrap(coreerrors.ErrNotSupported, coreerrors.CodeProvisionError,
		"TUN devices are only supported on linux")
}
