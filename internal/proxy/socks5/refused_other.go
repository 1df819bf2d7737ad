//go:build !unix

package socks5

func isRefused(err error) bool {
	return false
}
