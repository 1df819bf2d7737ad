// Package socks5 SOCKS5 服务端协议（RFC 1928，仅 CONNECT + 无认证）
package socks5

import (
	"encoding/binary"
	"io"
	"net"
	"strconv"

	coreerrors "byedpi-core/internal/core/errors"
)

// SOCKS5 协议常量
const (
	Version     = 0x05
	AuthNone    = 0x00
	AuthNoMatch = 0xFF
	CmdConnect  = 0x01
	AddrIPv4    = 0x01
	AddrDomain  = 0x03
	AddrIPv6    = 0x04

	RepSuccess             = 0x00
	RepFailure             = 0x01
	RepNetworkUnreachable  = 0x03
	RepHostUnreachable     = 0x04
	RepConnectionRefused   = 0x05
	RepCommandNotSupported = 0x07
	RepAddrNotSupported    = 0x08
)

// Request 客户端 CONNECT 请求
type Request struct {
	Host string
	Port int
}

// Address host:port
func (r Request) Address() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// Handshake 完成协商并读取 CONNECT 请求
// 成功时不发送应答，由调用方在拨号之后调用 SendSuccess 或 SendError
func Handshake(rw io.ReadWriter) (Request, error) {
	buf := make([]byte, 2)
	if _, err := io.ReadFull(rw, buf); err != nil {
		return Request{}, coreerrors.Wrap(err, coreerrors.CodeProtocolError, "failed to read version")
	}
	if buf[0] != Version {
		return Request{}, coreerrors.Newf(coreerrors.CodeProtocolError, "unsupported SOCKS version: %d", buf[0])
	}

	nmethods := int(buf[1])
	if nmethods == 0 {
		return Request{}, coreerrors.New(coreerrors.CodeProtocolError, "no authentication methods provided")
	}
	methods := make([]byte, nmethods)
	if _, err := io.ReadFull(rw, methods); err != nil {
		return Request{}, coreerrors.Wrap(err, coreerrors.CodeProtocolError, "failed to read methods")
	}

	authMethod := byte(AuthNoMatch)
	for _, m := range methods {
		if m == AuthNone {
			authMethod = AuthNone
			break
		}
	}
	if _, err := rw.Write([]byte{Version, authMethod}); err != nil {
		return Request{}, coreerrors.Wrap(err, coreerrors.CodeNetworkError, "failed to write auth method")
	}
	if authMethod == AuthNoMatch {
		return Request{}, coreerrors.New(coreerrors.CodeProtocolError, "no acceptable authentication method")
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(rw, header); err != nil {
		return Request{}, coreerrors.Wrap(err, coreerrors.CodeProtocolError, "failed to read request")
	}
	if header[0] != Version {
		SendError(rw, RepFailure)
		return Request{}, coreerrors.Newf(coreerrors.CodeProtocolError, "invalid version in request: %d", header[0])
	}
	if header[1] != CmdConnect {
		SendError(rw, RepCommandNotSupported)
		return Request{}, coreerrors.Newf(coreerrors.CodeProtocolError, "unsupported command: %d", header[1])
	}

	var host string
	switch header[3] {
	case AddrIPv4, AddrIPv6:
		size := net.IPv4len
		if header[3] == AddrIPv6 {
			size = net.IPv6len
		}
		addr := make([]byte, size)
		if _, err := io.ReadFull(rw, addr); err != nil {
			return Request{}, coreerrors.Wrap(err, coreerrors.CodeProtocolError, "failed to read address")
		}
		host = net.IP(addr).String()

	case AddrDomain:
		lenBuf := make([]byte, 1)
		if _, err := io.ReadFull(rw, lenBuf); err != nil {
			return Request{}, coreerrors.Wrap(err, coreerrors.CodeProtocolError, "failed to read domain length")
		}
		domain := make([]byte, lenBuf[0])
		if _, err := io.ReadFull(rw, domain); err != nil {
			return Request{}, coreerrors.Wrap(err, coreerrors.CodeProtocolError, "failed to read domain")
		}
		host = string(domain)

	default:
		SendError(rw, RepAddrNotSupported)
		return Request{}, coreerrors.Newf(coreerrors.CodeProtocolError, "unsupported address type: %d", header[3])
	}

	portBuf := make([]byte, 2)
	if _, err := io.ReadFull(rw, portBuf); err != nil {
		return Request{}, coreerrors.Wrap(err, coreerrors.CodeProtocolError, "failed to read port")
	}

	return Request{Host: host, Port: int(binary.BigEndian.Uint16(portBuf))}, nil
}

// SendSuccess 发送成功应答，绑定地址固定为 0.0.0.0:0
func SendSuccess(w io.Writer) error {
	return SendError(w, RepSuccess)
}

// SendError 发送应答
func SendError(w io.Writer, rep byte) error {
	_, err := w.Write([]byte{
		Version, rep, 0x00, AddrIPv4,
		0, 0, 0, 0,
		0, 0,
	})
	return err
}

// ReplyForError 将拨号错误映射为应答码
func ReplyForError(err error) byte {
	var opErr *net.OpError
	if !coreerrors.As(err, &opErr) {
		return RepFailure
	}
	if opErr.Timeout() {
		return RepHostUnreachable
	}
	if dnsErr := (*net.DNSError)(nil); coreerrors.As(err, &dnsErr) {
		return RepHostUnreachable
	}
	if isRefused(err) {
		return RepConnectionRefused
	}
	return RepNetworkUnreachable
}
