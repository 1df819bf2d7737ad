package proxy

import (
	"io"
	"net"
	"sync"
)

type closeWriter interface {
	CloseWrite() error
}

// relay 双向转发，一侧 EOF 时半关闭另一侧的写端
func relay(a, b net.Conn, bufSize int) (sent, received int64) {
	var wg sync.WaitGroup
	wg.Add(2)

	pipe := func(dst, src net.Conn, n *int64) {
		defer wg.Done()
		buf := make([]byte, bufSize)
		*n, _ = io.CopyBuffer(dst, src, buf)
		if cw, ok := dst.(closeWriter); ok {
			_ = cw.CloseWrite()
		} else {
			_ = dst.Close()
		}
	}

	go pipe(b, a, &sent)
	go pipe(a, b, &received)
	wg.Wait()
	return sent, received
}
