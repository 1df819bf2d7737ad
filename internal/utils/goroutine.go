package utils

import (
	"runtime/debug"

	corelog "byedpi-core/internal/core/log"
)

// Go 启动 goroutine，panic 记录到 logger 后吞掉
// logger 为空时使用默认日志
func Go(logger corelog.Logger, name string, fn func()) {
	logger = corelog.OrDefault(logger, "goroutine")
	go func() {
		defer Recover(logger, name, nil)
		fn()
	}()
}

// Recover 必须直接 defer 调用
// 记录 panic 和调用栈，onPanic 非空时收到 panic 值
func Recover(logger corelog.Logger, name string, onPanic func(v any)) {
	r := recover()
	if r == nil {
		return
	}
	logger = corelog.OrDefault(logger, "goroutine")
	logger.Errorf("FATAL: %s panic recovered: %v", name, r)
	logger.Debugf("Stack trace:\n%s", debug.Stack())
	if onPanic != nil {
		onPanic(r)
	}
}
