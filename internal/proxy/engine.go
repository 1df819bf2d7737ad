// Package proxy 本地代理引擎
//
// Engine 是一个可监督的长时间运行单元：Run 阻塞直到被要求停止或自行退出，
// 返回退出码（0 表示正常停止）。Stop 请求协作式停止，ForceTerminate
// 必须立即返回且可在任意时刻重复调用。
package proxy

import (
	"context"
)

// 退出码
const (
	ExitOK           = 0
	ExitFailure      = 1
	ExitListenFailed = 2
	ExitLaunchFailed = 127
	// ExitKilled 被强制终止
	ExitKilled = 137
)

// Engine 代理引擎
type Engine interface {
	// Run 启动引擎并阻塞，ctx 取消等同于 Stop
	Run(ctx context.Context, cfg *Config) int
	// Stop 请求协作式停止
	Stop() error
	// ForceTerminate 强制终止，必须立即返回
	ForceTerminate()
}
