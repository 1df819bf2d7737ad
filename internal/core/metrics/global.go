package metrics

import (
	"errors"
	"sync"
)

var (
	globalMetrics Metrics
	globalMu      sync.RWMutex

	// ErrNilMetrics 当传入 nil Metrics 时返回
	ErrNilMetrics = errors.New("metrics: SetGlobalMetrics called with nil")
	// ErrNotInitialized 当 Metrics 未初始化时返回
	ErrNotInitialized = errors.New("metrics: global metrics not initialized, call SetGlobalMetrics first")
)

// SetGlobalMetrics 设置全局 Metrics 实例
func SetGlobalMetrics(m Metrics) error {
	if m == nil {
		return ErrNilMetrics
	}
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
	return nil
}

// ResetGlobalMetrics 清除全局实例，之后的记录全部忽略
func ResetGlobalMetrics() {
	globalMu.Lock()
	globalMetrics = nil
	globalMu.Unlock()
}

// GetGlobalMetrics 获取全局 Metrics 实例，未设置时返回 nil
func GetGlobalMetrics() Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// TryGetGlobalMetrics 尝试获取全局 Metrics 实例，未初始化时返回 error
func TryGetGlobalMetrics() (Metrics, error) {
	m := GetGlobalMetrics()
	if m == nil {
		return nil, ErrNotInitialized
	}
	return m, nil
}

// Snapshot 全局指标快照，未初始化时返回空 map
func Snapshot() map[string]float64 {
	m := GetGlobalMetrics()
	if m == nil {
		return map[string]float64{}
	}
	return m.Snapshot()
}
