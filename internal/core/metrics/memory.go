package metrics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"byedpi-core/internal/core/dispose"
)

// MemoryMetrics 进程内指标实现
type MemoryMetrics struct {
	*dispose.ServiceBase

	mu       sync.RWMutex
	counters map[string]float64
	gauges   map[string]float64
}

// NewMemoryMetrics 创建内存指标收集器
func NewMemoryMetrics(parentCtx context.Context) *MemoryMetrics {
	return &MemoryMetrics{
		ServiceBase: dispose.NewService("MemoryMetrics", parentCtx),
		counters:    make(map[string]float64),
		gauges:      make(map[string]float64),
	}
}

// IncrementCounter 计数器加一
func (m *MemoryMetrics) IncrementCounter(name string, labels map[string]string) error {
	return m.AddCounter(name, 1, labels)
}

// AddCounter 计数器只增不减
func (m *MemoryMetrics) AddCounter(name string, value float64, labels map[string]string) error {
	if value < 0 {
		return fmt.Errorf("metrics: counter %s cannot decrease", name)
	}
	key := buildKey(name, labels)
	m.mu.Lock()
	m.counters[key] += value
	m.mu.Unlock()
	return nil
}

// GetCounter 未记录的计数器返回 0
func (m *MemoryMetrics) GetCounter(name string, labels map[string]string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[buildKey(name, labels)], nil
}

// SetGauge 设置 Gauge 值
func (m *MemoryMetrics) SetGauge(name string, value float64, labels map[string]string) error {
	key := buildKey(name, labels)
	m.mu.Lock()
	m.gauges[key] = value
	m.mu.Unlock()
	return nil
}

// AddGauge Gauge 增减
func (m *MemoryMetrics) AddGauge(name string, delta float64, labels map[string]string) error {
	key := buildKey(name, labels)
	m.mu.Lock()
	m.gauges[key] += delta
	m.mu.Unlock()
	return nil
}

// GetGauge 获取 Gauge 值
func (m *MemoryMetrics) GetGauge(name string, labels map[string]string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gauges[buildKey(name, labels)], nil
}

// ObserveHistogram 记录观测次数和总和
func (m *MemoryMetrics) ObserveHistogram(name string, value float64, labels map[string]string) error {
	count := buildKey(name+"_count", labels)
	sum := buildKey(name+"_sum", labels)
	m.mu.Lock()
	m.counters[count]++
	m.counters[sum] += value
	m.mu.Unlock()
	return nil
}

// Snapshot 返回计数器和 Gauge 的副本
func (m *MemoryMetrics) Snapshot() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]float64, len(m.counters)+len(m.gauges))
	for k, v := range m.counters {
		out[k] = v
	}
	for k, v := range m.gauges {
		out[k] = v
	}
	return out
}

// Close 关闭指标收集器
func (m *MemoryMetrics) Close() error {
	return m.CloseWithError()
}

// buildKey 生成 name{k1="v1",k2="v2"}，标签按键名排序
func buildKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", k, labels[k])
	}
	b.WriteByte('}')
	return b.String()
}
