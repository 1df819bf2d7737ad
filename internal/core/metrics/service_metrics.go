package metrics

import (
	"strconv"
	"time"
)

// 服务级指标名
const (
	SessionStarts      = "session_starts_total"
	SessionTransitions = "session_transitions_total"
	SessionConnected   = "session_connected"
	StopDuration       = "session_stop_seconds"
	ProbeResults       = "health_probes_total"
	ProbeDuration      = "health_probe_seconds"
	ProxyExits         = "proxy_exits_total"
	RelayActive        = "relay_connections_active"
	RelayTotal         = "relay_connections_total"
	RelayBytes         = "relay_bytes_total"
)

// 以下函数在全局实例未设置时什么都不做

// RecordStart 记录一次被接受的启动
func RecordStart(mode string) {
	if m := GetGlobalMetrics(); m != nil {
		_ = m.IncrementCounter(SessionStarts, map[string]string{"mode": mode})
	}
}

// RecordTransition 记录一次终态变化，connected 同时更新 Gauge
func RecordTransition(status, source string) {
	m := GetGlobalMetrics()
	if m == nil {
		return
	}
	_ = m.IncrementCounter(SessionTransitions, map[string]string{"status": status, "source": source})
	connected := 0.0
	if status == "connected" {
		connected = 1
	}
	_ = m.SetGauge(SessionConnected, connected, nil)
}

// ObserveStop 记录一次拆除耗时
func ObserveStop(d time.Duration) {
	if m := GetGlobalMetrics(); m != nil {
		_ = m.ObserveHistogram(StopDuration, d.Seconds(), nil)
	}
}

// RecordProbe 记录一次健康探测
func RecordProbe(err error, d time.Duration) {
	m := GetGlobalMetrics()
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	_ = m.IncrementCounter(ProbeResults, map[string]string{"result": result})
	_ = m.ObserveHistogram(ProbeDuration, d.Seconds(), nil)
}

// RecordProxyExit 记录代理退出码，requested 表示由停止请求引起
func RecordProxyExit(code int, requested bool) {
	if m := GetGlobalMetrics(); m != nil {
		_ = m.IncrementCounter(ProxyExits, map[string]string{
			"code":      strconv.Itoa(code),
			"requested": strconv.FormatBool(requested),
		})
	}
}

// RelayOpened 内置代理建立了一条转发
func RelayOpened() {
	if m := GetGlobalMetrics(); m != nil {
		_ = m.IncrementCounter(RelayTotal, nil)
		_ = m.AddGauge(RelayActive, 1, nil)
	}
}

// RelayClosed 转发结束
func RelayClosed(sent, received int64) {
	if m := GetGlobalMetrics(); m != nil {
		_ = m.AddGauge(RelayActive, -1, nil)
		_ = m.AddCounter(RelayBytes, float64(sent), map[string]string{"direction": "sent"})
		_ = m.AddCounter(RelayBytes, float64(received), map[string]string{"direction": "received"})
	}
}
