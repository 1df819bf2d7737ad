package metrics

// Metrics 指标收集接口
type Metrics interface {
	IncrementCounter(name string, labels map[string]string) error
	AddCounter(name string, value float64, labels map[string]string) error
	GetCounter(name string, labels map[string]string) (float64, error)

	SetGauge(name string, value float64, labels map[string]string) error
	AddGauge(name string, delta float64, labels map[string]string) error
	GetGauge(name string, labels map[string]string) (float64, error)

	// ObserveHistogram 内存实现只记录 _count 和 _sum
	ObserveHistogram(name string, value float64, labels map[string]string) error

	// Snapshot 返回当前全部指标，键为带标签的指标名
	Snapshot() map[string]float64

	Close() error
}
