package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryMetricsCounters(t *testing.T) {
	m := NewMemoryMetrics(context.Background())
	defer m.Close()

	require.NoError(t, m.IncrementCounter("starts", nil))
	require.NoError(t, m.AddCounter("starts", 4, nil))
	v, err := m.GetCounter("starts", nil)
	require.NoError(t, err)
	assert.Equal(t, 5.0, v)

	// 计数器不能减少
	assert.Error(t, m.AddCounter("starts", -1, nil))

	v, _ = m.GetCounter("missing", nil)
	assert.Zero(t, v)
}

func TestMemoryMetricsGauges(t *testing.T) {
	m := NewMemoryMetrics(context.Background())
	defer m.Close()

	require.NoError(t, m.SetGauge("active", 3, nil))
	require.NoError(t, m.AddGauge("active", -1, nil))
	v, err := m.GetGauge("active", nil)
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)
}

func TestMemoryMetricsLabels(t *testing.T) {
	m := NewMemoryMetrics(context.Background())
	defer m.Close()

	_ = m.IncrementCounter("exits", map[string]string{"code": "0", "requested": "true"})
	_ = m.IncrementCounter("exits", map[string]string{"requested": "true", "code": "0"})
	_ = m.IncrementCounter("exits", map[string]string{"code": "7", "requested": "false"})

	v, _ := m.GetCounter("exits", map[string]string{"requested": "true", "code": "0"})
	assert.Equal(t, 2.0, v)

	snap := m.Snapshot()
	assert.Equal(t, 2.0, snap[`exits{code="0",requested="true"}`])
	assert.Equal(t, 1.0, snap[`exits{code="7",requested="false"}`])
}

func TestMemoryMetricsHistogram(t *testing.T) {
	m := NewMemoryMetrics(context.Background())
	defer m.Close()

	_ = m.ObserveHistogram("stop_seconds", 0.5, nil)
	_ = m.ObserveHistogram("stop_seconds", 1.5, nil)

	snap := m.Snapshot()
	assert.Equal(t, 2.0, snap["stop_seconds_count"])
	assert.Equal(t, 2.0, snap["stop_seconds_sum"])
}

func TestMemoryMetricsSnapshotIsCopy(t *testing.T) {
	m := NewMemoryMetrics(context.Background())
	defer m.Close()

	_ = m.SetGauge("g", 1, nil)
	snap := m.Snapshot()
	snap["g"] = 42

	v, _ := m.GetGauge("g", nil)
	assert.Equal(t, 1.0, v)
}
