package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withGlobal(t *testing.T) *MemoryMetrics {
	t.Helper()
	prev := GetGlobalMetrics()
	m := NewMemoryMetrics(context.Background())
	require.NoError(t, SetGlobalMetrics(m))
	t.Cleanup(func() {
		_ = m.Close()
		if prev != nil {
			_ = SetGlobalMetrics(prev)
		} else {
			ResetGlobalMetrics()
		}
	})
	return m
}

func TestSetGlobalMetricsNil(t *testing.T) {
	assert.ErrorIs(t, SetGlobalMetrics(nil), ErrNilMetrics)
}

func TestHelpersWithoutGlobal(t *testing.T) {
	prev := GetGlobalMetrics()
	ResetGlobalMetrics()
	defer func() {
		if prev != nil {
			_ = SetGlobalMetrics(prev)
		}
	}()

	_, err := TryGetGlobalMetrics()
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.Empty(t, Snapshot())

	assert.NotPanics(t, func() {
		RecordStart("vpn")
		RecordTransition("connected", "health")
		RelayOpened()
		RelayClosed(1, 2)
	})
}

func TestServiceMetrics(t *testing.T) {
	m := withGlobal(t)

	RecordStart("vpn")
	RecordTransition("connected", "tunnel")
	RecordProbe(nil, 20*time.Millisecond)
	RecordProbe(errors.New("refused"), time.Millisecond)

	snap := Snapshot()
	assert.Equal(t, 1.0, snap[`session_starts_total{mode="vpn"}`])
	assert.Equal(t, 1.0, snap[`session_transitions_total{source="tunnel",status="connected"}`])
	assert.Equal(t, 1.0, snap[SessionConnected])
	assert.Equal(t, 1.0, snap[`health_probes_total{result="ok"}`])
	assert.Equal(t, 1.0, snap[`health_probes_total{result="failed"}`])
	assert.Equal(t, 2.0, snap[ProbeDuration+"_count"])

	RecordTransition("disconnected", "coordinator")
	v, _ := m.GetGauge(SessionConnected, nil)
	assert.Zero(t, v)

	RecordProxyExit(7, false)
	v, _ = m.GetCounter(ProxyExits, map[string]string{"code": "7", "requested": "false"})
	assert.Equal(t, 1.0, v)

	ObserveStop(250 * time.Millisecond)
	assert.Equal(t, 0.25, Snapshot()[StopDuration+"_sum"])
}

func TestRelayMetrics(t *testing.T) {
	m := withGlobal(t)

	RelayOpened()
	RelayOpened()
	RelayClosed(100, 2000)

	active, _ := m.GetGauge(RelayActive, nil)
	assert.Equal(t, 1.0, active)
	total, _ := m.GetCounter(RelayTotal, nil)
	assert.Equal(t, 2.0, total)
	received, _ := m.GetCounter(RelayBytes, map[string]string{"direction": "received"})
	assert.Equal(t, 2000.0, received)
}
