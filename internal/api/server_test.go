package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "byedpi-core/internal/core/errors"
	"byedpi-core/internal/core/events"
	corelog "byedpi-core/internal/core/log"
	"byedpi-core/internal/core/metrics"
	"byedpi-core/internal/health"
	"byedpi-core/internal/service"
)

type fakeController struct {
	mu       sync.Mutex
	snap     service.Snapshot
	startErr error
	stopErr  error
	starts   int
	stops    int
	comps    map[string]*health.ComponentHealth
	subs     map[int]func(*events.StatusEvent)
	nextSub  int
}

func newFakeController() *fakeController {
	return &fakeController{
		snap: service.Snapshot{Status: service.StatusDisconnected, Phase: service.PhaseDisconnected},
		comps: map[string]*health.ComponentHealth{
			"service": {Name: "service", Status: health.ComponentStatusHealthy, LastCheck: time.Now()},
		},
		subs: make(map[int]func(*events.StatusEvent)),
	}
}

func (f *fakeController) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.snap.Phase = service.PhaseConnecting
	f.snap.SessionID = "session-1"
	return nil
}

func (f *fakeController) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	if f.stopErr != nil {
		return f.stopErr
	}
	f.snap = service.Snapshot{Status: service.StatusDisconnected, Phase: service.PhaseDisconnected}
	return nil
}

func (f *fakeController) Snapshot() service.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeController) Health(ctx context.Context) map[string]*health.ComponentHealth {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.comps
}

func (f *fakeController) Subscribe(fn func(*events.StatusEvent)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSub++
	id := f.nextSub
	f.subs[id] = fn
	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}, nil
}

func (f *fakeController) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeController) emit(e *events.StatusEvent) {
	f.mu.Lock()
	subs := make([]func(*events.StatusEvent), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()
	for _, fn := range subs {
		fn(e)
	}
}

func newTestServer(t *testing.T, ctl Controller) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(context.Background(), "127.0.0.1:0", ctl, corelog.NewNopLogger())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		_ = s.CloseWithError()
		ts.Close()
	})
	return s, ts
}

func decode(t *testing.T, resp *http.Response) ResponseData {
	t.Helper()
	defer resp.Body.Close()
	var body ResponseData
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestStartAccepted(t *testing.T) {
	ctl := newFakeController()
	_, ts := newTestServer(t, ctl)

	resp, err := http.Post(ts.URL+BasePath+"/start", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	body := decode(t, resp)
	assert.True(t, body.Success)
	assert.Equal(t, 1, ctl.starts)
}

func TestStartErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   coreerrors.ErrorCode
	}{
		{"already connected", coreerrors.ErrAlreadyConnected, http.StatusConflict, coreerrors.CodeAlreadyConnected},
		{"already running", coreerrors.ErrAlreadyRunning, http.StatusConflict, coreerrors.CodeAlreadyRunning},
		{"closed", coreerrors.ErrServiceClosed, http.StatusServiceUnavailable, coreerrors.CodeServiceClosed},
		{"config", coreerrors.New(coreerrors.CodeConfigError, "bad port"), http.StatusBadRequest, coreerrors.CodeConfigError},
		{"provision", coreerrors.New(coreerrors.CodeProvisionError, "no tun"), http.StatusInternalServerError, coreerrors.CodeProvisionError},
		{"plain", errors.New("boom"), http.StatusInternalServerError, coreerrors.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctl := newFakeController()
			ctl.startErr = tt.err
			_, ts := newTestServer(t, ctl)

			resp, err := http.Post(ts.URL+BasePath+"/start", "application/json", nil)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)

			body := decode(t, resp)
			assert.False(t, body.Success)
			assert.Equal(t, string(tt.code), body.Code)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	_, ts := newTestServer(t, newFakeController())

	resp, err := http.Get(ts.URL + BasePath + "/start")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealthStatusCode(t *testing.T) {
	ctl := newFakeController()
	_, ts := newTestServer(t, ctl)

	resp, err := http.Get(ts.URL + BasePath + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	ctl.mu.Lock()
	ctl.comps["proxy"] = &health.ComponentHealth{Name: "proxy", Status: health.ComponentStatusUnhealthy, Message: "connection refused"}
	ctl.mu.Unlock()

	resp, err = http.Get(ts.URL + BasePath + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()
}

func TestClientRoundTrip(t *testing.T) {
	ctl := newFakeController()
	_, ts := newTestServer(t, ctl)
	client := NewClient(ts.URL)
	ctx := context.Background()

	snap, err := client.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, service.PhaseConnecting, snap.Phase)
	assert.Equal(t, "session-1", snap.SessionID)

	snap, err = client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, service.StatusDisconnected, snap.Status)

	hr, err := client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, string(health.ComponentStatusHealthy), hr.Status)
	assert.Contains(t, hr.Components, "service")

	snap, err = client.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, service.PhaseDisconnected, snap.Phase)

	ctl.mu.Lock()
	ctl.startErr = coreerrors.ErrAlreadyRunning
	ctl.mu.Unlock()
	_, err = client.Start(ctx)
	require.Error(t, err)
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeAlreadyRunning))
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, newFakeController())
	client := NewClient(ts.URL)

	m := metrics.NewMemoryMetrics(context.Background())
	defer m.Close()
	require.NoError(t, metrics.SetGlobalMetrics(m))
	defer metrics.ResetGlobalMetrics()

	metrics.RecordStart("proxy")
	metrics.RelayOpened()

	got, err := client.Metrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, got[`session_starts_total{mode="proxy"}`])
	assert.Equal(t, 1.0, got[metrics.RelayActive])
}

func TestClientUnreachable(t *testing.T) {
	client := NewClient("127.0.0.1:1")
	_, err := client.Status(context.Background())
	require.Error(t, err)
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeNetworkError))
}

func TestEventStream(t *testing.T) {
	ctl := newFakeController()
	_, ts := newTestServer(t, ctl)
	client := NewClient(ts.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snapshots := make(chan service.Snapshot, 1)
	received := make(chan *events.StatusEvent, 4)
	done := make(chan error, 1)
	go func() {
		done <- client.Watch(ctx,
			func(s service.Snapshot) { snapshots <- s },
			func(e *events.StatusEvent) { received <- e })
	}()

	select {
	case s := <-snapshots:
		assert.Equal(t, service.StatusDisconnected, s.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("no initial snapshot")
	}
	require.Equal(t, 1, ctl.subscribers())

	ctl.emit(events.NewStatusEvent(events.SourceTunnel, "connected", "vpn", "session-1", nil))
	select {
	case e := <-received:
		assert.Equal(t, "connected", e.Status)
		assert.Equal(t, events.SourceTunnel, e.Source())
		assert.Equal(t, "session-1", e.SessionID)
	case <-time.After(2 * time.Second):
		t.Fatal("status event not streamed")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not return after cancel")
	}
	assert.Eventually(t, func() bool { return ctl.subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServerStartAndClose(t *testing.T) {
	ctl := newFakeController()
	s := NewServer(context.Background(), "127.0.0.1:0", ctl, corelog.NewNopLogger())
	require.NoError(t, s.Start())
	assert.NotEqual(t, "127.0.0.1:0", s.Addr())

	client := NewClient(s.Addr())
	done := make(chan error, 1)
	ready := make(chan struct{})
	go func() {
		done <- client.Watch(context.Background(), func(service.Snapshot) { close(ready) }, nil)
	}()

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("event stream not opened")
	}

	require.NoError(t, s.CloseWithError())
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("event stream survived server close")
	}

	_, err := client.Status(context.Background())
	assert.Error(t, err)
}

func TestServerListenFailure(t *testing.T) {
	s := NewServer(context.Background(), "127.0.0.1:99999", newFakeController(), corelog.NewNopLogger())
	assert.Error(t, s.Start())
}

func TestSameHostOrigin(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://127.0.0.1:9091/api/v1/events", nil)
	assert.True(t, sameHost(r))

	r.Header.Set("Origin", "http://127.0.0.1:9091")
	assert.True(t, sameHost(r))

	r.Header.Set("Origin", "http://evil.example")
	assert.False(t, sameHost(r))
}
