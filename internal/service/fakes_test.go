package service

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"byedpi-core/internal/config/schema"
	"byedpi-core/internal/config/source"
	"byedpi-core/internal/core/events"
	corelog "byedpi-core/internal/core/log"
	"byedpi-core/internal/health"
	"byedpi-core/internal/netif"
	"byedpi-core/internal/netif/netiftest"
	"byedpi-core/internal/proxy"
)

// fakeEngine 由测试控制退出时机
type fakeEngine struct {
	// ignoreStop 为 true 时只有 ForceTerminate 能让 Run 返回
	ignoreStop  bool
	ignoreForce bool
	panicOnRun  bool
	events      *[]string

	exit      chan int
	stopCh    chan struct{}
	forceCh   chan struct{}
	started   chan struct{}
	returned  chan struct{}
	stopOnce  sync.Once
	forceOnce sync.Once
	startOnce sync.Once

	stops  atomic.Int32
	forces atomic.Int32
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		exit:     make(chan int, 1),
		stopCh:   make(chan struct{}),
		forceCh:  make(chan struct{}),
		started:  make(chan struct{}),
		returned: make(chan struct{}),
	}
}

func (e *fakeEngine) Run(ctx context.Context, cfg *proxy.Config) int {
	e.startOnce.Do(func() { close(e.started) })
	defer close(e.returned)
	if e.panicOnRun {
		panic("engine bug")
	}

	stop := e.stopCh
	done := ctx.Done()
	if e.ignoreStop {
		stop = nil
		done = nil
	}
	force := e.forceCh
	if e.ignoreForce {
		force = nil
	}

	select {
	case code := <-e.exit:
		return code
	case <-stop:
		return proxy.ExitOK
	case <-done:
		return proxy.ExitOK
	case <-force:
		return proxy.ExitKilled
	}
}

func (e *fakeEngine) Stop() error {
	e.stops.Add(1)
	if e.events != nil {
		*e.events = append(*e.events, "proxy")
	}
	e.stopOnce.Do(func() { close(e.stopCh) })
	return nil
}

func (e *fakeEngine) ForceTerminate() {
	e.forces.Add(1)
	e.forceOnce.Do(func() { close(e.forceCh) })
}

// fakeAdapter 记录启动和停止
type fakeAdapter struct {
	mu       sync.Mutex
	startErr error
	starts   int
	stops    int
	paths    []string
	fds      []int
	events   *[]string
}

func (a *fakeAdapter) Start(path string, fd int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.starts++
	a.paths = append(a.paths, path)
	a.fds = append(a.fds, fd)
	if _, err := os.Stat(path); err != nil {
		return err
	}
	return a.startErr
}

func (a *fakeAdapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stops++
	if a.events != nil {
		*a.events = append(*a.events, "adapter")
	}
	return nil
}

func (a *fakeAdapter) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.starts, a.stops
}

// harness 组装协调器和全部假实现
type harness struct {
	t       *testing.T
	c       *Coordinator
	cfg     *schema.Root
	builder *netiftest.Builder
	adapter *fakeAdapter
	dir     string

	mu      sync.Mutex
	engines []*fakeEngine
	next    func() *fakeEngine
	probe   atomic.Value // error

	statuses chan *events.StatusEvent
}

func testPreferences() *schema.Root {
	cfg := source.GetDefaultConfig()
	cfg.Service.Mode = schema.ModeVPN
	cfg.Service.StopTimeout = 200 * time.Millisecond
	cfg.Service.ForceGrace = 100 * time.Millisecond
	cfg.Health.SettleDelay = 10 * time.Millisecond
	cfg.Health.ProbeTimeout = 100 * time.Millisecond
	cfg.Proxy.Engine = schema.EngineBuiltin
	return cfg
}

func newHarness(t *testing.T, mutate func(cfg *schema.Root)) *harness {
	t.Helper()

	h := &harness{
		t:        t,
		cfg:      testPreferences(),
		builder:  netiftest.NewBuilder(),
		adapter:  &fakeAdapter{},
		dir:      t.TempDir(),
		statuses: make(chan *events.StatusEvent, 32),
		next:     newFakeEngine,
	}
	if mutate != nil {
		mutate(h.cfg)
	}
	h.probe.Store(probeResult{})

	c, err := NewCoordinator(context.Background(), Options{
		Preferences: func() (*schema.Root, error) { return StaticPreferences(h.cfg)() },
		Engines: func(p schema.ProxyConfig, logger corelog.Logger) (proxy.Engine, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			e := h.next()
			h.engines = append(h.engines, e)
			return e, nil
		},
		Builders: func(vpn schema.VPNConfig) (netif.Builder, error) {
			h.builder.Reset()
			return h.builder, nil
		},
		Adapter: h.adapter,
		Prober: health.ProberFunc(func(ctx context.Context, address string, timeout time.Duration) error {
			return h.probe.Load().(probeResult).err
		}),
		Logger:      corelog.NewNopLogger(),
		ArtifactDir: h.dir,
	})
	require.NoError(t, err)
	h.c = c

	_, err = c.Bus().Subscribe(events.TypeServiceStatus, func(e events.Event) error {
		h.statuses <- e.(*events.StatusEvent)
		return nil
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = c.Close() })
	return h
}

type probeResult struct {
	err error
}

func (h *harness) failProbe(err error) {
	h.probe.Store(probeResult{err: err})
}

func (h *harness) engine(i int) *fakeEngine {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engines[i]
}

func (h *harness) currentSession() *session {
	h.c.lifecycleMu.Lock()
	defer h.c.lifecycleMu.Unlock()
	return h.c.session
}

func (h *harness) engineCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.engines)
}

// waitStatus 等待下一条状态事件
func (h *harness) waitStatus(want Status) *events.StatusEvent {
	h.t.Helper()
	select {
	case e := <-h.statuses:
		require.Equal(h.t, string(want), e.Status, "unexpected status event from %s: %s", e.Source(), e.Error)
		return e
	case <-time.After(3 * time.Second):
		h.t.Fatalf("timed out waiting for %s", want)
		return nil
	}
}

// noStatus 确认一段时间内没有状态事件
func (h *harness) noStatus(d time.Duration) {
	h.t.Helper()
	select {
	case e := <-h.statuses:
		h.t.Fatalf("unexpected status event %s from %s", e.Status, e.Source())
	case <-time.After(d):
	}
}

func (h *harness) artifacts() []os.DirEntry {
	h.t.Helper()
	entries, err := os.ReadDir(h.dir)
	require.NoError(h.t, err)
	return entries
}

var errProbe = errors.New("connection refused")
