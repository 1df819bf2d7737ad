package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"byedpi-core/internal/api"
	"byedpi-core/internal/config/schema"
	"byedpi-core/internal/core/events"
	corelog "byedpi-core/internal/core/log"
	"byedpi-core/internal/core/metrics"
	"byedpi-core/internal/service"
	"byedpi-core/internal/version"
)

// syncBuffer 事件协程和主协程会同时写输出
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	out := &syncBuffer{}
	root := NewRootCommand(out)
	root.SetArgs(append(args, "--no-color"))
	root.SetErr(out)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "byedpi.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestVersionJSON(t *testing.T) {
	out, err := execute(t, context.Background(), "version", "--json")
	require.NoError(t, err)

	var info version.Info
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.GetShortVersion(), info.Version)
}

func TestConfigShowMergesFileAndFlags(t *testing.T) {
	path := writeConfig(t, `
service:
  mode: proxy
proxy:
  port: 2080
`)
	out, err := execute(t, context.Background(), "config", "show", "-c", path, "--log-level", "debug")
	require.NoError(t, err)

	var cfg schema.Root
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, schema.ModeProxy, cfg.Service.Mode)
	assert.Equal(t, 2080, cfg.Proxy.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "127.0.0.1", cfg.Proxy.IP)
}

func TestConfigShowInvalid(t *testing.T) {
	path := writeConfig(t, "proxy:\n  port: 70000\n")
	_, err := execute(t, context.Background(), "config", "show", "-c", path)
	assert.Error(t, err)
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "byedpi.yaml")

	out, err := execute(t, context.Background(), "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration file created")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# ByeDPI configuration"))

	_, err = execute(t, context.Background(), "config", "init", path)
	assert.ErrorContains(t, err, "already exists")

	_, err = execute(t, context.Background(), "config", "init", path, "--force")
	assert.NoError(t, err)

	// 生成的文件可以直接加载
	_, err = execute(t, context.Background(), "config", "show", "-c", path)
	assert.NoError(t, err)
}

func TestControlCommands(t *testing.T) {
	coord, err := service.NewCoordinator(context.Background(), service.Options{
		Preferences: service.StaticPreferences(invalidPreferences()),
		Logger:      corelog.NewNopLogger(),
	})
	require.NoError(t, err)
	defer coord.Close()

	srv := api.NewServer(context.Background(), "127.0.0.1:0", coord, corelog.NewNopLogger())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	defer srv.CloseWithError()

	out, err := execute(t, context.Background(), "status", "--api", ts.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "ByeDPI Status")
	assert.Contains(t, out, "disconnected")

	out, err = execute(t, context.Background(), "status", "--api", ts.URL, "--health")
	require.NoError(t, err)
	assert.Contains(t, out, "Health:")
	assert.Contains(t, out, "service")

	// 配置无效，启动失败并返回错误
	_, err = execute(t, context.Background(), "start", "--api", ts.URL)
	assert.ErrorContains(t, err, "CONFIG_ERROR")

	out, err = execute(t, context.Background(), "status", "--api", ts.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "failed")

	out, err = execute(t, context.Background(), "status", "--api", ts.URL, "--metrics")
	require.NoError(t, err)
	assert.Contains(t, out, "Metrics")

	out, err = execute(t, context.Background(), "stop", "--api", ts.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Stopped (disconnected)")
}

func TestStatusUnreachable(t *testing.T) {
	_, err := execute(t, context.Background(), "status", "--api", "127.0.0.1:1")
	assert.Error(t, err)
}

func invalidPreferences() *schema.Root {
	cfg := &schema.Root{}
	cfg.Service.Mode = schema.ModeProxy
	return cfg
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestRunProxyModeUntilCancelled(t *testing.T) {
	defer corelog.SetDefault(corelog.Default())

	port := freePort(t)
	path := writeConfig(t, fmt.Sprintf(`
service:
  mode: proxy
  stop_timeout: 500ms
proxy:
  engine: builtin
  ip: 127.0.0.1
  port: %d
health:
  settle_delay: 10ms
log:
  output: file
  file: %s
`, port, filepath.Join(t.TempDir(), "byedpi.log")))

	ctx, cancel := context.WithCancel(context.Background())
	out := &syncBuffer{}
	root := NewRootCommand(out)
	root.SetArgs([]string{"run", "-c", path, "--no-color"})

	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), string(service.StatusConnected))
	}, 5*time.Second, 20*time.Millisecond, "output: %s", out.String())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}

	text := out.String()
	assert.Contains(t, text, "Stopped")
	assert.Nil(t, metrics.GetGlobalMetrics())
	assert.Contains(t, text, "("+events.SourceHealth+")")

	// 停止后端口已释放
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	ln.Close()
}

func TestOutputWithoutColor(t *testing.T) {
	var buf bytes.Buffer
	o := NewOutput(&buf, false)

	o.Snapshot(service.Snapshot{
		Status:       service.StatusFailed,
		Phase:        service.PhaseFailed,
		Mode:         schema.ModeVPN,
		ProxyAddress: "127.0.0.1:1080",
		LastError:    "[ENGINE_CRASHED] proxy exited with code 7",
	})
	o.Event(events.NewStatusEvent(events.SourceProxy, "failed", "vpn", "s1", nil))

	text := buf.String()
	assert.NotContains(t, text, "\x1b[")
	assert.Contains(t, text, "failed")
	assert.Contains(t, text, "127.0.0.1:1080")
	assert.Contains(t, text, "proxy exited with code 7")
	assert.Contains(t, text, "(proxy)")
}
