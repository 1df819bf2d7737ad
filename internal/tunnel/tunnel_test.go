package tunnel

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"byedpi-core/internal/config/schema"
	coreerrors "byedpi-core/internal/core/errors"
	corelog "byedpi-core/internal/core/log"
)

func testVPN() schema.VPNConfig {
	return schema.VPNConfig{
		MTU:           8500,
		TaskStackSize: 81920,
		UDPMode:       UDPModeUDP,
	}
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := NewConfig("127.0.0.1", 1080, testVPN())
	require.NoError(t, err)
	return cfg
}

func TestNewConfigValidation(t *testing.T) {
	_, err := NewConfig("not-an-ip", 1080, testVPN())
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeConfigError))

	_, err = NewConfig("127.0.0.1", 0, testVPN())
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeConfigError))

	vpn := testVPN()
	vpn.MTU = 0
	_, err = NewConfig("127.0.0.1", 1080, vpn)
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeConfigError))

	cfg := testConfig(t)
	assert.Equal(t, "127.0.0.1:1080", cfg.ProxyAddress())
}

func TestWriteArtifact(t *testing.T) {
	dir := t.TempDir()
	a, err := WriteArtifact(dir, testConfig(t))
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(a.Path()))

	data, err := os.ReadFile(a.Path())
	require.NoError(t, err)
	assert.Equal(t, `misc:
    task-stack-size: 81920
tunnel:
    mtu: 8500
socks5:
    address: 127.0.0.1
    port: 1080
    udp: udp
`, string(data))

	require.NoError(t, a.Remove())
	_, err = os.Stat(a.Path())
	assert.True(t, os.IsNotExist(err))

	// 重复删除不报错
	assert.NoError(t, a.Remove())
}

func TestReadDocument(t *testing.T) {
	cfg := testConfig(t)
	cfg.LogLevel = "debug"
	a, err := WriteArtifact(t.TempDir(), cfg)
	require.NoError(t, err)

	doc, err := ReadDocument(a.Path())
	require.NoError(t, err)
	assert.Equal(t, 8500, doc.Tunnel.MTU)
	assert.Equal(t, "127.0.0.1", doc.SOCKS5.Address)
	require.NotNil(t, doc.Log)
	assert.Equal(t, "debug", doc.Log.Level)

	_, err = ReadDocument(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeTunnelError))
}

func TestBuildKey(t *testing.T) {
	doc := NewDocument(testConfig(t))

	key, err := BuildKey(doc, 42)
	require.NoError(t, err)
	assert.Equal(t, "fd://42", key.Device)
	assert.Equal(t, "socks5://127.0.0.1:1080", key.Proxy)
	assert.Equal(t, 8500, key.MTU)
	assert.Equal(t, "warn", key.LogLevel)

	doc.SOCKS5.Address = "::1"
	key, err = BuildKey(doc, 3)
	require.NoError(t, err)
	assert.Equal(t, "socks5://[::1]:1080", key.Proxy)
}

func TestNormalizeLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "warn"},
		{"warn", "warn"},
		{"warning", "warn"},
		{"WARNING", "warn"},
		{" Info ", "info"},
		{"debug", "debug"},
		{"error", "error"},
		{"silent", "silent"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeLogLevel(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := NormalizeLogLevel("loud")
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeTunnelError))
}

func TestBuildKeyRejects(t *testing.T) {
	tests := []struct {
		name   string
		fd     int
		mutate func(d *Document)
	}{
		{"negative fd", -1, func(d *Document) {}},
		{"no port", 3, func(d *Document) { d.SOCKS5.Port = 0 }},
		{"no mtu", 3, func(d *Document) { d.Tunnel.MTU = 0 }},
		{"udp mode", 3, func(d *Document) { d.SOCKS5.UDP = "quic" }},
		{"log level", 3, func(d *Document) { d.Log = &LogSection{Level: "loud"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := NewDocument(testConfig(t))
			tt.mutate(doc)
			_, err := BuildKey(doc, tt.fd)
			assert.True(t, coreerrors.IsCode(err, coreerrors.CodeTunnelError))
		})
	}
}

func TestTun2SocksAdapterRejectsInvalidArtifact(t *testing.T) {
	a := NewTun2SocksAdapter(corelog.NewTestLogger(t))

	err := a.Start(filepath.Join(t.TempDir(), "missing.yaml"), 3)
	assert.Error(t, err)

	artifact, err := WriteArtifact(t.TempDir(), testConfig(t))
	require.NoError(t, err)
	assert.Error(t, a.Start(artifact.Path(), -1))
	assert.False(t, a.IsRunning())
	assert.NoError(t, a.Stop())
}

type fakeAdapter struct {
	startErr   error
	stopErr    error
	started    string
	fd         int
	stopCalls  int
	sawFileNow bool
}

func (f *fakeAdapter) Start(path string, fd int) error {
	_, err := os.Stat(path)
	f.sawFileNow = err == nil
	f.started = path
	f.fd = fd
	return f.startErr
}

func (f *fakeAdapter) Stop() error {
	f.stopCalls++
	return f.stopErr
}

func TestLaunchAndStop(t *testing.T) {
	fake := &fakeAdapter{}
	r, err := Launch(fake, testConfig(t), 7, t.TempDir(), corelog.NewTestLogger(t))
	require.NoError(t, err)

	assert.True(t, fake.sawFileNow)
	assert.Equal(t, 7, fake.fd)
	assert.Equal(t, r.ArtifactPath(), fake.started)

	require.NoError(t, r.Stop())
	require.NoError(t, r.Stop())
	assert.Equal(t, 1, fake.stopCalls)

	_, err = os.Stat(fake.started)
	assert.True(t, os.IsNotExist(err))
}

func TestLaunchStartFailureRemovesArtifact(t *testing.T) {
	fake := &fakeAdapter{startErr: errors.New("engine refused")}
	_, err := Launch(fake, testConfig(t), 7, t.TempDir(), corelog.NewTestLogger(t))
	require.Error(t, err)
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeTunnelError))

	_, statErr := os.Stat(fake.started)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunningStopErrorStillRemovesArtifact(t *testing.T) {
	fake := &fakeAdapter{stopErr: errors.New("stuck")}
	r, err := Launch(fake, testConfig(t), 7, t.TempDir(), corelog.NewTestLogger(t))
	require.NoError(t, err)

	assert.Error(t, r.Stop())
	_, statErr := os.Stat(r.ArtifactPath())
	assert.True(t, os.IsNotExist(statErr))
}
