package tunnel

import (
	"os"

	"gopkg.in/yaml.v3"

	coreerrors "byedpi-core/internal/core/errors"
)

const artifactPattern = "byedpi-tunnel-*.yaml"

// Document 适配器配置文件结构
type Document struct {
	Misc   MiscSection   `yaml:"misc"`
	Tunnel TunnelSection `yaml:"tunnel"`
	SOCKS5 SOCKS5Section `yaml:"socks5"`
	Log    *LogSection   `yaml:"log,omitempty"`
}

type MiscSection struct {
	TaskStackSize int `yaml:"task-stack-size"`
}

type TunnelSection struct {
	MTU int `yaml:"mtu"`
}

type SOCKS5Section struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	UDP     string `yaml:"udp"`
}

type LogSection struct {
	Level string `yaml:"level"`
}

// NewDocument 由 Config 生成配置文件内容
func NewDocument(cfg *Config) *Document {
	doc := &Document{
		Misc:   MiscSection{TaskStackSize: cfg.TaskStackSize},
		Tunnel: TunnelSection{MTU: cfg.MTU},
		SOCKS5: SOCKS5Section{
			Address: cfg.ProxyIP,
			Port:    cfg.ProxyPort,
			UDP:     cfg.UDPMode,
		},
	}
	if cfg.LogLevel != "" {
		doc.Log = &LogSection{Level: cfg.LogLevel}
	}
	return doc
}

// Artifact 临时配置文件，适配器启动前创建，停止时删除
type Artifact struct {
	path string
}

// WriteArtifact 在 dir 中创建配置文件，dir 为空时使用系统临时目录
func WriteArtifact(dir string, cfg *Config) (*Artifact, error) {
	data, err := yaml.Marshal(NewDocument(cfg))
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeTunnelError, "failed to encode tunnel config")
	}

	f, err := os.CreateTemp(dir, artifactPattern)
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeTunnelError, "failed to create tunnel config file")
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, coreerrors.Wrap(err, coreerrors.CodeTunnelError, "failed to write tunnel config file")
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, coreerrors.Wrap(err, coreerrors.CodeTunnelError, "failed to close tunnel config file")
	}

	return &Artifact{path: f.Name()}, nil
}

// Path 文件路径
func (a *Artifact) Path() string {
	return a.path
}

// Remove 删除文件，文件已不存在时返回 nil
func (a *Artifact) Remove() error {
	if err := os.Remove(a.path); err != nil && !os.IsNotExist(err) {
		return coreerrors.Wrapf(err, coreerrors.CodeCleanupError, "failed to remove %s", a.path)
	}
	return nil
}

// ReadDocument 读取并解析配置文件
func ReadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeTunnelError, "failed to read tunnel config file")
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeTunnelError, "failed to parse tunnel config file")
	}
	return &doc, nil
}
