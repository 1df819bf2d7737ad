package tunnel

import (
	"sync"

	coreerrors "byedpi-core/internal/core/errors"
	corelog "byedpi-core/internal/core/log"
)

// Adapter 把虚拟网卡的流量转发到本地代理
type Adapter interface {
	// Start 读取配置文件并在 fd 上开始转发，返回即表示已运行
	Start(artifactPath string, fd int) error
	// Stop 停止转发，未运行时返回 nil
	Stop() error
}

// Running 一次已启动的适配器，持有配置文件
type Running struct {
	adapter  Adapter
	artifact *Artifact
	logger   corelog.Logger

	once sync.Once
	err  error
}

// Launch 写入配置文件并启动适配器，失败时删除配置文件
func Launch(adapter Adapter, cfg *Config, fd int, dir string, logger corelog.Logger) (*Running, error) {
	logger = corelog.OrDefault(logger, "tunnel")

	artifact, err := WriteArtifact(dir, cfg)
	if err != nil {
		return nil, err
	}
	logger.Debugf("Tunnel: config written to %s", artifact.Path())

	if err := adapter.Start(artifact.Path(), fd); err != nil {
		if rmErr := artifact.Remove(); rmErr != nil {
			logger.Warnf("Tunnel: %v", rmErr)
		}
		return nil, coreerrors.Wrap(err, coreerrors.CodeTunnelError, "failed to start tunnel adapter")
	}

	logger.Infof("Tunnel: adapter started on fd %d -> %s", fd, cfg.ProxyAddress())
	return &Running{adapter: adapter, artifact: artifact, logger: logger}, nil
}

// ArtifactPath 配置文件路径
func (r *Running) ArtifactPath() string {
	return r.artifact.Path()
}

// Stop 停止适配器并删除配置文件，只执行一次
// 删除失败只记录日志
func (r *Running) Stop() error {
	r.once.Do(func() {
		if err := r.adapter.Stop(); err != nil {
			r.err = coreerrors.Wrap(err, coreerrors.CodeTunnelError, "failed to stop tunnel adapter")
		}
		if err := r.artifact.Remove(); err != nil {
			r.logger.Warnf("Tunnel: %v", err)
		}
		r.logger.Info("Tunnel: adapter stopped")
	})
	return r.err
}
