package proxy

import (
	"byedpi-core/internal/config/schema"
	coreerrors "byedpi-core/internal/core/errors"
	corelog "byedpi-core/internal/core/log"
)

// New 按配置创建引擎，每个会话使用独立实例
func New(p schema.ProxyConfig, logger corelog.Logger) (Engine, error) {
	switch p.Engine {
	case schema.EngineExec, "":
		if p.Binary == "" {
			return nil, coreerrors.New(coreerrors.CodeConfigError, "proxy binary is required for exec engine")
		}
		return NewExecEngine(p.Binary, logger), nil
	case schema.EngineBuiltin:
		return NewBuiltinEngine(logger), nil
	default:
		return nil, coreerrors.Newf(coreerrors.CodeConfigError, "unknown proxy engine %q", p.Engine)
	}
}
