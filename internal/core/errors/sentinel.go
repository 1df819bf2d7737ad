package errors

// 预定义哨兵错误（用于 errors.Is 比较）
var (
	ErrInvalidParam = New(CodeInvalidParam, "invalid parameter")
	ErrConfigError  = New(CodeConfigError, "invalid configuration")
	ErrInvalidState = New(CodeInvalidState, "invalid state")

	ErrAlreadyConnected = New(CodeAlreadyConnected, "service already connected")
	ErrAlreadyRunning   = New(CodeAlreadyRunning, "service start already in progress")
	ErrNotRunning       = New(CodeNotRunning, "not running")
	ErrServiceClosed    = New(CodeServiceClosed, "service closed")

	ErrProvisionError    = New(CodeProvisionError, "interface provisioning failed")
	ErrEngineError       = New(CodeEngineError, "proxy engine error")
	ErrEngineCrashed     = New(CodeEngineCrashed, "proxy engine exited abnormally")
	ErrHealthCheckFailed = New(CodeHealthCheckFailed, "proxy health check failed")
	ErrTunnelError       = New(CodeTunnelError, "tunnel adapter error")
	ErrNotSupported      = New(CodeNotSupported, "not supported")

	ErrTimeout      = New(CodeTimeout, "operation timeout")
	ErrNetworkError = New(CodeNetworkError, "network error")
)

// IsStartFailure 检查是否为会让服务进入 Failed 的启动错误
func IsStartFailure(err error) bool {
	switch GetCode(err) {
	case CodeConfigError, CodeProvisionError, CodeEngineError,
		CodeHealthCheckFailed, CodeEngineCrashed, CodeTunnelError:
		return true
	default:
		return false
	}
}

// IsRejected 检查是否为被拒绝的请求（不改变状态）
func IsRejected(err error) bool {
	return IsCode(err, CodeAlreadyConnected) ||
		IsCode(err, CodeAlreadyRunning) ||
		IsCode(err, CodeServiceClosed)
}
