// Package errors 提供统一的错误处理机制
//
// 所有错误都带错误码，可以通过 errors.Is() 按错误码比较，
// 也支持 errors.As() 取出 *Error 读取 Code 和 Cause。
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode 错误码类型
type ErrorCode string

const (
	// 请求/配置
	CodeInvalidParam ErrorCode = "INVALID_PARAM"
	CodeConfigError  ErrorCode = "CONFIG_ERROR"
	CodeInvalidState ErrorCode = "INVALID_STATE"

	// 生命周期
	CodeAlreadyConnected ErrorCode = "ALREADY_CONNECTED"
	CodeAlreadyRunning   ErrorCode = "ALREADY_RUNNING"
	CodeNotRunning       ErrorCode = "NOT_RUNNING"
	CodeServiceClosed    ErrorCode = "SERVICE_CLOSED"

	// 子系统
	CodeProvisionError    ErrorCode = "PROVISION_ERROR"
	CodeEngineError       ErrorCode = "ENGINE_ERROR"
	CodeEngineCrashed     ErrorCode = "ENGINE_CRASHED"
	CodeHealthCheckFailed ErrorCode = "HEALTH_CHECK_FAILED"
	CodeTunnelError       ErrorCode = "TUNNEL_ERROR"
	CodeProtocolError     ErrorCode = "PROTOCOL_ERROR"
	CodeNotSupported      ErrorCode = "NOT_SUPPORTED"

	// 系统
	CodeInternal     ErrorCode = "INTERNAL_ERROR"
	CodeNetworkError ErrorCode = "NETWORK_ERROR"
	CodeTimeout      ErrorCode = "TIMEOUT"
	CodeCleanupError ErrorCode = "CLEANUP_ERROR"
)

// Error 统一错误类型
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持 errors.Unwrap
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 按错误码比较
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New 创建新错误
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf 创建格式化错误
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap 包装错误
func Wrap(err error, code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Cause: err}
}

// Wrapf 格式化包装错误
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// GetCode 从错误链中提取错误码，非 *Error 返回 CodeInternal
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsCode 检查错误链中最外层的 *Error 是否为指定错误码
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Is 重导出 errors.Is
var Is = errors.Is

// As 重导出 errors.As
var As = errors.As

// Join 重导出 errors.Join
var Join = errors.Join
