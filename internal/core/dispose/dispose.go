package dispose

import (
	"context"
	"fmt"
	"sync"
)

// DisposeError 清理过程中的错误信息
type DisposeError struct {
	HandlerIndex int
	ResourceName string
	Err          error
}

func (e *DisposeError) Error() string {
	if e.ResourceName != "" {
		return fmt.Sprintf("cleanup resource[%s] failed: %v", e.ResourceName, e.Err)
	}
	return fmt.Sprintf("cleanup handler[%d] failed: %v", e.HandlerIndex, e.Err)
}

func (e *DisposeError) Unwrap() error {
	return e.Err
}

// DisposeResult 清理结果
type DisposeResult struct {
	Errors []*DisposeError
}

func (r *DisposeResult) HasErrors() bool {
	return len(r.Errors) > 0
}

func (r *DisposeResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	return fmt.Sprintf("dispose cleanup failed with %d errors", len(r.Errors))
}

// Disposable 统一的资源释放接口
type Disposable interface {
	Dispose() error
}

// DisposeFunc 把普通函数适配为 Disposable
type DisposeFunc func() error

func (f DisposeFunc) Dispose() error {
	return f()
}

// Dispose 绑定 context 的资源生命周期
// 父 context 取消或显式 Close 时，清理处理器按注册顺序各执行一次
type Dispose struct {
	currentLock   sync.Mutex
	closed        bool
	ctx           context.Context
	cancel        context.CancelFunc
	cleanHandlers []func() error
	linkLock      sync.Mutex
	errors        []*DisposeError
}

// NewDispose 创建并初始化 Dispose
func NewDispose(parent context.Context, onClose func() error) *Dispose {
	d := &Dispose{}
	d.SetCtx(parent, onClose)
	return d
}

func (c *Dispose) Ctx() context.Context {
	return c.ctx
}

func (c *Dispose) IsClosed() bool {
	c.currentLock.Lock()
	defer c.currentLock.Unlock()
	return c.closed
}

// Close 关闭并返回清理结果，重复调用返回首次的错误
func (c *Dispose) Close() *DisposeResult {
	c.currentLock.Lock()
	defer c.currentLock.Unlock()
	if c.closed {
		return &DisposeResult{Errors: c.errors}
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	return c.runCleanHandlersLocked()
}

// CloseWithError 返回第一个清理错误
func (c *Dispose) CloseWithError() error {
	result := c.Close()
	if result.HasErrors() {
		return result.Errors[0].Err
	}
	return nil
}

// runCleanHandlersLocked 调用方持有 currentLock
func (c *Dispose) runCleanHandlersLocked() *DisposeResult {
	result := &DisposeResult{Errors: make([]*DisposeError, 0)}

	c.linkLock.Lock()
	handlers := make([]func() error, len(c.cleanHandlers))
	copy(handlers, c.cleanHandlers)
	c.linkLock.Unlock()

	for i, handler := range handlers {
		if err := handler(); err != nil {
			disposeErr := &DisposeError{HandlerIndex: i, Err: err}
			result.Errors = append(result.Errors, disposeErr)
			c.errors = append(c.errors, disposeErr)
			// 记录后继续执行剩余处理器
			logger().Errorf("Dispose: cleanup handler[%d] failed: %v", i, err)
		}
	}

	return result
}

// AddCleanHandler 添加清理处理器
func (c *Dispose) AddCleanHandler(f func() error) {
	c.linkLock.Lock()
	defer c.linkLock.Unlock()
	c.cleanHandlers = append(c.cleanHandlers, f)
}

// SetCtx 设置父 context 和关闭回调，只能调用一次
func (c *Dispose) SetCtx(parent context.Context, onClose func() error) {
	if c.ctx != nil {
		logger().Warn("Dispose: ctx already set")
		return
	}
	if parent == nil {
		parent = context.Background()
	}
	if onClose != nil {
		c.AddCleanHandler(onClose)
	}

	c.ctx, c.cancel = context.WithCancel(parent)
	go func() {
		<-c.ctx.Done()
		c.currentLock.Lock()
		defer c.currentLock.Unlock()
		if !c.closed {
			c.closed = true
			if result := c.runCleanHandlersLocked(); result.HasErrors() {
				logger().Errorf("Dispose: context cancellation cleanup failed: %v", result.Error())
			}
		}
	}()
}
