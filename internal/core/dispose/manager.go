package dispose

import (
	"fmt"
	"sync"

	corelog "byedpi-core/internal/core/log"
)

var (
	pkgLogger   corelog.Logger
	pkgLoggerMu sync.RWMutex
)

// SetLogger 替换 dispose 包使用的 Logger
func SetLogger(l corelog.Logger) {
	pkgLoggerMu.Lock()
	defer pkgLoggerMu.Unlock()
	pkgLogger = l
}

func logger() corelog.Logger {
	pkgLoggerMu.RLock()
	defer pkgLoggerMu.RUnlock()
	if pkgLogger != nil {
		return pkgLogger
	}
	return corelog.Component("dispose")
}

// ResourceManager 按注册顺序登记资源，按相反顺序释放
type ResourceManager struct {
	resources map[string]Disposable
	mu        sync.Mutex
	order     []string
	disposing bool
}

// NewResourceManager 创建新的资源管理器
func NewResourceManager() *ResourceManager {
	return &ResourceManager{
		resources: make(map[string]Disposable),
		order:     make([]string, 0),
	}
}

// Register 注册资源
func (rm *ResourceManager) Register(name string, resource Disposable) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, exists := rm.resources[name]; exists {
		return fmt.Errorf("resource %s already registered", name)
	}

	rm.resources[name] = resource
	rm.order = append(rm.order, name)
	logger().Debugf("ResourceManager: registered %s", name)
	return nil
}

// RegisterFunc 注册一个清理函数
func (rm *ResourceManager) RegisterFunc(name string, fn func() error) error {
	return rm.Register(name, DisposeFunc(fn))
}

// Unregister 注销资源（不释放）
func (rm *ResourceManager) Unregister(name string) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, exists := rm.resources[name]; !exists {
		return fmt.Errorf("resource %s not found", name)
	}

	delete(rm.resources, name)
	for i, resourceName := range rm.order {
		if resourceName == name {
			rm.order = append(rm.order[:i], rm.order[i+1:]...)
			break
		}
	}
	return nil
}

// ListResources 按注册顺序列出资源名称
func (rm *ResourceManager) ListResources() []string {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	names := make([]string, len(rm.order))
	copy(names, rm.order)
	return names
}

// GetResourceCount 获取资源数量
func (rm *ResourceManager) GetResourceCount() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.resources)
}

// DisposeAll 按注册的相反顺序释放所有资源
// 单个资源失败只记录，不影响后续资源
func (rm *ResourceManager) DisposeAll() *DisposeResult {
	rm.mu.Lock()
	if rm.disposing || len(rm.resources) == 0 {
		rm.mu.Unlock()
		return &DisposeResult{Errors: make([]*DisposeError, 0)}
	}
	rm.disposing = true

	resources := rm.resources
	order := rm.order
	rm.resources = make(map[string]Disposable)
	rm.order = make([]string, 0)
	rm.mu.Unlock()

	result := &DisposeResult{Errors: make([]*DisposeError, 0)}
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		if err := disposeOne(resources[name]); err != nil {
			result.Errors = append(result.Errors, &DisposeError{
				HandlerIndex: len(order) - 1 - i,
				ResourceName: name,
				Err:          err,
			})
			logger().Errorf("ResourceManager: failed to dispose %s: %v", name, err)
		} else {
			logger().Debugf("ResourceManager: disposed %s", name)
		}
	}

	rm.mu.Lock()
	rm.disposing = false
	rm.mu.Unlock()

	return result
}

// disposeOne 把 panic 转成错误，保证剩余资源仍会被释放
func disposeOne(resource Disposable) (err error) {
	if resource == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during dispose: %v", r)
		}
	}()
	return resource.Dispose()
}
