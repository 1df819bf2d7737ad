package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ComponentStatus 组件状态
type ComponentStatus string

const (
	ComponentStatusHealthy   ComponentStatus = "healthy"
	ComponentStatusDegraded  ComponentStatus = "degraded"  // 部分功能不可用
	ComponentStatusUnhealthy ComponentStatus = "unhealthy" // 完全不可用
)

// ComponentHealth 组件健康信息
type ComponentHealth struct {
	Name      string          `json:"name"`
	Status    ComponentStatus `json:"status"`
	Message   string          `json:"message,omitempty"`
	Latency   time.Duration   `json:"latency_ns,omitempty"`
	LastCheck time.Time       `json:"last_check"`
}

// HealthChecker 健康检查器接口
type HealthChecker interface {
	Check(ctx context.Context) (*ComponentHealth, error)
}

// CheckerFunc 把函数适配为 HealthChecker
type CheckerFunc func(ctx context.Context) (*ComponentHealth, error)

func (f CheckerFunc) Check(ctx context.Context) (*ComponentHealth, error) {
	return f(ctx)
}

// CompositeHealthChecker 组合健康检查器
// 各检查器并发执行，每个检查器有独立超时
type CompositeHealthChecker struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
	timeout  time.Duration
}

// NewCompositeHealthChecker 创建组合健康检查器
func NewCompositeHealthChecker(timeout time.Duration) *CompositeHealthChecker {
	return &CompositeHealthChecker{
		checkers: make(map[string]HealthChecker),
		timeout:  timeout,
	}
}

// RegisterChecker 注册健康检查器
func (c *CompositeHealthChecker) RegisterChecker(name string, checker HealthChecker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkers[name] = checker
}

// Names 已注册的检查器名称（排序）
func (c *CompositeHealthChecker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.checkers))
	for name := range c.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckAll 检查所有注册的组件
func (c *CompositeHealthChecker) CheckAll(ctx context.Context) map[string]*ComponentHealth {
	c.mu.RLock()
	checkers := make(map[string]HealthChecker, len(c.checkers))
	for name, checker := range c.checkers {
		checkers[name] = checker
	}
	c.mu.RUnlock()

	var (
		mu      sync.Mutex
		results = make(map[string]*ComponentHealth, len(checkers))
		g       errgroup.Group
	)

	for name, checker := range checkers {
		name, checker := name, checker
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			health, err := checker.Check(checkCtx)
			if err != nil {
				health = &ComponentHealth{
					Name:      name,
					Status:    ComponentStatusUnhealthy,
					Message:   err.Error(),
					LastCheck: time.Now(),
				}
			}
			if health != nil {
				mu.Lock()
				results[name] = health
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// GetOverallStatus 获取整体健康状态
func (c *CompositeHealthChecker) GetOverallStatus(ctx context.Context) ComponentStatus {
	return Overall(c.CheckAll(ctx))
}

// Overall 汇总：任一不健康则不健康，否则任一降级则降级
func Overall(results map[string]*ComponentHealth) ComponentStatus {
	hasDegraded := false
	for _, health := range results {
		switch health.Status {
		case ComponentStatusUnhealthy:
			return ComponentStatusUnhealthy
		case ComponentStatusDegraded:
			hasDegraded = true
		}
	}
	if hasDegraded {
		return ComponentStatusDegraded
	}
	return ComponentStatusHealthy
}
