// Package mobile 供 gomobile 绑定的服务封装
//
// 宿主应用负责实现 InterfaceBuilder（创建 VPN 网卡）和 EventCallback（接收状态变化）。
// 所有方法都可以从宿主的任意线程调用。
package mobile

import (
	"context"
	"encoding/json"
	"sync"

	"byedpi-core/internal/config/loader"
	"byedpi-core/internal/config/schema"
	coreerrors "byedpi-core/internal/core/errors"
	"byedpi-core/internal/core/events"
	corelog "byedpi-core/internal/core/log"
	"byedpi-core/internal/netif"
	"byedpi-core/internal/service"
)

// EventCallback 状态回调，由 Android/iOS 实现
type EventCallback interface {
	// OnStatusChanged status 为 connected/disconnected/failed，
	// source 为触发变化的子系统，errMsg 仅在失败时非空
	OnStatusChanged(status, source, errMsg string)
}

// Service 宿主侧的服务句柄
type Service struct {
	coord  *service.Coordinator
	cancel func()
	logger corelog.Logger

	mu       sync.RWMutex
	cfg      *schema.Root
	builder  InterfaceBuilder
	callback EventCallback
}

// NewService 用 YAML 配置创建服务，空字符串使用默认配置
func NewService(configYAML string) (*Service, error) {
	return newService(configYAML, nil)
}

func newService(configYAML string, mutate func(*service.Options)) (*Service, error) {
	cfg, err := loadConfig(configYAML)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:    cfg,
		logger: corelog.Component("mobile"),
	}

	opts := service.Options{
		Preferences: s.preferences,
		Builders:    s.newBuilder,
		Logger:      s.logger,
	}
	if mutate != nil {
		mutate(&opts)
	}

	s.coord, err = service.NewCoordinator(context.Background(), opts)
	if err != nil {
		return nil, err
	}

	s.cancel, err = s.coord.Subscribe(s.dispatch)
	if err != nil {
		_ = s.coord.Close()
		return nil, err
	}
	return s, nil
}

func loadConfig(configYAML string) (*schema.Root, error) {
	return loader.LoadDocument([]byte(configYAML))
}

// SetInterfaceBuilder 设置网卡构建器，vpn 模式启动前必须设置
func (s *Service) SetInterfaceBuilder(b InterfaceBuilder) {
	s.mu.Lock()
	s.builder = b
	s.mu.Unlock()
}

// SetEventCallback 设置状态回调，传 nil 取消
func (s *Service) SetEventCallback(cb EventCallback) {
	s.mu.Lock()
	s.callback = cb
	s.mu.Unlock()
}

// UpdateConfig 替换配置，下一次 Start 生效
// 返回错误信息，成功返回空字符串
func (s *Service) UpdateConfig(configYAML string) string {
	cfg, err := loadConfig(configYAML)
	if err != nil {
		return err.Error()
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return ""
}

// Start 开始启动，最终结果通过 EventCallback 通知
// 返回错误信息，启动被接受时返回空字符串
func (s *Service) Start() string {
	if err := s.coord.Start(context.Background()); err != nil {
		return err.Error()
	}
	return ""
}

// Stop 停止服务，任何状态下都可以调用
func (s *Service) Stop() {
	_ = s.coord.Stop(context.Background())
}

// Revoke 系统撤销 VPN 授权时调用
func (s *Service) Revoke() {
	s.coord.Revoke()
}

// Status 返回 connected/disconnected/failed
func (s *Service) Status() string {
	return string(s.coord.Status())
}

// Snapshot 返回 JSON 格式的状态详情
func (s *Service) Snapshot() string {
	data, err := json.Marshal(s.coord.Snapshot())
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Close 停止服务并释放资源，之后不能再 Start
func (s *Service) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	_ = s.coord.Close()
}

func (s *Service) preferences() (*schema.Root, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return service.StaticPreferences(s.cfg)()
}

func (s *Service) newBuilder(vpn schema.VPNConfig) (netif.Builder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.builder == nil {
		return nil, coreerrors.New(coreerrors.CodeProvisionError, "no interface builder set")
	}
	return &hostBuilder{host: s.builder}, nil
}

func (s *Service) dispatch(e *events.StatusEvent) {
	s.mu.RLock()
	cb := s.callback
	s.mu.RUnlock()
	if cb == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("Mobile: event callback panic: %v", r)
		}
	}()
	cb.OnStatusChanged(e.Status, e.Source(), e.Error)
}
