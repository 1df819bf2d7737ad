package dispose

import (
	"context"
)

// ServiceBase 带名称的服务基类，关闭时记录一条日志
type ServiceBase struct {
	Dispose
	name string
}

// NewService 创建服务基类并绑定父 context
func NewService(name string, parentCtx context.Context) *ServiceBase {
	s := &ServiceBase{name: name}
	s.SetCtx(parentCtx, s.onClose)
	return s
}

func (s *ServiceBase) onClose() error {
	logger().Debugf("%s: resources cleaned up", s.name)
	return nil
}

// Name 服务名称
func (s *ServiceBase) Name() string {
	return s.name
}
