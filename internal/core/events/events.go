package events

import (
	"time"
)

// Event 事件接口
type Event interface {
	Type() string
	Timestamp() time.Time
	Source() string
}

// EventHandler 事件处理器
type EventHandler func(event Event) error

// SubscriptionID 订阅标识，用于取消订阅
type SubscriptionID uint64

// AllEvents 订阅全部事件类型
const AllEvents = "*"

// EventBus 事件总线接口
// 同一总线上的事件按发布顺序投递
type EventBus interface {
	Publish(event Event) error
	Subscribe(eventType string, handler EventHandler) (SubscriptionID, error)
	Unsubscribe(eventType string, id SubscriptionID) error
	Close() error
}

// BaseEvent 基础事件实现
type BaseEvent struct {
	EventType   string    `json:"event_type"`
	EventTime   time.Time `json:"event_time"`
	EventSource string    `json:"event_source"`
}

func (e *BaseEvent) Type() string {
	return e.EventType
}

func (e *BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

func (e *BaseEvent) Source() string {
	return e.EventSource
}

// 事件类型
const (
	TypeServiceStatus = "ServiceStatus"
	TypeProxyExited   = "ProxyExited"
)

// 事件来源（触发状态变化的子系统）
const (
	SourceCoordinator = "coordinator"
	SourceInterface   = "interface"
	SourceProxy       = "proxy"
	SourceHealth      = "health"
	SourceTunnel      = "tunnel"
	SourceRevoke      = "revoke"
	SourceAPI         = "api"
)

// StatusEvent 服务状态变化，只在状态转换完成后发布
type StatusEvent struct {
	BaseEvent
	Status    string `json:"status"`
	Mode      string `json:"mode,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// NewStatusEvent 创建状态事件
func NewStatusEvent(source, status, mode, sessionID string, cause error) *StatusEvent {
	e := &StatusEvent{
		BaseEvent: BaseEvent{
			EventType:   TypeServiceStatus,
			EventTime:   time.Now(),
			EventSource: source,
		},
		Status:    status,
		Mode:      mode,
		SessionID: sessionID,
	}
	if cause != nil {
		e.Error = cause.Error()
	}
	return e
}

// ProxyExitedEvent 代理引擎退出
type ProxyExitedEvent struct {
	BaseEvent
	SessionID string `json:"session_id"`
	ExitCode  int    `json:"exit_code"`
	Requested bool   `json:"requested"`
}

// NewProxyExitedEvent 创建代理退出事件
func NewProxyExitedEvent(sessionID string, exitCode int, requested bool) *ProxyExitedEvent {
	return &ProxyExitedEvent{
		BaseEvent: BaseEvent{
			EventType:   TypeProxyExited,
			EventTime:   time.Now(),
			EventSource: SourceProxy,
		},
		SessionID: sessionID,
		ExitCode:  exitCode,
		Requested: requested,
	}
}
