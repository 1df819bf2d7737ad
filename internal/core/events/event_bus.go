package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"byedpi-core/internal/core/dispose"
	corelog "byedpi-core/internal/core/log"
)

type subscription struct {
	id      SubscriptionID
	handler EventHandler
}

// eventBus 单分发协程的事件总线
// Publish 只入队不阻塞，分发协程按顺序调用处理器
type eventBus struct {
	dispose.Dispose

	mu          sync.RWMutex
	subscribers map[string][]subscription
	nextID      SubscriptionID

	queueMu sync.Mutex
	queue   []Event
	notify  chan struct{}
	done    chan struct{}

	logger corelog.Logger
}

// NewEventBus 创建新的事件总线
func NewEventBus(parentCtx context.Context) EventBus {
	return newEventBus(parentCtx, nil)
}

// NewEventBusWithLogger 创建使用指定 Logger 的事件总线
func NewEventBusWithLogger(parentCtx context.Context, logger corelog.Logger) EventBus {
	return newEventBus(parentCtx, logger)
}

func newEventBus(parentCtx context.Context, logger corelog.Logger) *eventBus {
	bus := &eventBus{
		subscribers: make(map[string][]subscription),
		notify:      make(chan struct{}, 1),
		done:        make(chan struct{}),
		logger:      corelog.OrDefault(logger, "events"),
	}
	bus.SetCtx(parentCtx, bus.onClose)
	go bus.dispatchLoop()
	return bus
}

func (bus *eventBus) onClose() error {
	bus.logger.Debug("EventBus: closing")
	return nil
}

// Publish 发布事件
func (bus *eventBus) Publish(event Event) error {
	if bus.IsClosed() {
		return fmt.Errorf("event bus is closed")
	}
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	bus.queueMu.Lock()
	bus.queue = append(bus.queue, event)
	bus.queueMu.Unlock()

	select {
	case bus.notify <- struct{}{}:
	default:
	}
	return nil
}

// 关闭时先投递已入队的事件，再清空订阅者
func (bus *eventBus) dispatchLoop() {
	defer close(bus.done)
	for {
		select {
		case <-bus.Ctx().Done():
			bus.drain()
			bus.mu.Lock()
			bus.subscribers = make(map[string][]subscription)
			bus.mu.Unlock()
			bus.logger.Debug("EventBus: closed")
			return
		case <-bus.notify:
		}
		bus.drain()
	}
}

func (bus *eventBus) drain() {
	for {
		bus.queueMu.Lock()
		if len(bus.queue) == 0 {
			bus.queueMu.Unlock()
			return
		}
		event := bus.queue[0]
		bus.queue[0] = nil
		bus.queue = bus.queue[1:]
		bus.queueMu.Unlock()

		bus.deliver(event)
	}
}

func (bus *eventBus) deliver(event Event) {
	bus.mu.RLock()
	handlers := make([]subscription, 0, len(bus.subscribers[event.Type()])+len(bus.subscribers[AllEvents]))
	handlers = append(handlers, bus.subscribers[event.Type()]...)
	handlers = append(handlers, bus.subscribers[AllEvents]...)
	bus.mu.RUnlock()

	for _, sub := range handlers {
		if err := bus.invoke(sub.handler, event); err != nil {
			bus.logger.Errorf("EventBus: handler %d failed for event %s: %v", sub.id, event.Type(), err)
		}
	}
}

func (bus *eventBus) invoke(handler EventHandler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(event)
}

// Subscribe 订阅事件，eventType 为 AllEvents 时接收全部事件
func (bus *eventBus) Subscribe(eventType string, handler EventHandler) (SubscriptionID, error) {
	if bus.IsClosed() {
		return 0, fmt.Errorf("event bus is closed")
	}
	if eventType == "" {
		return 0, fmt.Errorf("event type cannot be empty")
	}
	if handler == nil {
		return 0, fmt.Errorf("event handler cannot be nil")
	}

	bus.mu.Lock()
	defer bus.mu.Unlock()

	bus.nextID++
	id := bus.nextID
	bus.subscribers[eventType] = append(bus.subscribers[eventType], subscription{id: id, handler: handler})
	bus.logger.Debugf("EventBus: subscribed %d to %s", id, eventType)
	return id, nil
}

// Unsubscribe 取消订阅
func (bus *eventBus) Unsubscribe(eventType string, id SubscriptionID) error {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	subs := bus.subscribers[eventType]
	for i, sub := range subs {
		if sub.id == id {
			bus.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("subscription %d not found for event type: %s", id, eventType)
}

// Close 关闭事件总线，等待分发协程退出
func (bus *eventBus) Close() error {
	err := bus.Dispose.CloseWithError()
	<-bus.done
	return err
}

// WaitForEvent 等待下一个满足条件的事件
func WaitForEvent(bus EventBus, eventType string, timeout time.Duration, match func(Event) bool) (Event, error) {
	ch := make(chan Event, 1)
	id, err := bus.Subscribe(eventType, func(e Event) error {
		if match == nil || match(e) {
			select {
			case ch <- e:
			default:
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = bus.Unsubscribe(eventType, id) }()

	select {
	case e := <-ch:
		return e, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("timeout waiting for event type: %s", eventType)
	}
}
