package events

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Handler 事件处理器
type Handler func(event Event)

// Bus 事件总线
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewBus 创建新的事件总线
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe 订阅指定类型的事件
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeAll 订阅所有事件
func (b *Bus) SubscribeAll(handler Handler) {
	b.Subscribe(EventAll, handler)
}

func (b *Bus) handlersFor(eventType EventType) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Handler, 0, len(b.handlers[eventType])+len(b.handlers[EventAll]))
	out = append(out, b.handlers[eventType]...)
	return append(out, b.handlers[EventAll]...)
}

// Publish 发布事件（异步执行所有处理器）
func (b *Bus) Publish(event Event) {
	for _, h := range b.handlersFor(event.Type()) {
		go dispatch(h, event)
	}
}

// PublishSync 发布事件（同步执行所有处理器）
func (b *Bus) PublishSync(event Event) {
	for _, h := range b.handlersFor(event.Type()) {
		dispatch(h, event)
	}
}

func dispatch(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("[Events] handler panic on %s: %v", event.Type(), r)
		}
	}()
	h(event)
}
