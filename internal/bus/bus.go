package bus

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"attobot/internal/domain"
)

const queueCapacity = 1024

// poisonChannel marks the sentinel outbound message that stops the
// dispatcher. Real channel names never start with a NUL byte.
const poisonChannel = "\x00poison"

// MessageBus routes messages between channel adapters and the agent loop. It
// holds one inbound and one outbound ring buffer; counting signals track
// occupancy so consumers can block without spinning. Publishing never drops a
// message: when a queue is full the publisher backs off until space frees up.
type MessageBus struct {
	inbound  *Queue[domain.InboundMessage]
	outbound *Queue[domain.OutboundMessage]

	inboundSignal  chan struct{}
	outboundSignal chan struct{}

	mu          sync.RWMutex
	subscribers map[string][]func(domain.OutboundMessage)

	dispatcherWG sync.WaitGroup
	logger       *slog.Logger
}

// New creates a message bus with fixed queue capacity.
func New(logger *slog.Logger) *MessageBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageBus{
		inbound:        NewQueue[domain.InboundMessage](queueCapacity),
		outbound:       NewQueue[domain.OutboundMessage](queueCapacity),
		inboundSignal:  make(chan struct{}, queueCapacity),
		outboundSignal: make(chan struct{}, queueCapacity),
		subscribers:    make(map[string][]func(domain.OutboundMessage)),
		logger:         logger.With("component", "bus"),
	}
}

// PublishInbound enqueues a message for the agent. Blocks (with backoff)
// until the queue has room.
func (b *MessageBus) PublishInbound(msg domain.InboundMessage) {
	b.inbound.pushWait(msg)
	b.inboundSignal <- struct{}{}
}

// PublishOutbound enqueues a reply for delivery to a channel adapter.
func (b *MessageBus) PublishOutbound(msg domain.OutboundMessage) {
	b.outbound.pushWait(msg)
	b.outboundSignal <- struct{}{}
}

// ConsumeInbound blocks until a message is available or ctx is done.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (domain.InboundMessage, bool) {
	var msg domain.InboundMessage
	select {
	case <-ctx.Done():
		return msg, false
	case <-b.inboundSignal:
	}
	// A signal guarantees an element is (or is about to be) visible.
	for !b.inbound.Pop(&msg) {
		runtime.Gosched()
	}
	return msg, true
}

// TryConsumeInbound returns immediately: ok is false when the queue is empty.
func (b *MessageBus) TryConsumeInbound() (domain.InboundMessage, bool) {
	var msg domain.InboundMessage
	select {
	case <-b.inboundSignal:
	default:
		return msg, false
	}
	for !b.inbound.Pop(&msg) {
		runtime.Gosched()
	}
	return msg, true
}

// SubscribeOutbound registers a delivery handler for a channel name. A name
// can carry any number of handlers; dispatch invokes all of them per message.
func (b *MessageBus) SubscribeOutbound(channelName string, handler func(domain.OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[channelName] = append(b.subscribers[channelName], handler)
}

// UnsubscribeOutbound removes every handler registered for a channel name.
func (b *MessageBus) UnsubscribeOutbound(channelName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, channelName)
}

// StartDispatcher launches the worker that drains the outbound queue and
// hands each message to its channel's subscriber. A handler failure is
// logged and never affects other subscribers.
func (b *MessageBus) StartDispatcher() {
	b.dispatcherWG.Add(1)
	go func() {
		defer b.dispatcherWG.Done()
		for {
			<-b.outboundSignal
			var msg domain.OutboundMessage
			for !b.outbound.Pop(&msg) {
				runtime.Gosched()
			}
			if msg.Channel == poisonChannel {
				return
			}
			b.dispatch(msg)
		}
	}()
}

// StopDispatcher enqueues the poison message and waits for the worker to
// exit. Messages published before Stop are still delivered.
func (b *MessageBus) StopDispatcher() {
	b.PublishOutbound(domain.OutboundMessage{Channel: poisonChannel})
	b.dispatcherWG.Wait()
}

func (b *MessageBus) dispatch(msg domain.OutboundMessage) {
	b.mu.RLock()
	handlers := b.subscribers[msg.Channel]
	b.mu.RUnlock()
	if len(handlers) == 0 {
		b.logger.Warn("no subscriber for outbound message", "channel", msg.Channel, "chat_id", msg.ChatID)
		return
	}
	for _, handler := range handlers {
		b.invoke(handler, msg)
	}
}

// invoke runs one handler inside its own recover so a panicking subscriber
// never takes down its siblings or the dispatcher.
func (b *MessageBus) invoke(handler func(domain.OutboundMessage), msg domain.OutboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("outbound handler panicked", "channel", msg.Channel, "panic", r)
		}
	}()
	handler(msg)
}

// InboundDepth reports approximate inbound queue occupancy.
func (b *MessageBus) InboundDepth() int {
	return b.inbound.Len()
}

// OutboundDepth reports approximate outbound queue occupancy.
func (b *MessageBus) OutboundDepth() int {
	return b.outbound.Len()
}
