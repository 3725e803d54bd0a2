package mq

import (
	"context"
	"errors"
	"sync"
)

// MemoryQueue is an in-process bus for single-binary local runs and tests.
// Publish hands the message to every subscriber of the topic synchronously,
// after Start. Messages published before Start are buffered.
type MemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]memorySubscription
	pending  []memoryRecord
	started  bool
	closed   bool
}

type memorySubscription struct {
	ctx     context.Context
	handler HandlerFunc
	opts    SubscribeOptions
}

type memoryRecord struct {
	topic   string
	message *Message
}

// NewMemoryQueue creates an empty in-process bus.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{handlers: make(map[string][]memorySubscription)}
}

func (q *MemoryQueue) Publish(ctx context.Context, topic string, message *Message) error {
	if message == nil {
		return errors.New("message is nil")
	}
	if topic == "" {
		return errors.New("topic is required")
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errors.New("message queue is closed")
	}
	if !q.started {
		q.pending = append(q.pending, memoryRecord{topic: topic, message: message})
		q.mu.Unlock()
		return nil
	}
	subs := append([]memorySubscription(nil), q.handlers[topic]...)
	q.mu.Unlock()

	for _, sub := range subs {
		dispatch(sub.ctx, topic, sub.handler, sub.opts, cloneMessage(message))
	}
	return nil
}

func (q *MemoryQueue) SubscribeWithOptions(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	var options SubscribeOptions
	if opts != nil {
		options = *opts
	}
	options.SetDefaults()
	if ctx == nil {
		ctx = context.Background()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[topic] = append(q.handlers[topic], memorySubscription{ctx: ctx, handler: handler, opts: options})
	return nil
}

func (q *MemoryQueue) Start() error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return nil
	}
	q.started = true
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, rec := range pending {
		if err := q.Publish(context.Background(), rec.topic, rec.message); err != nil {
			return err
		}
	}
	return nil
}

func (q *MemoryQueue) Stop() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.started = false
	return nil
}

func (q *MemoryQueue) Ping(ctx context.Context) error {
	return nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.started = false
	return nil
}

func cloneMessage(m *Message) *Message {
	out := *m
	out.Body = append([]byte(nil), m.Body...)
	out.Headers = make(map[string]string, len(m.Headers))
	for k, v := range m.Headers {
		out.Headers[k] = v
	}
	return &out
}
