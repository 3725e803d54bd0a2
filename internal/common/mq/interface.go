package mq

import (
	"context"
	"time"
)

// MessageQueue is the topic based publish/subscribe bus shared by all services.
// Delivery is at-least-once; handlers must be idempotent.
type MessageQueue interface {
	Producer
	Consumer

	// Ping verifies the bus connection is alive
	Ping(ctx context.Context) error

	// Close stops consumers and releases the producer
	Close() error
}

// Producer publishes messages. A returned error means the message was not
// accepted by the bus; publishing is never retried here.
type Producer interface {
	Publish(ctx context.Context, topic string, message *Message) error
}

// Consumer dispatches messages of subscribed topics to handlers.
type Consumer interface {
	// SubscribeWithOptions registers handler for topic. Consumption begins on Start.
	SubscribeWithOptions(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error

	// Start starts consuming messages
	Start() error

	// Stop gracefully stops consuming messages
	Stop() error
}

// Message is a single bus record.
type Message struct {
	// ID identifies the logical event. Redeliveries keep the same ID.
	ID string `json:"id"`

	// Key selects the partition; events for one problem share a key so they stay ordered.
	Key string `json:"key"`

	Body      []byte            `json:"body"`
	Headers   map[string]string `json:"headers"`
	Timestamp time.Time         `json:"timestamp"`
}

// HandlerFunc processes one message. A returned error is logged and the
// message is committed anyway: the bus has no negative acknowledgement.
type HandlerFunc func(ctx context.Context, message *Message) error

// SubscribeOptions defines options for subscribing to a topic
type SubscribeOptions struct {
	// ConsumerGroup is the Kafka consumer group. Default: "<client>-<topic>"
	ConsumerGroup string

	// Concurrency is the number of handler workers per topic. Default: 1,
	// which keeps one handler invocation at a time per topic.
	Concurrency int

	// HandlerTimeout bounds a single handler invocation. Zero means no bound.
	HandlerTimeout time.Duration
}

// SetDefaults sets default values for subscribe options
func (o *SubscribeOptions) SetDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
}

// NewMessage creates a new message with the given body
func NewMessage(body []byte) *Message {
	return &Message{
		Body:      body,
		Headers:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

// SetHeader sets a header value
func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}

// GetHeader retrieves a header value
func (m *Message) GetHeader(key string) (string, bool) {
	if m.Headers == nil {
		return "", false
	}
	val, ok := m.Headers[key]
	return val, ok
}
