package testutil

import (
	"context"
	"errors"
	"sync"

	"solveq/internal/common/mq"
)

// ErrPublish is returned by RecordingProducer for failing topics.
var ErrPublish = errors.New("broker unavailable")

// Published is one message accepted by RecordingProducer.
type Published struct {
	Topic   string
	Message *mq.Message
}

// RecordingProducer records published messages. Topics listed in Fail are
// rejected with ErrPublish.
type RecordingProducer struct {
	mu   sync.Mutex
	sent []Published
	Fail map[string]bool
}

func NewRecordingProducer() *RecordingProducer {
	return &RecordingProducer{Fail: make(map[string]bool)}
}

func (p *RecordingProducer) Publish(ctx context.Context, topic string, message *mq.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Fail[topic] {
		return ErrPublish
	}
	p.sent = append(p.sent, Published{Topic: topic, Message: message})
	return nil
}

// FailTopic makes every later publish to topic fail.
func (p *RecordingProducer) FailTopic(topic string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Fail[topic] = true
}

// RecoverTopic lets publishes to topic succeed again.
func (p *RecordingProducer) RecoverTopic(topic string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.Fail, topic)
}

// Sent returns a copy of all recorded messages.
func (p *RecordingProducer) Sent() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Published(nil), p.sent...)
}

// OnTopic returns the recorded messages for topic.
func (p *RecordingProducer) OnTopic(topic string) []*mq.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*mq.Message
	for _, s := range p.sent {
		if s.Topic == topic {
			out = append(out, s.Message)
		}
	}
	return out
}

func (p *RecordingProducer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = nil
}
