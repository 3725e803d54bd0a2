package service

import (
	"context"
	"errors"
	"time"

	"solveq/internal/common/mq"
)

// SolverConsumer subscribes the problem service to the solver topics.
type SolverConsumer struct {
	mq             mq.Consumer
	service        *ProblemService
	group          string
	handlerTimeout time.Duration
}

func NewSolverConsumer(consumer mq.Consumer, service *ProblemService, group string, handlerTimeout time.Duration) *SolverConsumer {
	return &SolverConsumer{mq: consumer, service: service, group: group, handlerTimeout: handlerTimeout}
}

// Subscribe registers one handler per solver topic. Consumption begins when
// the queue starts.
func (c *SolverConsumer) Subscribe(ctx context.Context) error {
	if c.mq == nil {
		return errors.New("message queue is nil")
	}
	if c.service == nil {
		return errors.New("problem service is nil")
	}
	topics := c.service.topics
	handlers := []struct {
		topic   string
		handler mq.HandlerFunc
	}{
		{topics.ExecuteResponse, c.service.HandleExecuteResponse},
		{topics.Result, c.service.HandleResult},
		{topics.Resend, c.service.HandleResend},
		{topics.Deleted, c.service.HandleDeleted},
	}
	for _, h := range handlers {
		opts := &mq.SubscribeOptions{
			ConsumerGroup:  c.group,
			Concurrency:    1,
			HandlerTimeout: c.handlerTimeout,
		}
		if err := c.mq.SubscribeWithOptions(ctx, h.topic, h.handler, opts); err != nil {
			return err
		}
	}
	return nil
}
