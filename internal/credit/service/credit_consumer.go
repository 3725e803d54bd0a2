package service

import (
	"context"
	"errors"
	"time"

	"solveq/internal/common/mq"
)

// CreditConsumer subscribes the credit service to charge and ledger topics.
type CreditConsumer struct {
	mq             mq.Consumer
	service        *CreditService
	group          string
	handlerTimeout time.Duration
}

func NewCreditConsumer(consumer mq.Consumer, service *CreditService, group string, handlerTimeout time.Duration) *CreditConsumer {
	return &CreditConsumer{mq: consumer, service: service, group: group, handlerTimeout: handlerTimeout}
}

// Subscribe registers the charge and ledger handlers.
func (c *CreditConsumer) Subscribe(ctx context.Context) error {
	if c.mq == nil {
		return errors.New("message queue is nil")
	}
	if c.service == nil {
		return errors.New("credit service is nil")
	}
	opts := &mq.SubscribeOptions{
		ConsumerGroup:  c.group,
		Concurrency:    1,
		HandlerTimeout: c.handlerTimeout,
	}
	if err := c.mq.SubscribeWithOptions(ctx, c.service.topics.ChargeUser, c.service.HandleCharge, opts); err != nil {
		return err
	}
	return c.mq.SubscribeWithOptions(ctx, c.service.topics.TransactionCreated, c.service.HandleTransactionCreated, opts)
}
