package service

import (
	"context"
	"errors"

	"solveq/internal/common/events"
	"solveq/internal/common/mq"
	"solveq/pkg/utils/logger"

	"go.uber.org/zap"
)

// BlockEventConsumer feeds block-user events into the projection.
type BlockEventConsumer struct {
	mq         mq.Consumer
	projection *BlockProjection
}

func NewBlockEventConsumer(consumer mq.Consumer, projection *BlockProjection) *BlockEventConsumer {
	return &BlockEventConsumer{mq: consumer, projection: projection}
}

// Subscribe registers the handler. Consumption begins when the queue starts.
func (c *BlockEventConsumer) Subscribe(ctx context.Context, topic, group string) error {
	if c.mq == nil {
		return errors.New("message queue is nil")
	}
	if c.projection == nil {
		return errors.New("block projection is nil")
	}
	opts := &mq.SubscribeOptions{ConsumerGroup: group}
	return c.mq.SubscribeWithOptions(ctx, topic, c.HandleMessage, opts)
}

func (c *BlockEventConsumer) HandleMessage(ctx context.Context, message *mq.Message) error {
	var event events.BlockUser
	if err := events.Decode(message, &event); err != nil {
		logger.Warn(ctx, "parse block-user event failed", zap.Error(err))
		return nil
	}
	if event.UserID <= 0 {
		logger.Warn(ctx, "block-user event missing userId")
		return nil
	}
	c.projection.Apply(ctx, int64(event.UserID), event.Block)
	return nil
}
