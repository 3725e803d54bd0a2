// Package saga implements the commit-or-revert helper shared by every
// operation that changes local state and then notifies other services.
//
// The local step runs first. Outbound messages are then published in order;
// the first publish failure reverts the local step and the operation fails.
// Messages already accepted by the bus before the failure are not recalled,
// consumers are expected to tolerate that like any other duplicate.
package saga

import (
	"context"
	"errors"

	"solveq/internal/common/metrics"
	"solveq/internal/common/mq"
	pkgerrors "solveq/pkg/errors"
	"solveq/pkg/utils/logger"

	"go.uber.org/zap"
)

// Saga outcomes recorded in metrics.
const (
	OutcomeCommitted   = "committed"
	OutcomeReverted    = "reverted"
	OutcomeApplyFailed = "apply_failed"
	OutcomeStuck       = "revert_failed"
)

// Step is the local mutation of a commit-or-revert operation.
type Step struct {
	// Apply performs the local write.
	Apply func(ctx context.Context) error

	// Revert undoes Apply. It runs only after Apply succeeded and a publish failed.
	Revert func(ctx context.Context) error
}

// Outbound is one message published after the local step.
type Outbound struct {
	Topic   string
	Message *mq.Message
}

// Dispatcher runs commit-or-revert operations against a producer.
type Dispatcher struct {
	producer mq.Producer
	metrics  *metrics.Collector
}

func NewDispatcher(producer mq.Producer, collector *metrics.Collector) *Dispatcher {
	return &Dispatcher{producer: producer, metrics: collector}
}

// Execute applies step, publishes outbound in order and reverts step when a
// publish fails. A nil error means the local change is durable and every
// message was accepted by the bus.
func (d *Dispatcher) Execute(ctx context.Context, operation string, step Step, outbound ...Outbound) error {
	if step.Apply == nil {
		return pkgerrors.New(pkgerrors.InternalServerError).WithMessage("saga step has no apply function")
	}
	if err := step.Apply(ctx); err != nil {
		d.metrics.RecordSaga(operation, OutcomeApplyFailed)
		return err
	}

	for _, out := range outbound {
		pubErr := d.publish(ctx, out)
		if pubErr == nil {
			continue
		}

		logger.Warn(ctx, "saga publish failed, reverting local change",
			zap.String("operation", operation),
			zap.String("topic", out.Topic),
			zap.Error(pubErr),
		)
		if step.Revert != nil {
			if revErr := step.Revert(ctx); revErr != nil {
				d.metrics.RecordSaga(operation, OutcomeStuck)
				logger.Error(ctx, "saga revert failed",
					zap.String("operation", operation),
					zap.Error(revErr),
				)
				return pkgerrors.Wrapf(errors.Join(pubErr, revErr), pkgerrors.CompensateFailed,
					"%s: publish to %s failed and revert failed", operation, out.Topic)
			}
		}
		d.metrics.RecordSaga(operation, OutcomeReverted)
		return pkgerrors.Wrapf(pubErr, pkgerrors.PublishFailed, "%s: publish to %s failed", operation, out.Topic)
	}

	d.metrics.RecordSaga(operation, OutcomeCommitted)
	return nil
}

func (d *Dispatcher) publish(ctx context.Context, out Outbound) error {
	if d.producer == nil {
		return errors.New("producer is nil")
	}
	if out.Message == nil {
		return errors.New("message is nil")
	}
	return d.producer.Publish(ctx, out.Topic, out.Message)
}
