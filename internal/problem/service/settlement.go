package service

import (
	"context"
	"errors"
	"fmt"

	"solveq/internal/common/auth"
	"solveq/internal/common/events"
	"solveq/internal/common/mq"
	"solveq/internal/problem/model"
	"solveq/internal/problem/repository"
	"solveq/internal/saga"
	userrepo "solveq/internal/user/repository"
	pkgerrors "solveq/pkg/errors"
	"solveq/pkg/utils/logger"

	"go.uber.org/zap"
)

// EmptyResultPolicy decides what happens to a successful result message that
// has no payload or no execution time.
type EmptyResultPolicy string

const (
	// DropEmptyResult logs and drops the message; the problem keeps its status.
	DropEmptyResult EmptyResultPolicy = "drop"
	// FailEmptyResult handles the message like a solver error.
	FailEmptyResult EmptyResultPolicy = "fail"
)

const emptyResultError = "solver returned an empty result"

// Settlement outcomes.
const (
	settlementCharged = "charged"
	settlementLocked  = "locked"
)

// Delayed payment outcomes.
const (
	paymentUnlocked     = "unlocked"
	paymentInsufficient = "insufficient"
	paymentAlreadyPaid  = "already_paid"
)

var errAlreadyUnlocked = errors.New("result already unlocked")

// ParseEmptyResultPolicy maps a config value to a policy. Empty means drop.
func ParseEmptyResultPolicy(v string) (EmptyResultPolicy, error) {
	switch EmptyResultPolicy(v) {
	case "", DropEmptyResult:
		return DropEmptyResult, nil
	case FailEmptyResult:
		return FailEmptyResult, nil
	default:
		return "", fmt.Errorf("unknown empty result policy %q", v)
	}
}

// affordable reports whether the problem owner can pay cost right now.
func (s *ProblemService) affordable(ctx context.Context, userID, cost int64) (bool, error) {
	user, err := s.users.Get(ctx, nil, userID)
	if err != nil {
		return false, err
	}
	return user.Credits >= cost, nil
}

// chargeMessage builds the debit request for result. The message id is
// derived from the result so a repeated charge for it is dropped downstream.
func chargeMessage(problem *model.Problem, result *model.Result) (*mq.Message, error) {
	return events.Encode(
		events.ChargeMessageID(problem.ID, result.ID),
		problem.UserID,
		events.ChargeUser{
			ID:        events.ID(problem.UserID),
			Amount:    result.Cost,
			ProblemID: events.IDPtr(problem.ID),
		},
	)
}

// chargeOwner asks the credit service to debit cost for result.
// Publish failures are logged only.
func (s *ProblemService) chargeOwner(ctx context.Context, problem *model.Problem, result *model.Result) {
	msg, err := chargeMessage(problem, result)
	if err == nil {
		if s.producer == nil {
			err = errors.New("producer is nil")
		} else {
			err = s.producer.Publish(ctx, s.topics.ChargeUser, msg)
		}
	}
	if err != nil {
		logger.Error(ctx, "publish charge failed, credits not debited",
			zap.Int64("problem_id", problem.ID),
			zap.Int64("user_id", problem.UserID),
			zap.Int64("cost", result.Cost),
			zap.Error(err),
		)
	}
}

// setBlocked logs block write failures; the result is already committed.
func (s *ProblemService) setBlocked(ctx context.Context, userID int64, blocked bool) {
	if s.blocks == nil {
		logger.Warn(ctx, "no block writer configured", zap.Int64("user_id", userID))
		return
	}
	if err := s.blocks.SetBlocked(ctx, userID, blocked); err != nil {
		logger.Error(ctx, "update user block state failed",
			zap.Int64("user_id", userID),
			zap.Bool("blocked", blocked),
			zap.Error(err),
		)
	}
}

// settle runs the post-commit side effects for a freshly stored result.
func (s *ProblemService) settle(ctx context.Context, problem *model.Problem, result *model.Result) {
	if result.IsAvailable {
		s.chargeOwner(ctx, problem, result)
		s.metrics.RecordSettlement(settlementCharged, result.Cost)
		logger.Info(ctx, "result settled",
			zap.Int64("problem_id", problem.ID),
			zap.Int64("user_id", problem.UserID),
			zap.Int64("cost", result.Cost),
		)
		return
	}
	s.setBlocked(ctx, problem.UserID, true)
	s.metrics.RecordSettlement(settlementLocked, result.Cost)
	logger.Info(ctx, "result locked until paid",
		zap.Int64("problem_id", problem.ID),
		zap.Int64("user_id", problem.UserID),
		zap.Int64("cost", result.Cost),
	)
}

// PayResult unlocks a locked result once the owner can afford it, charges
// the cost and lifts the owner's block. A result that is already available
// is returned unchanged and is not charged again. If the charge cannot be
// published the result is locked again and PublishFailed is returned.
func (s *ProblemService) PayResult(ctx context.Context, caller auth.Identity, problemID int64) (*ResultView, error) {
	if problemID <= 0 {
		return nil, pkgerrors.BadRequest("invalid problem id")
	}
	problem, err := s.loadOwned(ctx, nil, caller, problemID)
	if err != nil {
		return nil, err
	}
	if problem.Status != model.StatusExecuted {
		return nil, pkgerrors.Newf(pkgerrors.ProblemNotExecuted, "problem is %s, not EXECUTED", problem.Status)
	}
	result, err := s.getResult(ctx, problemID)
	if err != nil {
		return nil, err
	}
	if result.IsAvailable {
		s.metrics.RecordDelayedPayment(paymentAlreadyPaid)
		return s.buildView(ctx, problem, result)
	}

	user, err := s.users.Get(ctx, nil, problem.UserID)
	if err != nil {
		if errors.Is(err, userrepo.ErrUserNotFound) {
			return nil, pkgerrors.New(pkgerrors.UserNotFound)
		}
		return nil, pkgerrors.Wrap(fmt.Errorf("get user failed: %w", err), pkgerrors.DatabaseError)
	}
	if user.Credits < result.Cost {
		s.metrics.RecordDelayedPayment(paymentInsufficient)
		return nil, pkgerrors.InsufficientCreditsError(user.Credits, result.Cost)
	}

	msg, err := chargeMessage(problem, result)
	if err != nil {
		return nil, err
	}
	// Unlock and charge commit together: a charge that cannot be published
	// locks the result again and the owner stays blocked.
	err = s.saga.Execute(ctx, "delayed-payment", saga.Step{
		Apply: func(ctx context.Context) error {
			changed, err := s.results.SetAvailable(ctx, nil, problemID, true)
			if err != nil {
				return pkgerrors.Wrap(fmt.Errorf("unlock result failed: %w", err), pkgerrors.ProblemUpdateFailed)
			}
			if !changed {
				return errAlreadyUnlocked
			}
			return nil
		},
		Revert: func(ctx context.Context) error {
			_, err := s.results.SetAvailable(ctx, nil, problemID, false)
			return err
		},
	}, saga.Outbound{Topic: s.topics.ChargeUser, Message: msg})
	if errors.Is(err, errAlreadyUnlocked) {
		// a concurrent payment unlocked it first and owns the charge
		result.IsAvailable = true
		s.metrics.RecordDelayedPayment(paymentAlreadyPaid)
		return s.buildView(ctx, problem, result)
	}
	if err != nil {
		logger.Error(ctx, "delayed payment failed, result stays locked",
			zap.Int64("problem_id", problemID),
			zap.Int64("user_id", problem.UserID),
			zap.Error(err),
		)
		return nil, err
	}
	result.IsAvailable = true

	s.setBlocked(ctx, problem.UserID, false)
	s.metrics.RecordDelayedPayment(paymentUnlocked)
	logger.Info(ctx, "locked result paid",
		zap.Int64("problem_id", problemID),
		zap.Int64("user_id", problem.UserID),
		zap.Int64("cost", result.Cost),
	)
	return s.buildView(ctx, problem, result)
}

func (s *ProblemService) getResult(ctx context.Context, problemID int64) (*model.Result, error) {
	result, err := s.results.Get(ctx, nil, problemID)
	if err != nil {
		if errors.Is(err, repository.ErrResultNotFound) {
			return nil, pkgerrors.New(pkgerrors.ResultNotFound)
		}
		return nil, pkgerrors.Wrap(fmt.Errorf("get result failed: %w", err), pkgerrors.DatabaseError)
	}
	return result, nil
}
