package service

import (
	"context"
	"errors"
	"fmt"

	"solveq/internal/common/db"
	"solveq/internal/common/events"
	"solveq/internal/common/metrics"
	"solveq/internal/common/mq"
	"solveq/internal/problem/model"
	"solveq/internal/problem/repository"
	"solveq/internal/problem/statemachine"
	userrepo "solveq/internal/user/repository"
	"solveq/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Every solver handler keys its writes off the persisted status, so
// duplicates and messages that arrive late are ignored rather than applied
// twice. Returned errors are logged by the bus and the message is dropped.

// HandleExecuteResponse moves a PENDING problem to RUNNING, or back to
// NOT_READY with the solver's error recorded on its input.
func (s *ProblemService) HandleExecuteResponse(ctx context.Context, message *mq.Message) error {
	var event events.ExecuteResponse
	if err := events.Decode(message, &event); err != nil {
		return s.dropMalformed(ctx, s.topics.ExecuteResponse, err)
	}
	problemID := int64(event.ProblemID)
	problem, ok, err := s.lookupForHandler(ctx, s.topics.ExecuteResponse, problemID)
	if !ok {
		return err
	}
	if _, err := s.inputs.GetInput(ctx, nil, problemID); err != nil {
		if errors.Is(err, repository.ErrInputNotFound) {
			logger.Warn(ctx, "execute response for problem without input", zap.Int64("problem_id", problemID))
			s.metrics.RecordMessage(s.topics.ExecuteResponse, metrics.OutcomeDropped)
			return nil
		}
		return err
	}

	if event.Error != "" {
		return s.rejectInput(ctx, s.topics.ExecuteResponse, problem, statemachine.EventSolverError, event.Error)
	}

	applied, err := s.problems.Transition(ctx, nil, problemID, statemachine.EventSolverAck, s.now())
	if err != nil {
		return err
	}
	s.recordHandled(ctx, s.topics.ExecuteResponse, problem, model.StatusRunning, applied)
	return nil
}

// HandleResult stores a solver result, marks the problem EXECUTED and
// settles the cost with the owner.
func (s *ProblemService) HandleResult(ctx context.Context, message *mq.Message) error {
	var event events.Result
	if err := events.Decode(message, &event); err != nil {
		return s.dropMalformed(ctx, s.topics.Result, err)
	}
	problemID := int64(event.ProblemID)
	problem, ok, err := s.lookupForHandler(ctx, s.topics.Result, problemID)
	if !ok {
		return err
	}
	if !problem.Status.InFlight() {
		logger.Info(ctx, "result for problem not in flight ignored",
			zap.Int64("problem_id", problemID), zap.Stringer("status", problem.Status))
		s.metrics.RecordMessage(s.topics.Result, metrics.OutcomeIgnored)
		return nil
	}

	if event.Error != "" {
		return s.rejectInput(ctx, s.topics.Result, problem, statemachine.EventResultError, event.Error)
	}
	if event.ExecutionTime <= 0 || event.Result == "" {
		if s.emptyResults == FailEmptyResult {
			return s.rejectInput(ctx, s.topics.Result, problem, statemachine.EventResultError, emptyResultError)
		}
		logger.Warn(ctx, "result without payload or execution time dropped",
			zap.Int64("problem_id", problemID),
			zap.Float64("execution_time", event.ExecutionTime),
			zap.Int("payload_bytes", len(event.Result)),
		)
		s.metrics.RecordMessage(s.topics.Result, metrics.OutcomeDropped)
		return nil
	}

	m, err := s.models.Get(ctx, problem.ModelID)
	if err != nil {
		if errors.Is(err, repository.ErrModelNotFound) {
			logger.Error(ctx, "result for problem with unknown model dropped",
				zap.Int64("problem_id", problemID), zap.Int64("model_id", problem.ModelID))
			s.metrics.RecordMessage(s.topics.Result, metrics.OutcomeDropped)
			return nil
		}
		return err
	}
	cost := model.ExecutionCost(m.Price, event.ExecutionTime)
	affordable, err := s.affordable(ctx, problem.UserID, cost)
	if err != nil {
		if errors.Is(err, userrepo.ErrUserNotFound) {
			logger.Error(ctx, "result for problem of unknown user dropped",
				zap.Int64("problem_id", problemID), zap.Int64("user_id", problem.UserID))
			s.metrics.RecordMessage(s.topics.Result, metrics.OutcomeDropped)
			return nil
		}
		return err
	}

	resultID := uuid.NewString()
	result := &model.Result{
		ID:            resultID,
		ProblemID:     problemID,
		ObjectKey:     resultKey(problemID, resultID),
		ExecutionTime: event.ExecutionTime,
		Cost:          cost,
		IsAvailable:   affordable,
		CreatedAt:     s.now(),
	}
	if s.payloads == nil {
		return errors.New("result storage not configured")
	}
	if err := s.payloads.Put(ctx, result.ObjectKey, []byte(event.Result)); err != nil {
		return fmt.Errorf("store result payload failed: %w", err)
	}

	applied := false
	err = s.db.Transaction(ctx, func(tx db.Transaction) error {
		var err error
		applied, err = s.problems.Transition(ctx, tx, problemID, statemachine.EventResultSuccess, result.CreatedAt)
		if err != nil || !applied {
			return err
		}
		if _, err := s.results.DeleteByProblem(ctx, tx, problemID); err != nil {
			return err
		}
		return s.results.Create(ctx, tx, result)
	})
	if err != nil || !applied {
		s.discardPayload(ctx, problemID, result.ObjectKey)
		if err != nil {
			return fmt.Errorf("store result failed: %w", err)
		}
		s.recordHandled(ctx, s.topics.Result, problem, model.StatusExecuted, false)
		return nil
	}

	s.recordHandled(ctx, s.topics.Result, problem, model.StatusExecuted, true)
	s.settle(ctx, problem, result)
	return nil
}

// HandleResend re-publishes the execute request of a problem a solver lost
// and sets it back to PENDING. Problems not in flight are left untouched.
func (s *ProblemService) HandleResend(ctx context.Context, message *mq.Message) error {
	var event events.ProblemRef
	if err := events.Decode(message, &event); err != nil {
		return s.dropMalformed(ctx, s.topics.Resend, err)
	}
	problemID := int64(event.ProblemID)
	problem, ok, err := s.lookupForHandler(ctx, s.topics.Resend, problemID)
	if !ok {
		return err
	}
	if !statemachine.Allowed(problem.Status, statemachine.EventResend) {
		logger.Debug(ctx, "resend ignored", zap.Int64("problem_id", problemID), zap.Stringer("status", problem.Status))
		s.metrics.RecordMessage(s.topics.Resend, metrics.OutcomeIgnored)
		return nil
	}

	input, err := s.inputs.GetInput(ctx, nil, problemID)
	if err != nil {
		if errors.Is(err, repository.ErrInputNotFound) {
			logger.Warn(ctx, "resend for problem without input", zap.Int64("problem_id", problemID))
			s.metrics.RecordMessage(s.topics.Resend, metrics.OutcomeDropped)
			return nil
		}
		return err
	}
	if err := s.publishExecuteRequest(ctx, problem, input); err != nil {
		s.metrics.RecordMessage(s.topics.Resend, metrics.OutcomeFailed)
		return fmt.Errorf("republish execute request failed: %w", err)
	}

	applied, err := s.problems.Transition(ctx, nil, problemID, statemachine.EventResend, s.now())
	if err != nil {
		return err
	}
	s.recordHandled(ctx, s.topics.Resend, problem, model.StatusPending, applied)
	return nil
}

// HandleDeleted purges everything that belongs to a deleted problem. It is
// safe to receive for a problem that is already gone.
func (s *ProblemService) HandleDeleted(ctx context.Context, message *mq.Message) error {
	var event events.ProblemRef
	if err := events.Decode(message, &event); err != nil {
		return s.dropMalformed(ctx, s.topics.Deleted, err)
	}
	problemID := int64(event.ProblemID)
	if problemID <= 0 {
		return s.dropMalformed(ctx, s.topics.Deleted, errors.New("missing problemId"))
	}

	err := s.db.Transaction(ctx, func(tx db.Transaction) error {
		if err := s.problems.Delete(ctx, tx, problemID); err != nil && !errors.Is(err, repository.ErrProblemNotFound) {
			return err
		}
		if err := s.inputs.DeleteInput(ctx, tx, problemID); err != nil {
			return err
		}
		if err := s.inputs.DeleteMetadata(ctx, tx, problemID); err != nil {
			return err
		}
		_, err := s.results.DeleteByProblem(ctx, tx, problemID)
		return err
	})
	if err != nil {
		s.metrics.RecordMessage(s.topics.Deleted, metrics.OutcomeFailed)
		return fmt.Errorf("cascade delete failed: %w", err)
	}
	s.purgePayloads(ctx, problemID)
	s.metrics.RecordMessage(s.topics.Deleted, metrics.OutcomeApplied)
	logger.Info(ctx, "deleted problem purged", zap.Int64("problem_id", problemID))
	return nil
}

// rejectInput records a solver error on the input and returns the problem
// to NOT_READY in one transaction.
func (s *ProblemService) rejectInput(ctx context.Context, topic string, problem *model.Problem, ev statemachine.Event, reason string) error {
	applied := false
	err := s.db.Transaction(ctx, func(tx db.Transaction) error {
		var err error
		applied, err = s.problems.Transition(ctx, tx, problem.ID, ev, s.now())
		if err != nil || !applied {
			return err
		}
		_, err = s.inputs.SetInputError(ctx, tx, problem.ID, reason)
		return err
	})
	if err != nil {
		return err
	}
	if applied {
		logger.Info(ctx, "solver rejected problem input",
			zap.Int64("problem_id", problem.ID), zap.String("reason", reason))
	}
	s.recordHandled(ctx, topic, problem, model.StatusNotReady, applied)
	return nil
}

// lookupForHandler loads the problem a message refers to. ok is false when
// the message must not be processed further; err is then what the handler
// should return.
func (s *ProblemService) lookupForHandler(ctx context.Context, topic string, problemID int64) (*model.Problem, bool, error) {
	if problemID <= 0 {
		return nil, false, s.dropMalformed(ctx, topic, errors.New("missing problemId"))
	}
	problem, err := s.problems.Get(ctx, nil, problemID)
	if err != nil {
		if errors.Is(err, repository.ErrProblemNotFound) {
			logger.Warn(ctx, "message for unknown problem dropped", zap.Int64("problem_id", problemID))
			s.metrics.RecordMessage(topic, metrics.OutcomeDropped)
			return nil, false, nil
		}
		s.metrics.RecordMessage(topic, metrics.OutcomeFailed)
		return nil, false, err
	}
	return problem, true, nil
}

func (s *ProblemService) dropMalformed(ctx context.Context, topic string, err error) error {
	logger.Warn(ctx, "malformed message dropped", zap.Error(err))
	s.metrics.RecordMessage(topic, metrics.OutcomeDropped)
	return nil
}

func (s *ProblemService) recordHandled(ctx context.Context, topic string, problem *model.Problem, to model.Status, applied bool) {
	if !applied {
		logger.Info(ctx, "message does not apply to current status, ignored",
			zap.Int64("problem_id", problem.ID),
			zap.Stringer("status", problem.Status),
		)
		s.metrics.RecordMessage(topic, metrics.OutcomeIgnored)
		return
	}
	s.metrics.RecordMessage(topic, metrics.OutcomeApplied)
	s.metrics.RecordTransition(problem.Status.String(), to.String())
}

func (s *ProblemService) discardPayload(ctx context.Context, problemID int64, key string) {
	if s.payloads == nil {
		return
	}
	// only the object just written lives under this exact key
	if _, err := s.payloads.DeletePrefix(ctx, key); err != nil {
		logger.Warn(ctx, "discard unused result payload failed",
			zap.Int64("problem_id", problemID), zap.String("object_key", key), zap.Error(err))
	}
}
