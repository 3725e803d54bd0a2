package service

import (
	"context"
	"errors"
	"fmt"

	"solveq/internal/common/auth"
	"solveq/internal/common/events"
	"solveq/internal/problem/model"
	"solveq/internal/problem/repository"
	"solveq/internal/problem/statemachine"
	pkgerrors "solveq/pkg/errors"
	"solveq/pkg/utils/logger"

	"go.uber.org/zap"
)

// RunProblem sends a READY problem to the solvers and marks it PENDING. When
// the request cannot be published the problem stays READY.
func (s *ProblemService) RunProblem(ctx context.Context, caller auth.Identity, problemID int64) (*model.Problem, error) {
	if problemID <= 0 {
		return nil, pkgerrors.BadRequest("invalid problem id")
	}
	if s.blocked != nil {
		blocked, err := s.blocked.IsBlocked(ctx, caller.UserID)
		if err != nil {
			return nil, err
		}
		if blocked {
			return nil, pkgerrors.New(pkgerrors.UserBlocked)
		}
	}

	problem, err := s.loadOwned(ctx, nil, caller, problemID)
	if err != nil {
		return nil, err
	}
	input, err := s.inputs.GetInput(ctx, nil, problemID)
	if err != nil {
		if errors.Is(err, repository.ErrInputNotFound) {
			return nil, pkgerrors.New(pkgerrors.InputDataNotFound)
		}
		return nil, pkgerrors.Wrap(fmt.Errorf("get input failed: %w", err), pkgerrors.DatabaseError)
	}
	if !statemachine.Allowed(problem.Status, statemachine.EventRunRequested) {
		return nil, pkgerrors.Newf(pkgerrors.ProblemNotReady, "problem is %s, not READY", problem.Status)
	}

	if err := s.publishExecuteRequest(ctx, problem, input); err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.ProblemRunFailed, "send problem to solver failed")
	}

	applied, err := s.problems.Transition(ctx, nil, problemID, statemachine.EventRunRequested, s.now())
	if err != nil {
		return nil, pkgerrors.Wrap(fmt.Errorf("mark problem pending failed: %w", err), pkgerrors.ProblemUpdateFailed)
	}
	if applied {
		s.metrics.RecordTransition(problem.Status.String(), model.StatusPending.String())
	} else {
		logger.Warn(ctx, "problem changed status while being sent to solver", zap.Int64("problem_id", problemID))
	}
	logger.Info(ctx, "problem sent to solver", zap.Int64("problem_id", problemID), zap.Int64("model_id", problem.ModelID))
	return s.problems.Get(ctx, nil, problemID)
}

// publishExecuteRequest publishes the execute request built from the stored
// input and metadata.
func (s *ProblemService) publishExecuteRequest(ctx context.Context, problem *model.Problem, input *model.InputData) error {
	metadata, err := s.inputs.GetMetadata(ctx, nil, problem.ID)
	if err != nil {
		return err
	}
	msg, err := events.Encode("", problem.ID, events.ExecuteRequest{
		ProblemID: events.ID(problem.ID),
		ModelID:   events.ID(problem.ModelID),
		InputData: input.Payload,
		Metadata:  metadata.Payload,
	})
	if err != nil {
		return err
	}
	if s.producer == nil {
		return errors.New("producer is nil")
	}
	return s.producer.Publish(ctx, s.topics.ExecuteRequest, msg)
}
