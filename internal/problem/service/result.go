package service

import (
	"context"
	"errors"
	"time"

	"solveq/internal/common/auth"
	"solveq/internal/common/storage"
	"solveq/internal/problem/model"
	pkgerrors "solveq/pkg/errors"
	"solveq/pkg/utils/logger"

	"go.uber.org/zap"
)

// ResultView is a result as shown to its owner. Data is nil while the
// result is locked.
type ResultView struct {
	ProblemID     int64
	Model         model.Model
	ExecutedOn    *time.Time
	ExecutionTime float64
	Cost          int64
	IsAvailable   bool
	Data          *string
}

// GetResult returns the result of a problem, masking the payload of a
// locked result.
func (s *ProblemService) GetResult(ctx context.Context, caller auth.Identity, problemID int64) (*ResultView, error) {
	if problemID <= 0 {
		return nil, pkgerrors.BadRequest("invalid problem id")
	}
	problem, err := s.loadOwned(ctx, nil, caller, problemID)
	if err != nil {
		return nil, err
	}
	result, err := s.getResult(ctx, problemID)
	if err != nil {
		return nil, err
	}
	return s.buildView(ctx, problem, result)
}

func (s *ProblemService) buildView(ctx context.Context, problem *model.Problem, result *model.Result) (*ResultView, error) {
	view := &ResultView{
		ProblemID:     problem.ID,
		Model:         model.Model{ID: problem.ModelID},
		ExecutedOn:    problem.ExecutedOn,
		ExecutionTime: result.ExecutionTime,
		Cost:          result.Cost,
		IsAvailable:   result.IsAvailable,
	}
	if m, err := s.models.Get(ctx, problem.ModelID); err == nil {
		view.Model = *m
	} else {
		logger.Warn(ctx, "model lookup for result failed", zap.Int64("model_id", problem.ModelID), zap.Error(err))
	}

	if !result.IsAvailable {
		return view, nil
	}
	if s.payloads == nil {
		return nil, pkgerrors.New(pkgerrors.StorageError).WithMessage("result storage not configured")
	}
	data, err := s.payloads.Get(ctx, result.ObjectKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, pkgerrors.New(pkgerrors.ResultNotFound).WithMessage("result payload missing")
		}
		return nil, pkgerrors.Wrapf(err, pkgerrors.StorageError, "read result payload failed")
	}
	payload := string(data)
	view.Data = &payload
	return view, nil
}
