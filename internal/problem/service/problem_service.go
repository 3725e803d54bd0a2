package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"solveq/internal/common/auth"
	"solveq/internal/common/db"
	"solveq/internal/common/events"
	"solveq/internal/common/metrics"
	"solveq/internal/common/mq"
	"solveq/internal/problem/model"
	"solveq/internal/problem/repository"
	"solveq/internal/problem/statemachine"
	"solveq/internal/saga"
	userrepo "solveq/internal/user/repository"
	userservice "solveq/internal/user/service"
	pkgerrors "solveq/pkg/errors"
	"solveq/pkg/utils/logger"

	"go.uber.org/zap"
)

// PayloadStore keeps result payloads outside the database.
type PayloadStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// Dependencies wires a ProblemService.
type Dependencies struct {
	DB       db.Database
	Problems repository.ProblemRepository
	Inputs   repository.InputRepository
	Results  repository.ResultRepository
	Models   repository.ModelRepository
	Users    userrepo.UserRepository

	// BlockWriter is held only for settlement and delayed payment.
	BlockWriter userservice.BlockWriter
	BlockReader userservice.BlockReader

	Payloads PayloadStore
	Producer mq.Producer
	Saga     *saga.Dispatcher
	Metrics  *metrics.Collector
	Topics   events.Topics

	EmptyResultPolicy EmptyResultPolicy
	Now               func() time.Time
}

// ProblemService owns the problem lifecycle: authoring, runs, solver
// responses and settlement.
type ProblemService struct {
	db       db.Database
	problems repository.ProblemRepository
	inputs   repository.InputRepository
	results  repository.ResultRepository
	models   repository.ModelRepository
	users    userrepo.UserRepository
	blocks   userservice.BlockWriter
	blocked  userservice.BlockReader
	payloads PayloadStore
	producer mq.Producer
	saga     *saga.Dispatcher
	metrics  *metrics.Collector
	topics   events.Topics

	emptyResults EmptyResultPolicy
	now          func() time.Time
}

func NewProblemService(deps Dependencies) *ProblemService {
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	dispatcher := deps.Saga
	if dispatcher == nil {
		dispatcher = saga.NewDispatcher(deps.Producer, deps.Metrics)
	}
	return &ProblemService{
		db:           deps.DB,
		problems:     deps.Problems,
		inputs:       deps.Inputs,
		results:      deps.Results,
		models:       deps.Models,
		users:        deps.Users,
		blocks:       deps.BlockWriter,
		blocked:      deps.BlockReader,
		payloads:     deps.Payloads,
		producer:     deps.Producer,
		saga:         dispatcher,
		metrics:      deps.Metrics,
		topics:       deps.Topics.WithDefaults(),
		emptyResults: deps.EmptyResultPolicy,
		now:          now,
	}
}

// CreateInput represents input for problem creation.
type CreateInput struct {
	Name    string
	ModelID int64
}

// UploadInput carries a new solver input and its metadata.
type UploadInput struct {
	InputData string
	Metadata  string
}

// CreateProblem creates a NOT_READY problem owned by the caller.
func (s *ProblemService) CreateProblem(ctx context.Context, caller auth.Identity, input CreateInput) (*model.Problem, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.ValidationError("name", "required")
	}
	if input.ModelID <= 0 {
		return nil, pkgerrors.ValidationError("modelId", "must be positive")
	}
	if _, err := s.models.Get(ctx, input.ModelID); err != nil {
		if errors.Is(err, repository.ErrModelNotFound) {
			return nil, pkgerrors.New(pkgerrors.ModelNotFound)
		}
		return nil, pkgerrors.Wrap(fmt.Errorf("get model failed: %w", err), pkgerrors.DatabaseError)
	}

	problem := &model.Problem{
		UserID:      caller.UserID,
		ModelID:     input.ModelID,
		Name:        name,
		Status:      model.StatusNotReady,
		SubmittedOn: s.now(),
	}
	if _, err := s.problems.Create(ctx, nil, problem); err != nil {
		if errors.Is(err, repository.ErrProblemNameTaken) {
			return nil, pkgerrors.New(pkgerrors.ProblemNameTaken)
		}
		return nil, pkgerrors.Wrap(fmt.Errorf("create problem failed: %w", err), pkgerrors.ProblemCreateFailed)
	}
	logger.Info(ctx, "problem created", zap.Int64("problem_id", problem.ID), zap.Int64("user_id", problem.UserID))
	return problem, nil
}

// GetProblem returns a problem the caller may access.
func (s *ProblemService) GetProblem(ctx context.Context, caller auth.Identity, problemID int64) (*model.Problem, error) {
	if problemID <= 0 {
		return nil, pkgerrors.BadRequest("invalid problem id")
	}
	return s.loadOwned(ctx, nil, caller, problemID)
}

// UploadInputData replaces the input of a problem and makes it READY. It is
// refused while a solver holds the problem. Any previous result is discarded.
func (s *ProblemService) UploadInputData(ctx context.Context, caller auth.Identity, problemID int64, input UploadInput) (*model.Problem, error) {
	if problemID <= 0 {
		return nil, pkgerrors.BadRequest("invalid problem id")
	}
	if strings.TrimSpace(input.InputData) == "" {
		return nil, pkgerrors.ValidationError("inputData", "required")
	}

	var (
		from  model.Status
		stale *model.Result
	)
	err := s.db.Transaction(ctx, func(tx db.Transaction) error {
		problem, err := s.loadOwned(ctx, tx, caller, problemID)
		if err != nil {
			return err
		}
		from = problem.Status
		if !statemachine.Allowed(from, statemachine.EventInputUploaded) {
			return pkgerrors.New(pkgerrors.InputDataLocked)
		}
		if err := s.inputs.ReplaceInput(ctx, tx, &model.InputData{ProblemID: problemID, Payload: input.InputData, SubmittedOn: s.now()}); err != nil {
			return err
		}
		if err := s.inputs.ReplaceMetadata(ctx, tx, &model.Metadata{ProblemID: problemID, Payload: input.Metadata}); err != nil {
			return err
		}
		if stale, err = s.results.DeleteByProblem(ctx, tx, problemID); err != nil {
			return err
		}
		applied, err := s.problems.Transition(ctx, tx, problemID, statemachine.EventInputUploaded, s.now())
		if err != nil {
			return err
		}
		if !applied {
			return pkgerrors.New(pkgerrors.InputDataLocked)
		}
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ProblemUpdateFailed)
	}

	s.metrics.RecordTransition(from.String(), model.StatusReady.String())
	if stale != nil {
		s.purgePayloads(ctx, problemID)
	}
	return s.problems.Get(ctx, nil, problemID)
}

// DeleteInputData removes the input and any result, returning the problem to NOT_READY.
func (s *ProblemService) DeleteInputData(ctx context.Context, caller auth.Identity, problemID int64) error {
	if problemID <= 0 {
		return pkgerrors.BadRequest("invalid problem id")
	}

	var (
		from  model.Status
		stale *model.Result
	)
	err := s.db.Transaction(ctx, func(tx db.Transaction) error {
		problem, err := s.loadOwned(ctx, tx, caller, problemID)
		if err != nil {
			return err
		}
		from = problem.Status
		if !statemachine.Allowed(from, statemachine.EventInputDeleted) {
			return pkgerrors.New(pkgerrors.InputDataLocked)
		}
		if _, err := s.inputs.GetInput(ctx, tx, problemID); err != nil {
			if errors.Is(err, repository.ErrInputNotFound) {
				return pkgerrors.New(pkgerrors.InputDataNotFound)
			}
			return err
		}
		if err := s.inputs.DeleteInput(ctx, tx, problemID); err != nil {
			return err
		}
		if stale, err = s.results.DeleteByProblem(ctx, tx, problemID); err != nil {
			return err
		}
		applied, err := s.problems.Transition(ctx, tx, problemID, statemachine.EventInputDeleted, s.now())
		if err != nil {
			return err
		}
		if !applied {
			return pkgerrors.New(pkgerrors.InputDataLocked)
		}
		return nil
	})
	if err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ProblemUpdateFailed)
	}

	s.metrics.RecordTransition(from.String(), model.StatusNotReady.String())
	if stale != nil {
		s.purgePayloads(ctx, problemID)
	}
	return nil
}

// DeleteProblem removes the problem and announces it on problem-deleted so
// dependent records are purged. If the announcement cannot be published the
// problem is restored and the deletion fails.
func (s *ProblemService) DeleteProblem(ctx context.Context, caller auth.Identity, problemID int64) error {
	if problemID <= 0 {
		return pkgerrors.BadRequest("invalid problem id")
	}
	snapshot, err := s.loadOwned(ctx, nil, caller, problemID)
	if err != nil {
		return err
	}

	msg, err := events.Encode("", problemID, events.ProblemRef{ProblemID: events.ID(problemID)})
	if err != nil {
		return err
	}
	err = s.saga.Execute(ctx, "delete-problem", saga.Step{
		Apply: func(ctx context.Context) error {
			if err := s.problems.Delete(ctx, nil, problemID); err != nil {
				if errors.Is(err, repository.ErrProblemNotFound) {
					return pkgerrors.New(pkgerrors.ProblemNotFound)
				}
				return pkgerrors.Wrap(fmt.Errorf("delete problem failed: %w", err), pkgerrors.ProblemDeleteFailed)
			}
			return nil
		},
		Revert: func(ctx context.Context) error {
			return s.problems.Restore(ctx, nil, snapshot)
		},
	}, saga.Outbound{Topic: s.topics.Deleted, Message: msg})
	if err != nil {
		return err
	}
	logger.Info(ctx, "problem deleted", zap.Int64("problem_id", problemID), zap.Int64("user_id", caller.UserID))
	return nil
}

// loadOwned fetches a problem and checks the caller may act on it.
func (s *ProblemService) loadOwned(ctx context.Context, tx db.Transaction, caller auth.Identity, problemID int64) (*model.Problem, error) {
	problem, err := s.problems.Get(ctx, tx, problemID)
	if err != nil {
		if errors.Is(err, repository.ErrProblemNotFound) {
			return nil, pkgerrors.New(pkgerrors.ProblemNotFound)
		}
		return nil, pkgerrors.Wrap(fmt.Errorf("get problem failed: %w", err), pkgerrors.DatabaseError)
	}
	if !caller.CanAccess(problem.UserID) {
		return nil, pkgerrors.New(pkgerrors.ProblemAccessDenied)
	}
	return problem, nil
}

func (s *ProblemService) purgePayloads(ctx context.Context, problemID int64) {
	if s.payloads == nil {
		return
	}
	n, err := s.payloads.DeletePrefix(ctx, resultPrefix(problemID))
	if err != nil {
		logger.Warn(ctx, "purge result payloads failed", zap.Int64("problem_id", problemID), zap.Error(err))
		return
	}
	if n > 0 {
		logger.Debug(ctx, "result payloads purged", zap.Int64("problem_id", problemID), zap.Int("objects", n))
	}
}

func resultPrefix(problemID int64) string {
	return fmt.Sprintf("results/%d/", problemID)
}

func resultKey(problemID int64, resultID string) string {
	return fmt.Sprintf("results/%d/%s.json.zst", problemID, resultID)
}
