package repository

import (
	"context"
	"errors"

	"solveq/internal/common/db"
	"solveq/internal/problem/model"
)

var (
	ErrResultNotFound = errors.New("result not found")
	ErrResultExists   = errors.New("result already exists for problem")
)

// ResultRepository stores settled results, at most one per problem.
type ResultRepository interface {
	Get(ctx context.Context, tx db.Transaction, problemID int64) (*model.Result, error)
	Create(ctx context.Context, tx db.Transaction, result *model.Result) error

	// SetAvailable flips the lock flag and reports whether it changed.
	SetAvailable(ctx context.Context, tx db.Transaction, problemID int64, available bool) (bool, error)
	DeleteByProblem(ctx context.Context, tx db.Transaction, problemID int64) (*model.Result, error)
}

type SQLResultRepository struct {
	db db.Database
}

func NewResultRepository(database db.Database) ResultRepository {
	return &SQLResultRepository{db: database}
}

const resultColumns = "id, problem_id, object_key, execution_time, cost, is_available, created_at"

func (r *SQLResultRepository) Get(ctx context.Context, tx db.Transaction, problemID int64) (*model.Result, error) {
	var res model.Result
	err := db.GetQuerier(r.db, tx).QueryRow(ctx, "SELECT "+resultColumns+" FROM results WHERE problem_id = ?", problemID).
		Scan(&res.ID, &res.ProblemID, &res.ObjectKey, &res.ExecutionTime, &res.Cost, &res.IsAvailable, &res.CreatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrResultNotFound
		}
		return nil, err
	}
	return &res, nil
}

func (r *SQLResultRepository) Create(ctx context.Context, tx db.Transaction, result *model.Result) error {
	if result == nil {
		return errors.New("result is nil")
	}
	query := "INSERT INTO results (" + resultColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?)"
	_, err := db.GetQuerier(r.db, tx).Exec(ctx, query,
		result.ID, result.ProblemID, result.ObjectKey, result.ExecutionTime, result.Cost, result.IsAvailable, result.CreatedAt)
	if err != nil && db.IsUniqueViolation(err) {
		return ErrResultExists
	}
	return err
}

func (r *SQLResultRepository) SetAvailable(ctx context.Context, tx db.Transaction, problemID int64, available bool) (bool, error) {
	result, err := db.GetQuerier(r.db, tx).Exec(ctx,
		"UPDATE results SET is_available = ? WHERE problem_id = ? AND is_available <> ?", available, problemID, available)
	if err != nil {
		return false, err
	}
	return db.RowsAffected(result) > 0, nil
}

// DeleteByProblem removes the result of problemID and returns it, or nil
// when there was none.
func (r *SQLResultRepository) DeleteByProblem(ctx context.Context, tx db.Transaction, problemID int64) (*model.Result, error) {
	existing, err := r.Get(ctx, tx, problemID)
	if err != nil {
		if errors.Is(err, ErrResultNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if _, err := db.GetQuerier(r.db, tx).Exec(ctx, "DELETE FROM results WHERE problem_id = ?", problemID); err != nil {
		return nil, err
	}
	return existing, nil
}
