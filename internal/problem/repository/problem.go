package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"solveq/internal/common/db"
	"solveq/internal/problem/model"
	"solveq/internal/problem/statemachine"
)

var (
	ErrProblemNotFound  = errors.New("problem not found")
	ErrProblemNameTaken = errors.New("problem name already used by this user")
)

// ProblemRepository stores problems. Status writes are compare-and-set on
// the persisted status so concurrent handlers cannot produce illegal edges.
type ProblemRepository interface {
	Create(ctx context.Context, tx db.Transaction, problem *model.Problem) (int64, error)
	Get(ctx context.Context, tx db.Transaction, problemID int64) (*model.Problem, error)
	Delete(ctx context.Context, tx db.Transaction, problemID int64) error

	// Restore re-inserts a deleted problem with its original identity.
	Restore(ctx context.Context, tx db.Transaction, problem *model.Problem) error

	// Transition applies ev if the stored status allows it. It reports false
	// without error when the row is missing or in another status.
	Transition(ctx context.Context, tx db.Transaction, problemID int64, ev statemachine.Event, at time.Time) (bool, error)
}

type SQLProblemRepository struct {
	db db.Database
}

func NewProblemRepository(database db.Database) ProblemRepository {
	return &SQLProblemRepository{db: database}
}

const problemColumns = "id, user_id, model_id, name, status, submitted_on, executed_on"

func (r *SQLProblemRepository) Create(ctx context.Context, tx db.Transaction, problem *model.Problem) (int64, error) {
	if problem == nil {
		return 0, errors.New("problem is nil")
	}
	if problem.SubmittedOn.IsZero() {
		problem.SubmittedOn = time.Now().UTC()
	}

	query := "INSERT INTO problems (user_id, model_id, name, status, submitted_on) VALUES (?, ?, ?, ?, ?)"
	result, err := db.GetQuerier(r.db, tx).Exec(ctx, query,
		problem.UserID, problem.ModelID, problem.Name, problem.Status, problem.SubmittedOn)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, ErrProblemNameTaken
		}
		return 0, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	problem.ID = id
	return id, nil
}

func (r *SQLProblemRepository) Get(ctx context.Context, tx db.Transaction, problemID int64) (*model.Problem, error) {
	query := "SELECT " + problemColumns + " FROM problems WHERE id = ?"
	problem, err := scanProblem(db.GetQuerier(r.db, tx).QueryRow(ctx, query, problemID))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrProblemNotFound
		}
		return nil, err
	}
	return problem, nil
}

func (r *SQLProblemRepository) Delete(ctx context.Context, tx db.Transaction, problemID int64) error {
	result, err := db.GetQuerier(r.db, tx).Exec(ctx, "DELETE FROM problems WHERE id = ?", problemID)
	if err != nil {
		return err
	}
	if db.RowsAffected(result) == 0 {
		return ErrProblemNotFound
	}
	return nil
}

func (r *SQLProblemRepository) Restore(ctx context.Context, tx db.Transaction, problem *model.Problem) error {
	if problem == nil || problem.ID <= 0 {
		return errors.New("problem to restore has no id")
	}
	query := "INSERT INTO problems (" + problemColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?)"
	_, err := db.GetQuerier(r.db, tx).Exec(ctx, query,
		problem.ID, problem.UserID, problem.ModelID, problem.Name, problem.Status,
		problem.SubmittedOn, nullTime(problem.ExecutedOn))
	return err
}

func (r *SQLProblemRepository) Transition(ctx context.Context, tx db.Transaction, problemID int64, ev statemachine.Event, at time.Time) (bool, error) {
	sources := statemachine.Sources(ev)
	if len(sources) == 0 {
		return false, errors.New("unknown event " + string(ev))
	}
	target := statemachine.Target(ev)

	args := []interface{}{target}
	query := "UPDATE problems SET status = ?"
	if target == model.StatusExecuted {
		query += ", executed_on = ?"
		args = append(args, at)
	}
	query += " WHERE id = ? AND status IN (" + db.Placeholders(len(sources)) + ")"
	args = append(args, problemID)
	for _, s := range sources {
		args = append(args, s)
	}

	result, err := db.GetQuerier(r.db, tx).Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return db.RowsAffected(result) > 0, nil
}

func scanProblem(row db.Row) (*model.Problem, error) {
	var (
		p          model.Problem
		executedOn sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.ModelID, &p.Name, &p.Status, &p.SubmittedOn, &executedOn); err != nil {
		return nil, err
	}
	if executedOn.Valid {
		t := executedOn.Time
		p.ExecutedOn = &t
	}
	return &p, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
