package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"solveq/internal/common/db"
	"solveq/internal/problem/model"
)

var ErrInputNotFound = errors.New("input data not found")

// InputRepository stores the solver input and metadata of problems. Both are
// one-to-one with a problem and keyed by its id.
type InputRepository interface {
	GetInput(ctx context.Context, tx db.Transaction, problemID int64) (*model.InputData, error)

	// ReplaceInput stores input and clears any previous solver error.
	ReplaceInput(ctx context.Context, tx db.Transaction, input *model.InputData) error
	SetInputError(ctx context.Context, tx db.Transaction, problemID int64, message string) (bool, error)
	DeleteInput(ctx context.Context, tx db.Transaction, problemID int64) error

	// GetMetadata returns an empty payload when none was uploaded.
	GetMetadata(ctx context.Context, tx db.Transaction, problemID int64) (*model.Metadata, error)
	ReplaceMetadata(ctx context.Context, tx db.Transaction, metadata *model.Metadata) error
	DeleteMetadata(ctx context.Context, tx db.Transaction, problemID int64) error
}

type SQLInputRepository struct {
	db db.Database
}

func NewInputRepository(database db.Database) InputRepository {
	return &SQLInputRepository{db: database}
}

func (r *SQLInputRepository) GetInput(ctx context.Context, tx db.Transaction, problemID int64) (*model.InputData, error) {
	query := "SELECT problem_id, payload, submitted_on, error FROM input_data WHERE problem_id = ?"
	var (
		in     model.InputData
		errMsg sql.NullString
	)
	err := db.GetQuerier(r.db, tx).QueryRow(ctx, query, problemID).
		Scan(&in.ProblemID, &in.Payload, &in.SubmittedOn, &errMsg)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrInputNotFound
		}
		return nil, err
	}
	in.Error = errMsg.String
	return &in, nil
}

func (r *SQLInputRepository) ReplaceInput(ctx context.Context, tx db.Transaction, input *model.InputData) error {
	if input == nil {
		return errors.New("input is nil")
	}
	if input.SubmittedOn.IsZero() {
		input.SubmittedOn = time.Now().UTC()
	}
	input.Error = ""

	q := db.GetQuerier(r.db, tx)
	if _, err := q.Exec(ctx, "DELETE FROM input_data WHERE problem_id = ?", input.ProblemID); err != nil {
		return err
	}
	_, err := q.Exec(ctx, "INSERT INTO input_data (problem_id, payload, submitted_on, error) VALUES (?, ?, ?, NULL)",
		input.ProblemID, input.Payload, input.SubmittedOn)
	return err
}

func (r *SQLInputRepository) SetInputError(ctx context.Context, tx db.Transaction, problemID int64, message string) (bool, error) {
	result, err := db.GetQuerier(r.db, tx).Exec(ctx, "UPDATE input_data SET error = ? WHERE problem_id = ?", message, problemID)
	if err != nil {
		return false, err
	}
	return db.RowsAffected(result) > 0, nil
}

func (r *SQLInputRepository) DeleteInput(ctx context.Context, tx db.Transaction, problemID int64) error {
	_, err := db.GetQuerier(r.db, tx).Exec(ctx, "DELETE FROM input_data WHERE problem_id = ?", problemID)
	return err
}

func (r *SQLInputRepository) GetMetadata(ctx context.Context, tx db.Transaction, problemID int64) (*model.Metadata, error) {
	md := &model.Metadata{ProblemID: problemID}
	err := db.GetQuerier(r.db, tx).QueryRow(ctx, "SELECT payload FROM problem_metadata WHERE problem_id = ?", problemID).
		Scan(&md.Payload)
	if err != nil && !db.IsNoRows(err) {
		return nil, err
	}
	return md, nil
}

func (r *SQLInputRepository) ReplaceMetadata(ctx context.Context, tx db.Transaction, metadata *model.Metadata) error {
	if metadata == nil {
		return errors.New("metadata is nil")
	}
	q := db.GetQuerier(r.db, tx)
	if _, err := q.Exec(ctx, "DELETE FROM problem_metadata WHERE problem_id = ?", metadata.ProblemID); err != nil {
		return err
	}
	_, err := q.Exec(ctx, "INSERT INTO problem_metadata (problem_id, payload) VALUES (?, ?)",
		metadata.ProblemID, metadata.Payload)
	return err
}

func (r *SQLInputRepository) DeleteMetadata(ctx context.Context, tx db.Transaction, problemID int64) error {
	_, err := db.GetQuerier(r.db, tx).Exec(ctx, "DELETE FROM problem_metadata WHERE problem_id = ?", problemID)
	return err
}
