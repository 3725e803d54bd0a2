package repository

import (
	"context"
	"database/sql"
	"errors"

	"solveq/internal/common/db"
	"solveq/internal/credit/model"
)

const defaultListLimit = 50

// TransactionRepository is the append-only credit ledger.
type TransactionRepository interface {
	// Insert appends tx and reports false when an entry with the same id
	// already exists.
	Insert(ctx context.Context, tx db.Transaction, entry *model.Transaction) (bool, error)

	// ListByUser returns the newest entries of a user first.
	ListByUser(ctx context.Context, userID int64, limit int) ([]*model.Transaction, error)
}

type SQLTransactionRepository struct {
	db db.Database
}

func NewTransactionRepository(database db.Database) TransactionRepository {
	return &SQLTransactionRepository{db: database}
}

const transactionColumns = "id, user_id, amount, type, problem_id, description, created_at"

func (r *SQLTransactionRepository) Insert(ctx context.Context, tx db.Transaction, entry *model.Transaction) (bool, error) {
	if entry == nil {
		return false, errors.New("transaction is nil")
	}
	var problemID sql.NullInt64
	if entry.ProblemID != nil {
		problemID = sql.NullInt64{Int64: *entry.ProblemID, Valid: true}
	}
	_, err := db.GetQuerier(r.db, tx).Exec(ctx,
		"INSERT INTO transactions ("+transactionColumns+") VALUES ("+db.Placeholders(7)+")",
		entry.ID, entry.UserID, entry.Amount, entry.Type, problemID, entry.Description, entry.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *SQLTransactionRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]*model.Transaction, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := r.db.Query(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?",
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Transaction
	for rows.Next() {
		var (
			entry     model.Transaction
			problemID sql.NullInt64
		)
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.Amount, &entry.Type, &problemID, &entry.Description, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if problemID.Valid {
			v := problemID.Int64
			entry.ProblemID = &v
		}
		out = append(out, &entry)
	}
	return out, rows.Err()
}
