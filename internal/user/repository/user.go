package repository

import (
	"context"
	"errors"

	"solveq/internal/common/db"
)

var ErrUserNotFound = errors.New("user not found")

// User is the credit and block state of an account. Identity and
// authentication live in another service.
type User struct {
	ID        int64
	Name      string
	Credits   int64
	IsBlocked bool
	IsDeleted bool
}

// UserRepository reads and writes the users table.
type UserRepository interface {
	// Get returns live users only; deleted users are reported as not found.
	Get(ctx context.Context, tx db.Transaction, userID int64) (*User, error)

	// SetBlocked writes the block flag and reports whether it changed.
	SetBlocked(ctx context.Context, tx db.Transaction, userID int64, blocked bool) (bool, error)

	// AddCredits adds delta (possibly negative) to the balance.
	AddCredits(ctx context.Context, tx db.Transaction, userID int64, delta int64) error
}

type SQLUserRepository struct {
	db db.Database
}

func NewUserRepository(database db.Database) UserRepository {
	return &SQLUserRepository{db: database}
}

func (r *SQLUserRepository) Get(ctx context.Context, tx db.Transaction, userID int64) (*User, error) {
	var u User
	err := db.GetQuerier(r.db, tx).QueryRow(ctx,
		"SELECT id, name, credits, is_blocked, is_deleted FROM users WHERE id = ? AND is_deleted = ?", userID, false).
		Scan(&u.ID, &u.Name, &u.Credits, &u.IsBlocked, &u.IsDeleted)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *SQLUserRepository) SetBlocked(ctx context.Context, tx db.Transaction, userID int64, blocked bool) (bool, error) {
	q := db.GetQuerier(r.db, tx)
	result, err := q.Exec(ctx, "UPDATE users SET is_blocked = ? WHERE id = ? AND is_blocked <> ?", blocked, userID, blocked)
	if err != nil {
		return false, err
	}
	if db.RowsAffected(result) > 0 {
		return true, nil
	}
	if _, err := r.Get(ctx, tx, userID); err != nil {
		return false, err
	}
	return false, nil
}

func (r *SQLUserRepository) AddCredits(ctx context.Context, tx db.Transaction, userID int64, delta int64) error {
	result, err := db.GetQuerier(r.db, tx).Exec(ctx,
		"UPDATE users SET credits = credits + ? WHERE id = ? AND is_deleted = ?", delta, userID, false)
	if err != nil {
		return err
	}
	if db.RowsAffected(result) == 0 {
		return ErrUserNotFound
	}
	return nil
}
