package db

import (
	"context"
)

// Database is the relational store used by every repository.
type Database interface {
	Querier

	// Transaction runs fn inside a transaction, committing when fn returns nil.
	Transaction(ctx context.Context, fn func(tx Transaction) error) error

	// Dialect reports the SQL driver name ("mysql" or "sqlite3").
	Dialect() string

	Ping(ctx context.Context) error
	Close() error
}

// Transaction is a Querier bound to an open transaction.
type Transaction interface {
	Querier
	Commit() error
	Rollback() error
}

// Rows iterates query results.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}

// Row is the result of QueryRow.
type Row interface {
	Scan(dest ...interface{}) error
}

// Result summarizes an Exec call.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}
