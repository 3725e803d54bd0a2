package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"solveq/internal/common/db"
)

var sqliteSeq atomic.Int64

// NewSQLite opens a private in-memory sqlite database with the schema applied.
func NewSQLite(t *testing.T) *db.SQLDatabase {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, sqliteSeq.Add(1))
	database, err := db.Open(context.Background(), db.Config{
		Driver:      db.DriverSQLite,
		DSN:         dsn,
		AutoMigrate: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return database
}

// SeedUser inserts a user row and returns its id.
func SeedUser(t *testing.T, database db.Database, name string, credits int64) int64 {
	t.Helper()
	res, err := database.Exec(context.Background(),
		"INSERT INTO users (name, credits, is_blocked, is_deleted) VALUES (?, ?, 0, 0)", name, credits)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("seed user id: %v", err)
	}
	return id
}

// SeedModel inserts a model row and returns its id.
func SeedModel(t *testing.T, database db.Database, name string, price float64) int64 {
	t.Helper()
	res, err := database.Exec(context.Background(),
		"INSERT INTO models (name, price) VALUES (?, ?)", name, price)
	if err != nil {
		t.Fatalf("seed model: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("seed model id: %v", err)
	}
	return id
}
