package repository

import (
	"context"
	"testing"

	"solveq/internal/testutil"
)

func TestAddCreditsAndBlockFlag(t *testing.T) {
	database := testutil.NewSQLite(t)
	repo := NewUserRepository(database)
	ctx := context.Background()
	id := testutil.SeedUser(t, database, "grace", 10)

	testutil.AssertNil(t, repo.AddCredits(ctx, nil, id, -7))
	u, err := repo.Get(ctx, nil, id)
	testutil.AssertNil(t, err)
	testutil.AssertEqual(t, u.Credits, int64(3))
	testutil.AssertFalse(t, u.IsBlocked, "new users are not blocked")

	changed, err := repo.SetBlocked(ctx, nil, id, true)
	testutil.AssertNil(t, err)
	testutil.AssertTrue(t, changed, "first block changes the flag")

	changed, err = repo.SetBlocked(ctx, nil, id, true)
	testutil.AssertNil(t, err)
	testutil.AssertFalse(t, changed, "second block is a no-op")

	if err := repo.AddCredits(ctx, nil, 404, 5); err != ErrUserNotFound {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := repo.SetBlocked(ctx, nil, 404, true); err != ErrUserNotFound {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestDeletedUsersAreNotFound(t *testing.T) {
	database := testutil.NewSQLite(t)
	repo := NewUserRepository(database)
	ctx := context.Background()
	id := testutil.SeedUser(t, database, "gone", 10)

	if _, err := database.Exec(ctx, "UPDATE users SET is_deleted = 1 WHERE id = ?", id); err != nil {
		t.Fatalf("mark deleted: %v", err)
	}
	if _, err := repo.Get(ctx, nil, id); err != ErrUserNotFound {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if err := repo.AddCredits(ctx, nil, id, 1); err != ErrUserNotFound {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
