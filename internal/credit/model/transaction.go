package model

import "time"

// Transaction is one ledger entry. Amount is negative for charges; Type is
// one of the events.Transaction* values.
type Transaction struct {
	ID          string
	UserID      int64
	Amount      int64
	Type        string
	ProblemID   *int64
	Description string
	CreatedAt   time.Time
}

// Balance is the credit state of a user.
type Balance struct {
	UserID    int64
	Name      string
	Credits   int64
	IsBlocked bool
}
