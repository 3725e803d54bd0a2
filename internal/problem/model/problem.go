package model

import (
	"math"
	"time"
)

// Status is the execution lifecycle state of a problem.
type Status int

const (
	StatusNotReady Status = iota
	StatusReady
	StatusPending
	StatusRunning
	StatusExecuted
)

var statusNames = map[Status]string{
	StatusNotReady: "NOT_READY",
	StatusReady:    "READY",
	StatusPending:  "PENDING",
	StatusRunning:  "RUNNING",
	StatusExecuted: "EXECUTED",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// InFlight reports whether a solver currently owns the problem input.
func (s Status) InFlight() bool {
	return s == StatusPending || s == StatusRunning
}

// MarshalText renders the status name in JSON responses.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Problem is a user submission bound to a solver model.
type Problem struct {
	ID          int64
	UserID      int64
	ModelID     int64
	Name        string
	Status      Status
	SubmittedOn time.Time
	ExecutedOn  *time.Time
}

// InputData is the validated solver input of a problem. Error holds the last
// rejection reported by a solver and is cleared on every upload.
type InputData struct {
	ProblemID   int64
	Payload     string
	SubmittedOn time.Time
	Error       string
}

// Metadata is the opaque solver configuration sent along with the input.
type Metadata struct {
	ProblemID int64
	Payload   string
}

// Result is the settled outcome of one execution. The payload itself lives
// in object storage under ObjectKey.
type Result struct {
	ID            string
	ProblemID     int64
	ObjectKey     string
	ExecutionTime float64
	Cost          int64
	IsAvailable   bool
	CreatedAt     time.Time
}

// Model is a solver model and its price per second of execution.
type Model struct {
	ID    int64
	Name  string
	Price float64
}

// ExecutionCost prices an execution: round(price * executionTime), at least 1.
// A product beyond the int64 range saturates at math.MaxInt64, which no
// balance can afford.
func ExecutionCost(price, executionTime float64) int64 {
	product := math.Round(price * executionTime)
	if math.IsNaN(product) || product >= math.MaxInt64 {
		return math.MaxInt64
	}
	cost := int64(product)
	if cost < 1 {
		return 1
	}
	return cost
}
