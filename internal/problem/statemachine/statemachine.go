// Package statemachine holds the legal problem status transitions.
//
// Every persisted status change goes through Next, and repositories use
// Sources to guard their UPDATE statements so a write only lands when the
// stored status still allows the event.
package statemachine

import (
	"solveq/internal/problem/model"
	pkgerrors "solveq/pkg/errors"
)

// Event is something that moves a problem between states.
type Event string

const (
	EventInputUploaded Event = "input_uploaded"
	EventInputDeleted  Event = "input_deleted"
	EventRunRequested  Event = "run_requested"
	EventSolverAck     Event = "solver_ack"
	EventSolverError   Event = "solver_error"
	EventResultSuccess Event = "result_success"
	EventResultError   Event = "result_error"
	EventResend        Event = "resend"
)

type rule struct {
	from []model.Status
	to   model.Status
}

var rules = map[Event]rule{
	EventInputUploaded: {from: []model.Status{model.StatusNotReady, model.StatusReady, model.StatusExecuted}, to: model.StatusReady},
	EventInputDeleted:  {from: []model.Status{model.StatusNotReady, model.StatusReady, model.StatusExecuted}, to: model.StatusNotReady},
	EventRunRequested:  {from: []model.Status{model.StatusReady}, to: model.StatusPending},
	EventSolverAck:     {from: []model.Status{model.StatusPending}, to: model.StatusRunning},
	EventSolverError:   {from: []model.Status{model.StatusPending, model.StatusRunning}, to: model.StatusNotReady},
	EventResultSuccess: {from: []model.Status{model.StatusPending, model.StatusRunning}, to: model.StatusExecuted},
	EventResultError:   {from: []model.Status{model.StatusPending, model.StatusRunning}, to: model.StatusNotReady},
	EventResend:        {from: []model.Status{model.StatusPending, model.StatusRunning}, to: model.StatusPending},
}

// Next returns the state reached from when ev occurs, or an
// IllegalTransition error when ev is not allowed there.
func Next(from model.Status, ev Event) (model.Status, error) {
	r, ok := rules[ev]
	if !ok {
		return from, pkgerrors.Newf(pkgerrors.IllegalTransition, "unknown event %q", ev)
	}
	for _, s := range r.from {
		if s == from {
			return r.to, nil
		}
	}
	return from, pkgerrors.Newf(pkgerrors.IllegalTransition, "%s not allowed in status %s", ev, from)
}

// Allowed reports whether ev may occur in status from.
func Allowed(from model.Status, ev Event) bool {
	_, err := Next(from, ev)
	return err == nil
}

// Sources lists the states ev may occur in.
func Sources(ev Event) []model.Status {
	r, ok := rules[ev]
	if !ok {
		return nil
	}
	return append([]model.Status(nil), r.from...)
}

// Target is the state ev leads to.
func Target(ev Event) model.Status {
	return rules[ev].to
}

// Events lists every known event.
func Events() []Event {
	return []Event{
		EventInputUploaded,
		EventInputDeleted,
		EventRunRequested,
		EventSolverAck,
		EventSolverError,
		EventResultSuccess,
		EventResultError,
		EventResend,
	}
}

// LegalEdge reports whether the table contains a direct edge from -> to.
func LegalEdge(from, to model.Status) bool {
	for _, r := range rules {
		if r.to != to {
			continue
		}
		for _, s := range r.from {
			if s == from {
				return true
			}
		}
	}
	return false
}
