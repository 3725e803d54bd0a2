package service

import (
	"fmt"
	"math/rand"
	"testing"

	"solveq/internal/common/events"
	"solveq/internal/problem/model"
	"solveq/internal/problem/statemachine"

	"github.com/stretchr/testify/require"
)

// step drives one user request or solver message against a problem.
type step struct {
	name string
	run  func(f *fixture, problemID int64) error
	// async steps are bus handlers and must never fail with a healthy bus.
	async bool
}

func sequenceSteps(rng *rand.Rand) []step {
	ref := func(id int64) events.ProblemRef { return events.ProblemRef{ProblemID: events.ID(id)} }
	return []step{
		{name: "upload", run: func(f *fixture, id int64) error {
			_, err := f.svc.UploadInputData(f.ctx(), f.owner, id, UploadInput{InputData: `{"n":3}`, Metadata: `{}`})
			return err
		}},
		{name: "delete-input", run: func(f *fixture, id int64) error {
			return f.svc.DeleteInputData(f.ctx(), f.owner, id)
		}},
		{name: "run", run: func(f *fixture, id int64) error {
			_, err := f.svc.RunProblem(f.ctx(), f.owner, id)
			return err
		}},
		{name: "pay", run: func(f *fixture, id int64) error {
			_, err := f.svc.PayResult(f.ctx(), f.owner, id)
			return err
		}},
		{name: "top-up", run: func(f *fixture, id int64) error {
			return f.users.AddCredits(f.ctx(), nil, f.owner.UserID, 4)
		}},
		{name: "ack", async: true, run: func(f *fixture, id int64) error {
			return f.svc.HandleExecuteResponse(f.ctx(), f.message(events.ExecuteResponse{ProblemID: events.ID(id)}))
		}},
		{name: "ack-error", async: true, run: func(f *fixture, id int64) error {
			return f.svc.HandleExecuteResponse(f.ctx(), f.message(events.ExecuteResponse{ProblemID: events.ID(id), Error: "bad input"}))
		}},
		{name: "result", async: true, run: func(f *fixture, id int64) error {
			seconds := float64(1 + rng.Intn(6))
			return f.svc.HandleResult(f.ctx(), f.message(events.Result{ProblemID: events.ID(id), ExecutionTime: seconds, Result: "x"}))
		}},
		{name: "result-error", async: true, run: func(f *fixture, id int64) error {
			return f.svc.HandleResult(f.ctx(), f.message(events.Result{ProblemID: events.ID(id), Error: "infeasible"}))
		}},
		{name: "result-empty", async: true, run: func(f *fixture, id int64) error {
			return f.svc.HandleResult(f.ctx(), f.message(events.Result{ProblemID: events.ID(id)}))
		}},
		{name: "resend", async: true, run: func(f *fixture, id int64) error {
			return f.svc.HandleResend(f.ctx(), f.message(ref(id)))
		}},
	}
}

func TestRandomHandlerSequencesPersistOnlyLegalTransitions(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		t.Run(fmt.Sprintf("seed-%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			f := newFixture(t, 3, 1)
			p, err := f.svc.CreateProblem(f.ctx(), f.owner, CreateInput{Name: "walk", ModelID: f.modelID})
			require.NoError(t, err)

			steps := sequenceSteps(rng)
			status := f.status(p.ID)
			require.Equal(t, model.StatusNotReady, status)
			var trace []string
			for i := 0; i < 60; i++ {
				s := steps[rng.Intn(len(steps))]
				err := s.run(f, p.ID)
				trace = append(trace, s.name)
				if s.async {
					require.NoError(t, err, "handler %s failed, trace %v", s.name, trace)
				}

				next := f.status(p.ID)
				require.True(t, next.Valid(), "invalid status %d", next)
				if next != status {
					require.True(t, statemachine.LegalEdge(status, next),
						"illegal edge %s -> %s after %s, trace %v", status, next, s.name, trace)
				}
				if next == model.StatusExecuted {
					_, err := f.results.Get(f.ctx(), nil, p.ID)
					require.NoError(t, err, "EXECUTED without result, trace %v", trace)
				}
				status = next
			}
		})
	}
}
