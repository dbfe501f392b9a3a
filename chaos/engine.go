// chaos/engine.go

// Package chaos probes a running deployment for the invariants the
// borrowing core promises: no oversell under concurrency, idempotent
// returns, and a ledger that always matches the active-loan count. Each
// experiment states a hypothesis, drives real traffic through the public
// API, and validates the outcome against the database.
package chaos

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"loanledger/internal/clients"
	"loanledger/internal/postgres"
)

// Experiment is one hypothesis about system behaviour under stress.
type Experiment struct {
	Name       string
	Hypothesis string
	Run        func(ctx context.Context) error
}

// Result captures one experiment execution.
type Result struct {
	ExperimentName string        `json:"experiment_name"`
	StartTime      time.Time     `json:"start_time"`
	Duration       time.Duration `json:"duration"`
	HypothesisHeld bool          `json:"hypothesis_held"`
	Failure        string        `json:"failure,omitempty"`
}

// Engine runs experiments against a live service and verifies state
// directly in its database.
type Engine struct {
	tracer      trace.Tracer
	client      *clients.CirculationClient
	store       *postgres.Store
	experiments []Experiment
	results     []Result
}

// NewEngine wires the engine to the service API and its backing store.
func NewEngine(client *clients.CirculationClient, store *postgres.Store) *Engine {
	e := &Engine{
		tracer: otel.Tracer("loanledger/chaos"),
		client: client,
		store:  store,
	}
	e.registerExperiments()
	return e
}

// Execute runs every registered experiment, always finishing with a
// ledger-consistency sweep, and fails if any hypothesis was violated.
func (e *Engine) Execute(ctx context.Context) error {
	failed := 0
	for _, exp := range e.experiments {
		res := e.runOne(ctx, exp)
		e.results = append(e.results, res)
		if !res.HypothesisHeld {
			failed++
			log.Printf("FAIL %s: %s", exp.Name, res.Failure)
			continue
		}
		log.Printf("ok   %s (%s)", exp.Name, res.Duration)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d experiments violated their hypothesis", failed, len(e.experiments))
	}
	return nil
}

// Results returns the outcomes of the experiments run so far.
func (e *Engine) Results() []Result {
	return e.results
}

func (e *Engine) runOne(ctx context.Context, exp Experiment) Result {
	ctx, span := e.tracer.Start(ctx, "chaos.experiment",
		trace.WithAttributes(
			attribute.String("experiment.name", exp.Name),
			attribute.String("experiment.hypothesis", exp.Hypothesis),
		),
	)
	defer span.End()

	start := time.Now()
	err := exp.Run(ctx)
	res := Result{
		ExperimentName: exp.Name,
		StartTime:      start,
		Duration:       time.Since(start),
		HypothesisHeld: err == nil,
	}
	if err != nil {
		res.Failure = err.Error()
		span.RecordError(err)
	}
	return res
}
