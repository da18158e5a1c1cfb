// Package engine implements the submission-side use cases: validating and
// storing workflow definitions, creating and triggering executions,
// cancellation, and the status/result/dead-letter read surfaces.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/floworc/floworc/internal/broker"
	"github.com/floworc/floworc/internal/config"
	"github.com/floworc/floworc/internal/dag"
	"github.com/floworc/floworc/internal/persistence"
	"github.com/floworc/floworc/internal/state"
)

var (
	// ErrExecutionNotFound is returned when the execution id is unknown.
	ErrExecutionNotFound = errors.New("execution not found")
	// ErrNotTriggerable is returned when an execution is not in PENDING.
	ErrNotTriggerable = errors.New("execution is not pending")
	// ErrAlreadyTerminal is returned when cancelling a finished execution.
	ErrAlreadyTerminal = errors.New("execution already terminal")
	// ErrRateLimited is returned when the submission rate limit is exceeded.
	ErrRateLimited = errors.New("submission rate limit exceeded")
	// ErrReservedNodeID is returned when a definition uses a reserved node id.
	ErrReservedNodeID = errors.New("node id is reserved")
)

// Engine wires the repositories and stores behind the use cases.
type Engine struct {
	repo      persistence.Repository
	store     *state.Store
	broker    *broker.Broker
	dlq       *broker.DLQ
	rateLimit config.RateLimit
	dags      *dag.Cache
}

// New creates an Engine.
func New(repo persistence.Repository, store *state.Store, b *broker.Broker, dlq *broker.DLQ, rateLimit config.RateLimit) *Engine {
	return &Engine{
		repo:      repo,
		store:     store,
		broker:    b,
		dlq:       dlq,
		rateLimit: rateLimit,
		dags:      dag.NewCache(DefinitionLoader(repo)),
	}
}

// DefinitionLoader adapts a Repository into the loader the DAG cache expects.
func DefinitionLoader(repo persistence.Repository) dag.LoadFunc {
	return func(ctx context.Context, workflowID string) (json.RawMessage, error) {
		w, err := repo.LoadWorkflow(ctx, workflowID)
		if err != nil {
			return nil, err
		}
		return w.Definition, nil
	}
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func newID() string {
	return uuid.NewString()
}
