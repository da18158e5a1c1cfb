package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/floworc/floworc/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ Repository = (*PostgresRepository)(nil)

// PostgresRepository implements Repository over a pgx connection pool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to the database, applies pending migrations, and
// returns the repository.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresRepository, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres DSN: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := migrate(pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresRepository{pool: pool}, nil
}

func migrate(pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer func() { _ = db.Close() }()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() {
	r.pool.Close()
}

// SaveWorkflow implements Repository.
func (r *PostgresRepository) SaveWorkflow(ctx context.Context, w Workflow) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO workflows (id, name, definition, created_at) VALUES ($1, $2, $3, $4)`,
		w.ID, w.Name, []byte(w.Definition), w.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save workflow %s: %w", w.ID, err)
	}
	return nil
}

// LoadWorkflow implements Repository.
func (r *PostgresRepository) LoadWorkflow(ctx context.Context, workflowID string) (Workflow, error) {
	var w Workflow
	var definition []byte
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, definition, created_at FROM workflows WHERE id = $1`,
		workflowID,
	).Scan(&w.ID, &w.Name, &definition, &w.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Workflow{}, ErrNotFound
	}
	if err != nil {
		return Workflow{}, fmt.Errorf("load workflow %s: %w", workflowID, err)
	}
	w.Definition = json.RawMessage(definition)
	return w, nil
}

// CreateExecution implements Repository.
func (r *PostgresRepository) CreateExecution(ctx context.Context, e Execution) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO executions (id, workflow_id, status, created_at) VALUES ($1, $2, $3, $4)`,
		e.ID, e.WorkflowID, string(e.Status), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create execution %s: %w", e.ID, err)
	}
	return nil
}

// GetExecution implements Repository.
func (r *PostgresRepository) GetExecution(ctx context.Context, executionID string) (Execution, error) {
	var e Execution
	var status string
	var finishedAt sql.NullTime
	var outputs []byte
	err := r.pool.QueryRow(ctx,
		`SELECT id, workflow_id, status, created_at, finished_at, outputs FROM executions WHERE id = $1`,
		executionID,
	).Scan(&e.ID, &e.WorkflowID, &status, &e.CreatedAt, &finishedAt, &outputs)
	if errors.Is(err, pgx.ErrNoRows) {
		return Execution{}, ErrNotFound
	}
	if err != nil {
		return Execution{}, fmt.Errorf("get execution %s: %w", executionID, err)
	}
	e.Status = models.ExecutionStatus(status)
	if finishedAt.Valid {
		e.FinishedAt = finishedAt.Time
	}
	if len(outputs) > 0 {
		e.Outputs = json.RawMessage(outputs)
	}
	return e, nil
}

// RecordTerminal implements Repository.
func (r *PostgresRepository) RecordTerminal(ctx context.Context, executionID string, status models.ExecutionStatus, outputs map[string]json.RawMessage) error {
	data, err := json.Marshal(outputs)
	if err != nil {
		return fmt.Errorf("marshal outputs for execution %s: %w", executionID, err)
	}
	_, err = r.pool.Exec(ctx,
		`UPDATE executions SET status = $2, finished_at = $3, outputs = $4 WHERE id = $1`,
		executionID, string(status), time.Now().UTC(), data,
	)
	if err != nil {
		return fmt.Errorf("record terminal state of execution %s: %w", executionID, err)
	}
	return nil
}
