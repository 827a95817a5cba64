package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/valentinrey/fundingbot/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL. Legs are
// stored as a JSONB array on the execution row.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates a new ExecutionStore backed by the given
// connection pool.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

const executionSelectCols = `id, position_id, opportunity_id, symbol, kind,
	legs, notional_usd, status, error, started_at, completed_at`

func scanExecutionRow(row pgx.Row) (domain.Execution, error) {
	var e domain.Execution
	var status string
	var legsJSON []byte
	var positionID, opportunityID *string

	err := row.Scan(
		&e.ID, &positionID, &opportunityID, &e.Symbol, &e.Kind,
		&legsJSON, &e.NotionalUSD, &status, &e.Error,
		&e.StartedAt, &e.CompletedAt,
	)
	if err != nil {
		return domain.Execution{}, err
	}
	if positionID != nil {
		e.PositionID = *positionID
	}
	if opportunityID != nil {
		e.OpportunityID = *opportunityID
	}
	e.Status = domain.ExecStatus(status)
	if len(legsJSON) > 0 {
		if err := json.Unmarshal(legsJSON, &e.Legs); err != nil {
			return domain.Execution{}, fmt.Errorf("decode legs: %w", err)
		}
	}
	return e, nil
}

// Create inserts a new execution record.
func (s *ExecutionStore) Create(ctx context.Context, exec domain.Execution) error {
	legsJSON, err := json.Marshal(exec.Legs)
	if err != nil {
		return fmt.Errorf("postgres: marshal execution legs: %w", err)
	}

	const query = `
		INSERT INTO executions (
			id, position_id, opportunity_id, symbol, kind,
			legs, notional_usd, status, error, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = s.pool.Exec(ctx, query,
		exec.ID, nullStr(exec.PositionID), nullStr(exec.OpportunityID),
		exec.Symbol, exec.Kind, legsJSON, exec.NotionalUSD,
		string(exec.Status), exec.Error, exec.StartedAt, exec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create execution %s: %w", exec.ID, err)
	}
	return nil
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// GetByID retrieves a single execution by its ID.
func (s *ExecutionStore) GetByID(ctx context.Context, id string) (domain.Execution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+executionSelectCols+` FROM executions WHERE id = $1`, id)

	e, err := scanExecutionRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Execution{}, domain.ErrNotFound
		}
		return domain.Execution{}, fmt.Errorf("postgres: get execution %s: %w", id, err)
	}
	return e, nil
}

// ListRecent returns the most recent executions.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+executionSelectCols+` FROM executions
		 ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent executions: %w", err)
	}
	defer rows.Close()

	return collectExecutions(rows)
}

// ListBefore returns executions started before the cutoff, oldest first, for
// archiving.
func (s *ExecutionStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Execution, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+executionSelectCols+` FROM executions
		 WHERE started_at < $1
		 ORDER BY started_at ASC LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions before: %w", err)
	}
	defer rows.Close()

	return collectExecutions(rows)
}

func collectExecutions(rows pgx.Rows) ([]domain.Execution, error) {
	var execs []domain.Execution
	for rows.Next() {
		e, err := scanExecutionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		execs = append(execs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: executions rows: %w", err)
	}
	return execs, nil
}

// DeleteBefore removes executions older than the cutoff and returns the count.
func (s *ExecutionStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM executions WHERE started_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete executions before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.ExecutionStore = (*ExecutionStore)(nil)
