// Package jobruns keeps an append-only ledger of scheduled job invocations.
package jobruns

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Run is one finished job invocation.
type Run struct {
	ID         string    `json:"id"`
	Job        string    `json:"job"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Succeeded  int       `json:"succeeded"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Abandoned  bool      `json:"abandoned"`
	Panicked   bool      `json:"panicked"`
	FailedKeys []string  `json:"failed_keys"`
}

// Store writes runs to the job_runs table.
type Store struct {
	db *sql.DB
}

// NewStore creates a ledger store. A nil db yields a store that drops writes.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record appends run to the ledger.
func (s *Store) Record(ctx context.Context, run Run) error {
	if s == nil || s.db == nil {
		return nil
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.FailedKeys == nil {
		run.FailedKeys = []string{}
	}

	query := `
		INSERT INTO job_runs (
			id, job, started_at, finished_at, succeeded, skipped, failed,
			abandoned, panicked, failed_keys
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Job,
		run.StartedAt,
		run.FinishedAt,
		run.Succeeded,
		run.Skipped,
		run.Failed,
		run.Abandoned,
		run.Panicked,
		pq.Array(run.FailedKeys),
	)
	if err != nil {
		return fmt.Errorf("jobruns: record run: %w", err)
	}
	return nil
}

// Recent returns the newest runs, optionally for a single job.
func (s *Store) Recent(ctx context.Context, job string, limit int) ([]Run, error) {
	if s == nil || s.db == nil {
		return []Run{}, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job, started_at, finished_at, succeeded, skipped, failed,
		       abandoned, panicked, failed_keys
		FROM job_runs
		WHERE ($1 = '' OR job = $1)
		ORDER BY started_at DESC
		LIMIT $2
	`, job, limit)
	if err != nil {
		return nil, fmt.Errorf("jobruns: list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		var run Run
		if err := rows.Scan(
			&run.ID,
			&run.Job,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Succeeded,
			&run.Skipped,
			&run.Failed,
			&run.Abandoned,
			&run.Panicked,
			pq.Array(&run.FailedKeys),
		); err != nil {
			return nil, fmt.Errorf("jobruns: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobruns: list runs: %w", err)
	}
	return runs, nil
}
