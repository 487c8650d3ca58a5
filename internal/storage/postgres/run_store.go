package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/ludostock-crawler/internal/catalog"
)

// StartRun inserts a crawl_runs row in the running state.
func (s *Store) StartRun(ctx context.Context, runID uuid.UUID, startPage, endPage int, at time.Time) error {
	const q = `
		INSERT INTO crawl_runs (id, start_page, end_page, last_completed_page, collected, status, started_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6)
		ON CONFLICT (id) DO NOTHING;
	`
	if _, err := s.pool.Exec(ctx, q, runID, startPage, endPage, startPage-1, string(catalog.RunRunning), at); err != nil {
		return fmt.Errorf("start run: %w", classify(err))
	}
	return nil
}

// Checkpoint moves last_completed_page forward; it never moves it back.
func (s *Store) Checkpoint(ctx context.Context, runID uuid.UUID, lastPage int, collected int64, at time.Time) error {
	const q = `
		UPDATE crawl_runs
		SET last_completed_page = GREATEST(last_completed_page, $2), collected = $3, updated_at = $4
		WHERE id = $1;
	`
	if _, err := s.pool.Exec(ctx, q, runID, lastPage, collected, at); err != nil {
		return fmt.Errorf("checkpoint run: %w", classify(err))
	}
	return nil
}

// FinishRun marks a run as completed with a status and optional note.
func (s *Store) FinishRun(
	ctx context.Context,
	runID uuid.UUID,
	status catalog.RunStatus,
	note *string,
	at time.Time,
) error {
	const q = `
		UPDATE crawl_runs
		SET status = $2, note = $3, finished_at = $4, updated_at = $4
		WHERE id = $1;
	`
	if _, err := s.pool.Exec(ctx, q, runID, string(status), note, at); err != nil {
		return fmt.Errorf("finish run: %w", classify(err))
	}
	return nil
}

// LatestRun returns the most recently started run.
func (s *Store) LatestRun(ctx context.Context) (catalog.RunRecord, bool, error) {
	const q = `
		SELECT id, start_page, end_page, last_completed_page, collected, status, note, started_at, finished_at
		FROM crawl_runs
		ORDER BY started_at DESC
		LIMIT 1;
	`
	var (
		run    catalog.RunRecord
		status string
		note   *string
	)
	err := s.pool.QueryRow(ctx, q).Scan(
		&run.ID,
		&run.StartPage,
		&run.EndPage,
		&run.LastCompletedPage,
		&run.Collected,
		&status,
		&note,
		&run.StartedAt,
		&run.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.RunRecord{}, false, nil
	}
	if err != nil {
		return catalog.RunRecord{}, false, fmt.Errorf("load latest run: %w", classify(err))
	}
	run.Status = catalog.RunStatus(status)
	if note != nil {
		run.Note = *note
	}
	return run, true, nil
}
