package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state stored for a crawl run.
type RunStatus string

// Run lifecycle states.
const (
	RunRunning     RunStatus = "running"
	RunDone        RunStatus = "done"
	RunInterrupted RunStatus = "interrupted"
	RunError       RunStatus = "error"
)

// RunRecord is one row of the run ledger.
type RunRecord struct {
	ID                uuid.UUID
	StartPage         int
	EndPage           int
	LastCompletedPage int
	Collected         int64
	Status            RunStatus
	Note              string
	StartedAt         time.Time
	FinishedAt        *time.Time
}

// ResumePage is the first page a follow-up run should crawl.
func (r RunRecord) ResumePage() int {
	if r.LastCompletedPage < r.StartPage {
		return r.StartPage
	}
	return r.LastCompletedPage + 1
}

// RunRepository persists run checkpoints so an interrupted crawl can resume.
type RunRepository interface {
	StartRun(ctx context.Context, runID uuid.UUID, startPage, endPage int, at time.Time) error
	Checkpoint(ctx context.Context, runID uuid.UUID, lastPage int, collected int64, at time.Time) error
	FinishRun(ctx context.Context, runID uuid.UUID, status RunStatus, note *string, at time.Time) error
	LatestRun(ctx context.Context) (RunRecord, bool, error)
}
