package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/ludostock-crawler/internal/catalog"
	"github.com/JakeFAU/ludostock-crawler/internal/progress"
)

// CheckpointSink records run starts, the last drained page and the final
// state through a RunRepository. Page events in one batch collapse into a
// single checkpoint write per run.
type CheckpointSink struct {
	repo   catalog.RunRepository
	logger *zap.Logger
}

// NewCheckpointSink constructs a CheckpointSink.
func NewCheckpointSink(repo catalog.RunRepository, logger *zap.Logger) *CheckpointSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckpointSink{repo: repo, logger: logger}
}

type checkpoint struct {
	page      int
	collected int64
	at        time.Time
}

// Consume forwards the batch to the repository in event order, with page
// checkpoints written before the run is finished.
func (s *CheckpointSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	pending := make(map[uuid.UUID]*checkpoint)
	flush := func(runID uuid.UUID) error {
		cp, ok := pending[runID]
		if !ok {
			return nil
		}
		delete(pending, runID)
		if err := s.repo.Checkpoint(ctx, runID, cp.page, cp.collected, cp.at); err != nil {
			return fmt.Errorf("checkpoint run: %w", err)
		}
		return nil
	}
	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart:
			end := evt.Page + evt.TotalPages - 1
			if err := s.repo.StartRun(ctx, runID, evt.Page, end, evt.TS); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StagePageDone:
			cp := pending[runID]
			if cp == nil {
				cp = &checkpoint{}
				pending[runID] = cp
			}
			if evt.Page >= cp.page {
				cp.page, cp.collected, cp.at = evt.Page, evt.Collected, evt.TS
			}
		case progress.StageRunDone, progress.StageRunInterrupted, progress.StageRunError:
			if err := flush(runID); err != nil {
				return err
			}
			if err := s.repo.FinishRun(ctx, runID, finalStatus(evt.Stage), notePtr(evt.Note), evt.TS); err != nil {
				return fmt.Errorf("finish run: %w", err)
			}
		}
	}
	for runID := range pending {
		if err := flush(runID); err != nil {
			return err
		}
	}
	return nil
}

func finalStatus(stage progress.Stage) catalog.RunStatus {
	switch stage {
	case progress.StageRunDone:
		return catalog.RunDone
	case progress.StageRunInterrupted:
		return catalog.RunInterrupted
	default:
		return catalog.RunError
	}
}

func notePtr(note string) *string {
	if note == "" {
		return nil
	}
	return &note
}

// Close implements the Sink interface; it performs no action.
func (s *CheckpointSink) Close(context.Context) error {
	return nil
}
