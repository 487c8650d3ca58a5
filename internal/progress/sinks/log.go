package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/ludostock-crawler/internal/progress"
)

// LogSink writes the operator-facing progress line for every drained page and
// run milestone. Item-level events are logged at debug level.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		runID := zap.String("run_id", evt.RunUUID().String())
		switch evt.Stage {
		case progress.StagePageDone:
			s.logger.Info("page drained",
				runID,
				zap.Int("page", evt.Page),
				zap.Int("pages_done", evt.PagesDone),
				zap.Int("pages_total", evt.TotalPages),
				zap.Int64("collected", evt.Collected),
				zap.Duration("elapsed", evt.Dur),
				zap.Duration("eta", evt.ETA),
			)
		case progress.StagePageFailed:
			s.logger.Warn("listing page failed", runID, zap.Int("page", evt.Page), zap.String("error", evt.Note))
		case progress.StageItemBroken:
			s.logger.Debug("item broken", runID, zap.String("url", evt.URL),
				zap.String("status_class", string(evt.StatusClass)), zap.String("error", evt.Note))
		case progress.StageItemExtracted:
			s.logger.Debug("item extracted", runID, zap.String("url", evt.URL), zap.Duration("dur", evt.Dur))
		case progress.StageItemIngested:
			s.logger.Debug("item ingested", runID, zap.String("outcome", evt.Outcome), zap.String("note", evt.Note))
		case progress.StageRunError:
			s.logger.Error("run failed", runID, zap.Duration("elapsed", evt.Dur), zap.String("error", evt.Note))
		default:
			s.logger.Info("run "+stageVerb(evt.Stage), runID,
				zap.Int64("collected", evt.Collected), zap.Duration("elapsed", evt.Dur))
		}
	}
	return nil
}

func stageVerb(stage progress.Stage) string {
	switch stage {
	case progress.StageRunStart:
		return "started"
	case progress.StageRunDone:
		return "finished"
	case progress.StageRunInterrupted:
		return "interrupted"
	default:
		return string(stage)
	}
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
