package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/ludostock-crawler/internal/progress"
)

func TestLogSinkPageLine(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))
	runID := progress.UUIDToBytes(uuid.New())

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: time.Now(), Stage: progress.StagePageDone, Page: 3, PagesDone: 1, TotalPages: 10,
			Collected: 42, Dur: time.Minute, ETA: 9 * time.Minute},
		{RunID: runID, TS: time.Now(), Stage: progress.StageItemExtracted, URL: "hidden-at-info"},
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunDone},
	}))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "page drained", entries[0].Message)
	fields := entries[0].ContextMap()
	assert.Equal(t, int64(3), fields["page"])
	assert.Equal(t, int64(42), fields["collected"])
	assert.Equal(t, 9*time.Minute, fields["eta"])
	assert.Equal(t, "run finished", entries[1].Message)
}
