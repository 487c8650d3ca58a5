package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/ludostock-crawler/internal/catalog"
	"github.com/JakeFAU/ludostock-crawler/internal/progress"
)

type call struct {
	op     string
	page   int
	status catalog.RunStatus
	note   string
}

type recordingRepo struct {
	calls []call
	err   error
}

func (r *recordingRepo) StartRun(_ context.Context, _ uuid.UUID, start, _ int, _ time.Time) error {
	r.calls = append(r.calls, call{op: "start", page: start})
	return r.err
}

func (r *recordingRepo) Checkpoint(_ context.Context, _ uuid.UUID, page int, _ int64, _ time.Time) error {
	r.calls = append(r.calls, call{op: "checkpoint", page: page})
	return r.err
}

func (r *recordingRepo) LatestRun(context.Context) (catalog.RunRecord, bool, error) {
	return catalog.RunRecord{}, false, nil
}

func (r *recordingRepo) FinishRun(_ context.Context, _ uuid.UUID, status catalog.RunStatus, note *string, _ time.Time) error {
	c := call{op: "finish", status: status}
	if note != nil {
		c.note = *note
	}
	r.calls = append(r.calls, c)
	return r.err
}

func TestCheckpointSinkCollapsesPages(t *testing.T) {
	t.Parallel()

	repo := &recordingRepo{}
	sink := NewCheckpointSink(repo, zap.NewNop())
	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart, Page: 5, TotalPages: 4},
		{RunID: runID, TS: now, Stage: progress.StagePageDone, Page: 5, Collected: 10},
		{RunID: runID, TS: now, Stage: progress.StagePageDone, Page: 6, Collected: 20},
		{RunID: runID, TS: now, Stage: progress.StageItemExtracted, URL: "x"},
	}))
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StagePageDone, Page: 7, Collected: 30},
		{RunID: runID, TS: now, Stage: progress.StageRunInterrupted, Note: "signal"},
	}))

	assert.Equal(t, []call{
		{op: "start", page: 5},
		{op: "checkpoint", page: 6},
		{op: "checkpoint", page: 7},
		{op: "finish", status: catalog.RunInterrupted, note: "signal"},
	}, repo.calls)
}

func TestCheckpointSinkPropagatesErrors(t *testing.T) {
	t.Parallel()

	repo := &recordingRepo{err: errors.New("db down")}
	sink := NewCheckpointSink(repo, nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: progress.UUIDToBytes(uuid.New()), TS: time.Now(), Stage: progress.StageRunStart, Page: 1, TotalPages: 1},
	})
	require.ErrorContains(t, err, "start run")
}

func TestCheckpointSinkNilRepo(t *testing.T) {
	t.Parallel()

	sink := NewCheckpointSink(nil, nil)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{{Stage: progress.StageRunStart}}))
}
