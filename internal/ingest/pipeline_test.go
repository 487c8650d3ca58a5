package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ludostock-crawler/internal/catalog"
	"github.com/JakeFAU/ludostock-crawler/internal/progress"
	"github.com/JakeFAU/ludostock-crawler/internal/resolve"
	"github.com/JakeFAU/ludostock-crawler/internal/storage/memory"
)

func raw(name, players string) catalog.RawRecord {
	fields := map[string]string{catalog.FieldPlayers: players}
	if name != "" {
		fields[catalog.FieldName] = name
	}
	return catalog.RawRecord{URL: "https://example.test/jeux/" + name, Page: 1, Fields: fields}
}

func feed(recs ...catalog.RawRecord) <-chan catalog.RawRecord {
	ch := make(chan catalog.RawRecord, len(recs))
	for _, r := range recs {
		ch <- r
	}
	close(ch)
	return ch
}

type eventLog struct {
	mu     sync.Mutex
	events []progress.Event
}

func (l *eventLog) Emit(evt progress.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
}

func (l *eventLog) outcomes() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := map[string]int{}
	for _, e := range l.events {
		out[e.Outcome]++
	}
	return out
}

type exportLog struct {
	mu   sync.Mutex
	urls []string
}

func (e *exportLog) Write(rec catalog.RawRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.urls = append(e.urls, rec.URL)
	return nil
}

func TestPipelineCountsOutcomes(t *testing.T) {
	t.Parallel()

	store := memory.NewCatalogStore()
	events := &eventLog{}
	p := NewPipeline(newUpserter(t, store), PipelineConfig{Workers: 1}, WithEmitter(events))

	tally := p.Run(context.Background(), feed(raw("Catan", "3-4"), raw("Catan", "3-4"), raw("", "2")), nil, nil)
	assert.Equal(t, Tally{Received: 3, Created: 1, Skipped: 1, Failed: 1}, tally)
	assert.Equal(t, map[string]int{"created": 1, "skipped": 1, "failed": 1}, events.outcomes())

	item, _, ok := store.Item("Catan")
	require.True(t, ok)
	require.NotNil(t, item.MinPlayers)
	assert.Equal(t, 3, *item.MinPlayers)
	assert.Equal(t, 4, *item.MaxPlayers)
}

func TestPipelineExportsWithoutIngesting(t *testing.T) {
	t.Parallel()

	export := &exportLog{}
	p := NewPipeline(nil, PipelineConfig{Workers: 3})
	tally := p.Run(context.Background(), feed(raw("A", ""), raw("B", ""), raw("C", "")), export, nil)

	assert.Equal(t, int64(3), tally.Received)
	assert.Zero(t, tally.Created+tally.Skipped+tally.Failed)
	assert.Equal(t, int64(3), tally.NotIngested)
	assert.ElementsMatch(t, []string{
		"https://example.test/jeux/A", "https://example.test/jeux/B", "https://example.test/jeux/C",
	}, export.urls)
}

type scriptedIngester struct {
	calls atomic.Int32
	fail  func(name string) error
}

func (s *scriptedIngester) Ingest(_ context.Context, item catalog.NormalizedItem) catalog.Outcome {
	s.calls.Add(1)
	if err := s.fail(item.Name); err != nil {
		return catalog.Failed(item.Name, err)
	}
	return catalog.Created(item.Name, 1)
}

func TestPipelineAbortsAfterConsecutiveStoreFailures(t *testing.T) {
	t.Parallel()

	ing := &scriptedIngester{fail: func(string) error {
		return errors.Join(catalog.ErrStoreUnavailable, errors.New("connection refused"))
	}}
	p := NewPipeline(ing, PipelineConfig{Workers: 1, MaxConsecutiveStoreFailures: 3})

	var aborts atomic.Int32
	recs := make([]catalog.RawRecord, 10)
	for i := range recs {
		recs[i] = raw("Game", "")
	}
	tally := p.Run(context.Background(), feed(recs...), nil, func(error) { aborts.Add(1) })

	assert.Equal(t, int32(1), aborts.Load())
	assert.Equal(t, int32(3), ing.calls.Load())
	assert.Equal(t, int64(10), tally.Received)
	assert.Equal(t, int64(3), tally.Failed)
	assert.Equal(t, int64(7), tally.NotIngested)
	require.ErrorIs(t, tally.Aborted, ErrAborted)
	require.ErrorIs(t, tally.Aborted, catalog.ErrStoreUnavailable)
}

func TestPipelineAccountsForEveryRecordAfterAbort(t *testing.T) {
	t.Parallel()

	store := memory.NewCatalogStore()
	store.Close()
	p := NewPipeline(newUpserter(t, store), PipelineConfig{Workers: 1, MaxConsecutiveStoreFailures: 2})

	recs := make([]catalog.RawRecord, 10)
	for i := range recs {
		recs[i] = raw(fmt.Sprintf("Game %d", i), "2")
	}
	tally := p.Run(context.Background(), feed(recs...), nil, nil)

	require.ErrorIs(t, tally.Aborted, catalog.ErrStoreUnavailable)
	assert.Equal(t, int64(10), tally.Received)
	assert.Equal(t, int64(2), tally.Failed)
	assert.Equal(t, int64(8), tally.NotIngested)
	assert.Equal(t, tally.Received, tally.Created+tally.Skipped+tally.Failed+tally.NotIngested)
}

func TestPipelineIsolatesStoreFailure(t *testing.T) {
	t.Parallel()

	ing := &scriptedIngester{fail: func(name string) error {
		if name == "B" {
			return catalog.ErrStoreUnavailable
		}
		return nil
	}}
	p := NewPipeline(ing, PipelineConfig{Workers: 1, MaxConsecutiveStoreFailures: 2})

	var aborted bool
	tally := p.Run(context.Background(),
		feed(raw("A", ""), raw("B", ""), raw("C", ""), raw("B", ""), raw("D", "")),
		nil, func(error) { aborted = true })

	assert.False(t, aborted)
	require.NoError(t, tally.Aborted)
	assert.Equal(t, int64(3), tally.Created)
	assert.Equal(t, int64(2), tally.Failed)
}

func TestPipelineIngestsAfterCancel(t *testing.T) {
	t.Parallel()

	store := memory.NewCatalogStore()
	u, err := NewUpserter(store, resolve.New(store), nil)
	require.NoError(t, err)
	p := NewPipeline(u, PipelineConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tally := p.Run(ctx, feed(raw("Catan", "3-4")), nil, nil)
	assert.Equal(t, int64(1), tally.Created)
	assert.Equal(t, 1, store.ItemCount())
}
