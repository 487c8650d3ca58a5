package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/ludostock-crawler/internal/catalog"
	"github.com/JakeFAU/ludostock-crawler/internal/normalize"
	"github.com/JakeFAU/ludostock-crawler/internal/progress"
)

const (
	defaultWorkers          = 5
	defaultMaxStoreFailures = 20
	defaultItemTimeout      = 30 * time.Second
)

// ErrAborted is returned when ingestion was stopped because the store kept
// failing.
var ErrAborted = errors.New("ingestion aborted")

// Ingester stores one normalized item.
type Ingester interface {
	Ingest(ctx context.Context, item catalog.NormalizedItem) catalog.Outcome
}

// RecordSink receives every record the pipeline sees, before normalization.
type RecordSink interface {
	Write(rec catalog.RawRecord) error
}

// PipelineConfig tunes the ingest workers.
type PipelineConfig struct {
	// Workers is the number of concurrent ingest workers.
	Workers int
	// MaxConsecutiveStoreFailures aborts ingestion after that many
	// StoreUnavailable outcomes in a row. Zero uses the default; negative
	// disables the check.
	MaxConsecutiveStoreFailures int
	// ItemTimeout bounds one item's store work.
	ItemTimeout time.Duration
	RunID       uuid.UUID
}

// Pipeline normalizes raw records and feeds them to an Ingester.
type Pipeline struct {
	ingester Ingester
	cfg      PipelineConfig
	events   progress.Emitter
	logger   *zap.Logger
	now      func() time.Time
}

// PipelineOption customizes a Pipeline.
type PipelineOption func(*Pipeline)

// WithEmitter sends ITEM_INGESTED events to e.
func WithEmitter(e progress.Emitter) PipelineOption {
	return func(p *Pipeline) {
		if e != nil {
			p.events = e
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPipeline builds a Pipeline. A nil ingester makes the pipeline collect
// and export records without writing them to the store.
func NewPipeline(ingester Ingester, cfg PipelineConfig, opts ...PipelineOption) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.MaxConsecutiveStoreFailures == 0 {
		cfg.MaxConsecutiveStoreFailures = defaultMaxStoreFailures
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = defaultItemTimeout
	}
	p := &Pipeline{
		ingester: ingester,
		cfg:      cfg,
		events:   progress.Nop{},
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Tally counts what the pipeline did with the records it received.
type Tally struct {
	Received int64
	Created  int64
	Skipped  int64
	Failed   int64
	// NotIngested counts normalized records that never reached the store
	// because ingestion is disabled or was aborted.
	NotIngested int64
	// Aborted is set when ingestion stopped early; it wraps ErrAborted and
	// catalog.ErrStoreUnavailable.
	Aborted error
}

type tally struct {
	received, created, skipped, failed atomic.Int64
	notIngested                        atomic.Int64
	storeFailures                      atomic.Int64
	aborted                            atomic.Bool

	once sync.Once
	err  error
}

// Run consumes records until the channel is closed. Every record is handed to
// export when it is non-nil. abort, when non-nil, is called once if the store
// fails MaxConsecutiveStoreFailures times in a row; the pipeline then stops
// ingesting but keeps draining records so the producer never blocks.
//
// Store work runs on a context detached from ctx cancellation so records
// already collected when the run is interrupted are still ingested.
func (p *Pipeline) Run(ctx context.Context, records <-chan catalog.RawRecord, export RecordSink, abort func(error)) Tally {
	t := &tally{}
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range records {
				p.handle(ctx, rec, export, abort, t)
			}
		}()
	}
	wg.Wait()

	out := Tally{
		Received:    t.received.Load(),
		Created:     t.created.Load(),
		Skipped:     t.skipped.Load(),
		Failed:      t.failed.Load(),
		NotIngested: t.notIngested.Load(),
		Aborted:     t.err,
	}
	p.logger.Info("ingest finished",
		zap.Int64("received", out.Received),
		zap.Int64("created", out.Created),
		zap.Int64("skipped", out.Skipped),
		zap.Int64("failed", out.Failed),
		zap.Int64("not_ingested", out.NotIngested),
		zap.Bool("aborted", out.Aborted != nil),
	)
	return out
}

func (p *Pipeline) handle(ctx context.Context, rec catalog.RawRecord, export RecordSink, abort func(error), t *tally) {
	t.received.Add(1)
	if export != nil {
		if err := export.Write(rec); err != nil {
			p.logger.Warn("record export failed", zap.String("url", rec.URL), zap.Error(err))
		}
	}

	item, err := normalize.Record(rec)
	if err != nil {
		t.failed.Add(1)
		p.emit(rec, catalog.Failed("", err))
		return
	}
	if p.ingester == nil || t.aborted.Load() {
		t.notIngested.Add(1)
		return
	}

	ictx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.ItemTimeout)
	out := p.ingester.Ingest(ictx, item)
	cancel()

	switch out.Status {
	case catalog.StatusCreated:
		t.created.Add(1)
		t.storeFailures.Store(0)
	case catalog.StatusSkipped:
		t.skipped.Add(1)
		t.storeFailures.Store(0)
	default:
		t.failed.Add(1)
		if errors.Is(out.Err, catalog.ErrStoreUnavailable) {
			p.storeFailed(t, abort)
		} else {
			t.storeFailures.Store(0)
		}
	}
	p.emit(rec, out)
}

func (p *Pipeline) storeFailed(t *tally, abort func(error)) {
	n := t.storeFailures.Add(1)
	limit := p.cfg.MaxConsecutiveStoreFailures
	if limit < 0 || n < int64(limit) {
		return
	}
	t.once.Do(func() {
		t.err = fmt.Errorf("%w after %d consecutive failures: %w", ErrAborted, n, catalog.ErrStoreUnavailable)
		t.aborted.Store(true)
		p.logger.Error("store unavailable, stopping ingestion", zap.Int64("consecutive_failures", n))
		if abort != nil {
			abort(t.err)
		}
	})
}

func (p *Pipeline) emit(rec catalog.RawRecord, out catalog.Outcome) {
	evt := progress.Event{
		RunID:   progress.UUIDToBytes(p.cfg.RunID),
		TS:      p.now().UTC(),
		Stage:   progress.StageItemIngested,
		Page:    rec.Page,
		URL:     rec.URL,
		Outcome: string(out.Status),
	}
	if out.Err != nil {
		evt.Note = out.Err.Error()
	}
	p.events.Emit(evt)
}
