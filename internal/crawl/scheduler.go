// Package crawl drives the listing walker and item extractor across a page
// range under a fixed concurrency cap.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/ludostock-crawler/internal/catalog"
	"github.com/JakeFAU/ludostock-crawler/internal/progress"
)

const (
	defaultConcurrency  = 10
	defaultFetchTimeout = 30 * time.Second
)

// Walker lists the item URLs on one listing page.
type Walker interface {
	Fetch(ctx context.Context, page int) ([]string, error)
}

// Extractor turns one item URL into a record.
type Extractor interface {
	Extract(ctx context.Context, url string, page int) (catalog.RawRecord, error)
}

// Config tunes the scheduler.
type Config struct {
	// Concurrency caps in-flight item extractions.
	Concurrency int
	// FetchTimeout bounds each extraction, including after an interrupt.
	FetchTimeout time.Duration
	// RecordBuffer sizes the record channel.
	RecordBuffer int
	// RunID tags progress events.
	RunID uuid.UUID
}

// Scheduler is the bounded crawl scheduler.
type Scheduler struct {
	walker    Walker
	extractor Extractor
	cfg       Config
	events    progress.Emitter
	logger    *zap.Logger
	now       func() time.Time
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithEmitter sends progress events to e.
func WithEmitter(e progress.Emitter) Option {
	return func(s *Scheduler) {
		if e != nil {
			s.events = e
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New builds a Scheduler.
func New(walker Walker, extractor Extractor, cfg Config, opts ...Option) (*Scheduler, error) {
	if walker == nil || extractor == nil {
		return nil, errors.New("walker and extractor are required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.RecordBuffer <= 0 {
		cfg.RecordBuffer = cfg.Concurrency
	}
	if cfg.RunID == uuid.Nil {
		cfg.RunID = uuid.New()
	}
	s := &Scheduler{
		walker:    walker,
		extractor: extractor,
		cfg:       cfg,
		events:    progress.Nop{},
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Result is the final report of a crawl.
type Result struct {
	Range             catalog.Range
	Collected         int
	Broken            []string
	FailedPages       []int
	PagesCompleted    int
	LastCompletedPage int
	Interrupted       bool
	Elapsed           time.Duration
}

// ResumePage is the page a follow-up run should start from.
func (r Result) ResumePage() int {
	if r.LastCompletedPage == 0 {
		return r.Range.Start
	}
	return r.LastCompletedPage + 1
}

// Snapshot is a point-in-time view of a running crawl.
type Snapshot struct {
	Page           int           `json:"page"`
	PagesCompleted int           `json:"pages_completed"`
	TotalPages     int           `json:"total_pages"`
	Collected      int64         `json:"collected"`
	Broken         int           `json:"broken"`
	Elapsed        time.Duration `json:"elapsed"`
	ETA            time.Duration `json:"eta"`
}

// Stream is a running crawl. Records must be drained until the channel is
// closed; Wait then returns the final report.
type Stream struct {
	records chan catalog.RawRecord
	done    chan struct{}
	result  Result

	broken    *BrokenURLSet
	collected atomic.Int64
	page      atomic.Int64
	pagesDone atomic.Int64
	total     int
	started   time.Time
	now       func() time.Time

	mu  sync.Mutex
	eta time.Duration
}

// Records yields records as they are extracted.
func (st *Stream) Records() <-chan catalog.RawRecord { return st.records }

// Wait blocks until the crawl has finished and returns its report.
func (st *Stream) Wait() Result {
	<-st.done
	return st.result
}

// Snapshot reports progress without blocking the crawl.
func (st *Stream) Snapshot() Snapshot {
	st.mu.Lock()
	eta := st.eta
	st.mu.Unlock()
	return Snapshot{
		Page:           int(st.page.Load()),
		PagesCompleted: int(st.pagesDone.Load()),
		TotalPages:     st.total,
		Collected:      st.collected.Load(),
		Broken:         st.broken.Len(),
		Elapsed:        st.now().Sub(st.started),
		ETA:            eta,
	}
}

// Crawl starts walking r in the background. Listing pages are fetched in
// order and page k+1 is requested only after every item of page k has been
// extracted or recorded as broken. Cancelling ctx stops new dispatches; items
// already in flight run to completion or to FetchTimeout.
func (s *Scheduler) Crawl(ctx context.Context, r catalog.Range) (*Stream, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	st := &Stream{
		records: make(chan catalog.RawRecord, s.cfg.RecordBuffer),
		done:    make(chan struct{}),
		broken:  NewBrokenURLSet(),
		total:   r.Pages(),
		started: s.now(),
		now:     s.now,
	}
	go s.run(ctx, r, st)
	return st, nil
}

func (s *Scheduler) run(ctx context.Context, r catalog.Range, st *Stream) {
	defer close(st.done)
	defer close(st.records)

	res := Result{Range: r}
	seen := &visited{}
	s.emit(progress.Event{Stage: progress.StageRunStart, Page: r.Start, TotalPages: r.Pages()})
	s.logger.Info("crawl started", zap.Int("start_page", r.Start), zap.Int("end_page", r.End),
		zap.Int("concurrency", s.cfg.Concurrency))

	for page := r.Start; page <= r.End; page++ {
		if ctx.Err() != nil {
			res.Interrupted = true
			break
		}
		st.page.Store(int64(page))
		urls, err := s.walker.Fetch(ctx, page)
		if err != nil {
			if ctx.Err() != nil {
				res.Interrupted = true
				break
			}
			res.FailedPages = append(res.FailedPages, page)
			s.logger.Warn("listing page failed", zap.Int("page", page), zap.Error(err))
			s.emit(progress.Event{Stage: progress.StagePageFailed, Page: page, Note: err.Error()})
		}
		if !s.drainPage(ctx, page, urls, seen, st) {
			res.Interrupted = true
			break
		}
		res.LastCompletedPage = page
		res.PagesCompleted++
		s.pageDone(page, r, st)
	}

	res.Collected = int(st.collected.Load())
	res.Broken = st.broken.URLs()
	res.Elapsed = s.now().Sub(st.started)
	st.result = res

	stage := progress.StageRunDone
	if res.Interrupted {
		stage = progress.StageRunInterrupted
	}
	s.emit(progress.Event{Stage: stage, Collected: int64(res.Collected), Dur: res.Elapsed,
		PagesDone: res.PagesCompleted, TotalPages: r.Pages()})
	s.logger.Info("crawl finished",
		zap.Int("collected", res.Collected),
		zap.Int("broken", len(res.Broken)),
		zap.Int("failed_pages", len(res.FailedPages)),
		zap.Int("last_completed_page", res.LastCompletedPage),
		zap.Bool("interrupted", res.Interrupted),
		zap.Duration("elapsed", res.Elapsed),
	)
}

// drainPage extracts every new URL of one page and waits for all of them. It
// returns false when ctx was cancelled before every URL was dispatched.
func (s *Scheduler) drainPage(ctx context.Context, page int, urls []string, seen *visited, st *Stream) bool {
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Concurrency)
	complete := true
	for _, u := range urls {
		if ctx.Err() != nil {
			complete = false
			break
		}
		if !seen.mark(u) {
			continue
		}
		g.Go(func() error {
			s.extractOne(ctx, u, page, st)
			return nil
		})
	}
	_ = g.Wait()
	return complete
}

func (s *Scheduler) extractOne(ctx context.Context, url string, page int, st *Stream) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.FetchTimeout)
	defer cancel()

	start := s.now()
	rec, err := s.extractor.Extract(fctx, url, page)
	dur := s.now().Sub(start)
	if err != nil {
		if st.broken.Add(url) {
			s.logger.Debug("item broken", zap.String("url", url), zap.Int("page", page), zap.Error(err))
			s.emit(progress.Event{Stage: progress.StageItemBroken, Page: page, URL: url,
				StatusClass: statusClass(err), Dur: dur, Note: err.Error()})
		}
		return
	}
	st.collected.Add(1)
	s.emit(progress.Event{Stage: progress.StageItemExtracted, Page: page, URL: url,
		StatusClass: progress.Status2xx, Dur: dur})
	st.records <- rec
}

func (s *Scheduler) pageDone(page int, r catalog.Range, st *Stream) {
	done := st.pagesDone.Add(1)
	elapsed := s.now().Sub(st.started)
	remaining := r.End - page
	eta := time.Duration(0)
	if done > 0 {
		eta = time.Duration(int64(elapsed) / done * int64(remaining))
	}
	st.mu.Lock()
	st.eta = eta
	st.mu.Unlock()
	s.emit(progress.Event{
		Stage:      progress.StagePageDone,
		Page:       page,
		PagesDone:  int(done),
		TotalPages: r.Pages(),
		Collected:  st.collected.Load(),
		Dur:        elapsed,
		ETA:        eta,
	})
}

func (s *Scheduler) emit(evt progress.Event) {
	evt.RunID = progress.UUIDToBytes(s.cfg.RunID)
	evt.TS = s.now().UTC()
	s.events.Emit(evt)
}

func statusClass(err error) progress.StatusClass {
	var se *catalog.StatusError
	if errors.As(err, &se) {
		return progress.ClassifyStatus(se.Code)
	}
	return progress.StatusNone
}

// String renders the result for logs.
func (r Result) String() string {
	return fmt.Sprintf("pages %d-%d: collected=%d broken=%d failed_pages=%d last_completed=%d interrupted=%t",
		r.Range.Start, r.Range.End, r.Collected, len(r.Broken), len(r.FailedPages), r.LastCompletedPage, r.Interrupted)
}
