package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/ludostock-crawler/internal/catalog"
	"github.com/JakeFAU/ludostock-crawler/internal/crawl"
	"github.com/JakeFAU/ludostock-crawler/internal/progress"
	"github.com/JakeFAU/ludostock-crawler/internal/report"
)

const finishTimeout = 30 * time.Second

// ErrRunComplete is returned by ResumeRange when the previous run already
// covered the requested range.
var ErrRunComplete = errors.New("previous run already reached the end page")

// Crawler starts a crawl over a page range.
type Crawler interface {
	Crawl(ctx context.Context, r catalog.Range) (*crawl.Stream, error)
}

// ReviewCrawler fetches review pages and streams their reviews to sink.
type ReviewCrawler interface {
	Crawl(ctx context.Context, r catalog.Range, sink func(catalog.Review) error) (crawl.ReviewResult, error)
}

// Pinger checks store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RunnerDeps wires a Runner. Store, Exports and Publisher are optional;
// Reviews and ReviewFiles are needed only by CrawlReviews.
type RunnerDeps struct {
	Scheduler   Crawler
	Reviews     ReviewCrawler
	ReviewFiles report.FileCreator
	Pipeline    *Pipeline
	Reports     *report.Writer
	Store       Pinger
	Exports     report.FileCreator
	Publisher   catalog.Publisher
	Topic       string
	Events      progress.Emitter
	RunID       uuid.UUID
	Logger      *zap.Logger
	Clock       func() time.Time
}

// Runner executes one crawl or import end to end and always finishes with a
// report, including on interruption or abort.
type Runner struct {
	deps   RunnerDeps
	active atomic.Pointer[crawl.Stream]
}

// NewRunner validates deps and fills defaults.
func NewRunner(deps RunnerDeps) (*Runner, error) {
	if deps.Pipeline == nil || deps.Reports == nil {
		return nil, errors.New("pipeline and report writer are required")
	}
	if deps.Events == nil {
		deps.Events = progress.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.RunID == uuid.Nil {
		deps.RunID = uuid.Must(uuid.NewV7())
	}
	return &Runner{deps: deps}, nil
}

// RunID identifies the runs executed by r.
func (r *Runner) RunID() uuid.UUID { return r.deps.RunID }

// Progress reports the state of the crawl in flight, if any.
func (r *Runner) Progress() (crawl.Snapshot, bool) {
	st := r.active.Load()
	if st == nil {
		return crawl.Snapshot{}, false
	}
	return st.Snapshot(), true
}

// Crawl walks rng, ingests every collected record and writes the report.
// Cancelling ctx interrupts the crawl; the partial result is still ingested
// and reported. The returned error is non-nil only for fatal conditions.
func (r *Runner) Crawl(ctx context.Context, rng catalog.Range) (report.Summary, error) {
	if r.deps.Scheduler == nil {
		return report.Summary{}, errors.New("crawl requires a scheduler")
	}
	s := r.newSummary(report.KindCrawl)
	s.StartPage, s.EndPage = rng.Start, rng.End
	if err := rng.Validate(); err != nil {
		return s, err
	}
	if err := r.ping(ctx); err != nil {
		return r.fail(ctx, &s, err)
	}

	export, err := r.openExport()
	if err != nil {
		return r.fail(ctx, &s, err)
	}

	crawlCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream, err := r.deps.Scheduler.Crawl(crawlCtx, rng)
	if err != nil {
		r.closeExport(ctx, export)
		return r.fail(ctx, &s, fmt.Errorf("start crawl: %w", err))
	}

	r.active.Store(stream)
	defer r.active.Store(nil)

	var sink RecordSink
	if export != nil {
		sink = export
	}
	tally := r.deps.Pipeline.Run(ctx, stream.Records(), sink, func(error) { cancel() })
	res := stream.Wait()
	r.closeExport(ctx, export)

	s.Collected = int64(res.Collected)
	s.Broken = res.Broken
	s.FailedPages = res.FailedPages
	s.PagesCompleted = res.PagesCompleted
	s.LastCompletedPage = res.LastCompletedPage
	s.Interrupted = ctx.Err() != nil
	applyTally(&s, tally)

	if tally.Aborted != nil {
		r.emitRunError(tally.Aborted)
	}
	return s, errors.Join(tally.Aborted, r.finish(ctx, &s))
}

// Import ingests records from a previous run's records.jsonl export.
func (r *Runner) Import(ctx context.Context, src io.Reader) (report.Summary, error) {
	s := r.newSummary(report.KindImport)
	if err := r.ping(ctx); err != nil {
		return r.fail(ctx, &s, err)
	}

	ictx, cancel := context.WithCancel(ctx)
	defer cancel()
	records := make(chan catalog.RawRecord, r.deps.Pipeline.cfg.Workers)
	var readErr error
	go func() {
		defer close(records)
		_, readErr = report.ReadRecords(ictx, src, func(rec catalog.RawRecord) error {
			select {
			case records <- rec:
				return nil
			case <-ictx.Done():
				return ictx.Err()
			}
		})
	}()
	tally := r.deps.Pipeline.Run(ctx, records, nil, func(error) { cancel() })

	s.Collected = tally.Received
	s.Interrupted = ctx.Err() != nil
	applyTally(&s, tally)
	if readErr != nil && !errors.Is(readErr, context.Canceled) {
		readErr = fmt.Errorf("import records: %w", readErr)
		s.Error = readErr.Error()
	} else {
		readErr = nil
	}
	return s, errors.Join(tally.Aborted, readErr, r.finish(ctx, &s))
}

// CrawlReviews fetches the review pages of rng into reviews.jsonl and writes
// the report. Reviews are not ingested. Cancelling ctx keeps the reviews
// already fetched.
func (r *Runner) CrawlReviews(ctx context.Context, rng catalog.Range) (report.Summary, error) {
	if r.deps.Reviews == nil || r.deps.ReviewFiles == nil {
		return report.Summary{}, errors.New("review crawl requires a review scheduler and a report directory")
	}
	s := r.newSummary(report.KindReviews)
	s.StartPage, s.EndPage = rng.Start, rng.End
	if err := rng.Validate(); err != nil {
		return s, err
	}
	export, err := report.CreateReviewExport(r.deps.ReviewFiles, r.deps.RunID.String())
	if err != nil {
		s.Error = err.Error()
		return s, errors.Join(err, r.finish(ctx, &s))
	}

	res, crawlErr := r.deps.Reviews.Crawl(ctx, rng, export.Write)
	if err := export.Close(); err != nil {
		crawlErr = errors.Join(crawlErr, fmt.Errorf("close review export: %w", err))
	} else {
		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
		err := r.deps.Reports.Upload(uctx, r.deps.RunID.String(), report.ReviewsFile, "application/x-ndjson", export.Open)
		cancel()
		if err != nil {
			r.deps.Logger.Warn("upload review export", zap.Error(err))
		}
		r.deps.Logger.Info("reviews exported", zap.String("path", export.Path()), zap.Int64("reviews", export.Count()))
	}

	s.Collected = int64(res.Reviews)
	s.Broken = res.Broken
	s.FailedPages = res.FailedPages
	s.PagesCompleted = res.PagesCompleted
	s.Interrupted = res.Interrupted
	if crawlErr != nil {
		s.Error = crawlErr.Error()
	}
	return s, errors.Join(crawlErr, r.finish(ctx, &s))
}

func (r *Runner) newSummary(kind string) report.Summary {
	return report.Summary{RunID: r.deps.RunID.String(), Kind: kind, StartedAt: r.deps.Clock().UTC()}
}

func applyTally(s *report.Summary, t Tally) {
	s.Created, s.Skipped, s.Failed, s.NotIngested = t.Created, t.Skipped, t.Failed, t.NotIngested
	if t.Aborted != nil {
		s.Aborted = true
		s.Error = t.Aborted.Error()
	}
}

func (r *Runner) ping(ctx context.Context) error {
	if r.deps.Store == nil {
		return nil
	}
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := r.deps.Store.Ping(pctx); err != nil {
		return fmt.Errorf("ping store: %w", errors.Join(catalog.ErrStoreUnavailable, err))
	}
	return nil
}

func (r *Runner) openExport() (*report.Export, error) {
	if r.deps.Exports == nil {
		return nil, nil
	}
	return report.CreateExport(r.deps.Exports, r.deps.RunID.String())
}

func (r *Runner) closeExport(ctx context.Context, export *report.Export) {
	if export == nil {
		return
	}
	if err := export.Close(); err != nil {
		r.deps.Logger.Warn("close record export", zap.Error(err))
		return
	}
	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()
	err := r.deps.Reports.Upload(uctx, r.deps.RunID.String(), report.RecordsFile, "application/x-ndjson", export.Open)
	if err != nil {
		r.deps.Logger.Warn("upload record export", zap.Error(err))
	}
	r.deps.Logger.Info("records exported", zap.String("path", export.Path()), zap.Int64("records", export.Count()))
}

// fail records a fatal error in the summary and still writes the report.
func (r *Runner) fail(ctx context.Context, s *report.Summary, err error) (report.Summary, error) {
	s.Error = err.Error()
	r.emitRunError(err)
	return *s, errors.Join(err, r.finish(ctx, s))
}

func (r *Runner) emitRunError(err error) {
	r.deps.Events.Emit(progress.Event{
		RunID: progress.UUIDToBytes(r.deps.RunID),
		TS:    r.deps.Clock().UTC(),
		Stage: progress.StageRunError,
		Note:  err.Error(),
	})
}

// finish writes the report and publishes the completion message on a context
// that survives interruption of ctx.
func (r *Runner) finish(ctx context.Context, s *report.Summary) error {
	s.FinishedAt = r.deps.Clock().UTC()
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	var errs []error
	if err := r.deps.Reports.Write(fctx, s); err != nil {
		errs = append(errs, fmt.Errorf("write report: %w", err))
	}
	if r.deps.Publisher != nil && r.deps.Topic != "" {
		id, err := r.deps.Publisher.Publish(fctx, r.deps.Topic, s)
		if err != nil {
			r.deps.Logger.Warn("publish run summary", zap.Error(err))
		} else {
			r.deps.Logger.Debug("run summary published", zap.String("message_id", id))
		}
	}
	r.deps.Logger.Info("run finished",
		zap.String("run_id", s.RunID),
		zap.Int64("collected", s.Collected),
		zap.Int64("created", s.Created),
		zap.Int64("skipped", s.Skipped),
		zap.Int64("failed", s.Failed),
		zap.Int64("not_ingested", s.NotIngested),
		zap.Int("broken", len(s.Broken)),
		zap.Bool("interrupted", s.Interrupted),
		zap.Bool("aborted", s.Aborted),
		zap.Int("resume_page", s.ResumePage()),
	)
	return errors.Join(errs...)
}

// ResumeRange narrows r to start after the last page the most recent
// unfinished run drained. A finished or missing previous run leaves r as is.
func ResumeRange(ctx context.Context, runs catalog.RunRepository, r catalog.Range) (catalog.Range, bool, error) {
	last, ok, err := runs.LatestRun(ctx)
	if err != nil {
		return r, false, fmt.Errorf("load latest run: %w", err)
	}
	if !ok || last.Status == catalog.RunDone {
		return r, false, nil
	}
	next := last.ResumePage()
	if next <= r.Start {
		return r, false, nil
	}
	if next > r.End {
		return r, false, fmt.Errorf("resume at page %d past end page %d: %w", next, r.End, ErrRunComplete)
	}
	return catalog.Range{Start: next, End: r.End}, true, nil
}
