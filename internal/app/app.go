// Package app builds the long-lived services of one ludostock process from
// configuration and tears them down again.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/ludostock-crawler/internal/catalog"
	"github.com/JakeFAU/ludostock-crawler/internal/config"
	"github.com/JakeFAU/ludostock-crawler/internal/crawl"
	"github.com/JakeFAU/ludostock-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/ludostock-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/ludostock-crawler/internal/ingest"
	"github.com/JakeFAU/ludostock-crawler/internal/logging"
	"github.com/JakeFAU/ludostock-crawler/internal/metrics"
	"github.com/JakeFAU/ludostock-crawler/internal/ops"
	"github.com/JakeFAU/ludostock-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/ludostock-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/ludostock-crawler/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/ludostock-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/ludostock-crawler/internal/report"
	"github.com/JakeFAU/ludostock-crawler/internal/resolve"
	gcsstorage "github.com/JakeFAU/ludostock-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/ludostock-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/ludostock-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/ludostock-crawler/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/ludostock-crawler/internal/storage/sqlite"
)

// RunCompletedEvent is the event_type attribute of run-completion messages.
const RunCompletedEvent = "ludostock.run.completed"

// App holds every service of one run.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	runID   uuid.UUID
	metrics *metrics.Metrics

	store    catalog.Store
	resolver *resolve.Resolver
	hub      *progress.Hub
	runner   *ingest.Runner

	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher
	gcsClient    *storage.Client

	opsCancel context.CancelFunc
	opsDone   chan error
	opsAddr   net.Addr

	limiterOnce sync.Once
	hostLimiter *ratelimit.Limiter

	closeOnce sync.Once
}

// Option customizes Build.
type Option func(*options)

type options struct {
	version   string
	store     catalog.Store
	publisher catalog.Publisher
	runID     uuid.UUID
}

// WithVersion labels the build info metric.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// WithStore replaces the configured store; App still closes it.
func WithStore(s catalog.Store) Option {
	return func(o *options) { o.store = s }
}

// WithPublisher replaces the Pub/Sub publisher built from configuration.
func WithPublisher(p catalog.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithRunID fixes the run id instead of generating one.
func WithRunID(id uuid.UUID) Option {
	return func(o *options) { o.runID = id }
}

// Build creates the application's dependencies. On error every service
// created so far is closed again.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.runID == uuid.Nil {
		o.runID = uuid.Must(uuid.NewV7())
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{
		cfg:     cfg,
		logger:  logging.ForRun(logger, o.runID),
		runID:   o.runID,
		metrics: metrics.New(o.version),
	}
	defer func() {
		if err != nil {
			a.Close(context.WithoutCancel(ctx))
		}
	}()

	a.logger.Info("building application dependencies",
		zap.String("driver", cfg.DB.Driver),
		zap.Bool("ingest", cfg.Ingest.Enabled),
		zap.Int("concurrency", cfg.Crawler.Concurrency),
	)

	if err = a.setupStore(ctx, o.store); err != nil {
		return nil, err
	}
	if err = a.setupProgress(); err != nil {
		return nil, err
	}
	reports, disk, err := a.setupReports(ctx)
	if err != nil {
		return nil, err
	}
	var exports report.FileCreator
	if cfg.Report.ExportRecords {
		exports = disk
	}
	publisher, err := a.setupPublisher(ctx, o.publisher)
	if err != nil {
		return nil, err
	}
	scheduler, err := a.setupScheduler()
	if err != nil {
		return nil, err
	}
	pipeline, err := a.setupPipeline()
	if err != nil {
		return nil, err
	}
	reviews, err := a.setupReviews()
	if err != nil {
		return nil, err
	}

	deps := ingest.RunnerDeps{
		Scheduler:   scheduler,
		Pipeline:    pipeline,
		Reports:     reports,
		Exports:     exports,
		Reviews:     reviews,
		ReviewFiles: disk,
		Publisher:   publisher,
		Topic:       cfg.PubSub.TopicName,
		Events:      a.hub,
		RunID:       a.runID,
		Logger:      a.logger.Named("runner"),
	}
	if a.store != nil {
		deps.Store = a.store
	}
	if a.runner, err = ingest.NewRunner(deps); err != nil {
		return nil, fmt.Errorf("runner init failed: %w", err)
	}

	if err = a.startOps(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) setupStore(ctx context.Context, injected catalog.Store) error {
	if injected != nil {
		a.store = injected
		return nil
	}
	if !a.cfg.Ingest.Enabled {
		a.logger.Info("ingestion disabled, no store opened")
		return nil
	}
	switch a.cfg.DB.Driver {
	case config.DriverPostgres:
		s, err := pgstore.New(ctx, pgstore.Config{
			DSN:             a.cfg.DB.DSN,
			MaxConns:        a.cfg.DB.MaxConns,
			MinConns:        a.cfg.DB.MinConns,
			MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
			Migrate:         a.cfg.DB.Migrate,
		})
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		a.store = s
	case config.DriverSQLite:
		s, err := sqlitestore.Open(ctx, a.cfg.DB.DSN)
		if err != nil {
			return fmt.Errorf("sqlite store init failed: %w", err)
		}
		a.store = s
	default:
		a.logger.Warn("using in-memory store, nothing survives the process")
		a.store = memorystorage.NewCatalogStore()
	}
	a.logger.Info("store initialized", zap.String("driver", a.cfg.DB.Driver))
	return nil
}

func (a *App) setupProgress() error {
	promSink, err := progresssinks.NewPrometheusSink(a.metrics.Registry())
	if err != nil {
		return fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(a.logger.Named("progress")),
		promSink,
	}
	if a.store != nil {
		sinkList = append(sinkList, progresssinks.NewCheckpointSink(a.store, a.logger.Named("checkpoint")))
	}
	a.hub = progress.NewHub(progress.Config{Logger: a.logger.Named("progress_hub")}, sinkList...)
	return nil
}

func (a *App) setupReports(ctx context.Context) (*report.Writer, report.FileCreator, error) {
	disk, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Report.Dir})
	if err != nil {
		return nil, nil, fmt.Errorf("report dir init failed: %w", err)
	}
	stores := []catalog.BlobStore{disk}
	if a.cfg.Report.GCSBucket != "" {
		a.gcsClient, err = storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		bucket, err := gcsstorage.New(a.gcsClient, gcsstorage.Config{
			Bucket: a.cfg.Report.GCSBucket,
			Prefix: a.cfg.Report.Prefix,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		stores = append(stores, bucket)
		a.logger.Info("reports mirrored to GCS", zap.String("bucket", a.cfg.Report.GCSBucket))
	}
	w, err := report.NewWriter(a.logger.Named("report"), stores...)
	if err != nil {
		return nil, nil, fmt.Errorf("report writer init failed: %w", err)
	}
	return w, disk, nil
}

func (a *App) setupPublisher(ctx context.Context, injected catalog.Publisher) (catalog.Publisher, error) {
	if injected != nil {
		return injected, nil
	}
	if a.cfg.PubSub.TopicName == "" {
		a.logger.Debug("no Pub/Sub topic configured, run summaries are not published")
		return nil, nil
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.publisher, err = gcppublisher.New(a.pubsubClient, RunCompletedEvent)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.publisher, nil
}

func (a *App) setupScheduler() (*crawl.Scheduler, error) {
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Crawler.UserAgent,
		RespectRobots: a.cfg.Crawler.RespectRobots,
		Timeout:       a.cfg.FetchTimeout(),
	}, collyfetcher.WithLimiter(a.limiter()), collyfetcher.WithLogger(a.logger.Named("fetcher")))

	sel := a.cfg.Source.Selectors
	walker, err := extract.NewWalker(fetcher, a.cfg.Source.ListingURLTemplate,
		extract.NewListingParser(sel), a.logger.Named("walker"))
	if err != nil {
		return nil, fmt.Errorf("listing walker init failed: %w", err)
	}
	extractor, err := extract.NewExtractor(fetcher, extract.NewItemParser(sel), a.logger.Named("extractor"))
	if err != nil {
		return nil, fmt.Errorf("item extractor init failed: %w", err)
	}
	s, err := crawl.New(walker, extractor, crawl.Config{
		Concurrency:  a.cfg.Crawler.Concurrency,
		FetchTimeout: a.cfg.FetchTimeout(),
		RecordBuffer: a.cfg.Crawler.RecordBuffer,
		RunID:        a.runID,
	}, crawl.WithEmitter(a.hub), crawl.WithLogger(a.logger.Named("scheduler")))
	if err != nil {
		return nil, fmt.Errorf("scheduler init failed: %w", err)
	}
	return s, nil
}

// limiter is shared by every fetcher so that game and review crawls of one
// process stay under the same host budget.
func (a *App) limiter() *ratelimit.Limiter {
	a.limiterOnce.Do(func() {
		a.hostLimiter = ratelimit.New(ratelimit.Config{
			RPS:      a.cfg.Crawler.RateLimitPerSecond,
			Burst:    a.cfg.Crawler.Burst,
			Observer: a.metrics,
		})
	})
	return a.hostLimiter
}

func (a *App) setupReviews() (*crawl.ReviewScheduler, error) {
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Crawler.UserAgent,
		RespectRobots: a.cfg.Crawler.RespectRobots,
		Timeout:       a.cfg.ReviewTimeout(),
	}, collyfetcher.WithLimiter(a.limiter()), collyfetcher.WithLogger(a.logger.Named("review_fetcher")))

	walker, err := extract.NewReviewWalker(fetcher, a.cfg.Reviews.ListingURLTemplate,
		extract.NewReviewParser(a.cfg.Reviews.Selectors), a.logger.Named("review_walker"))
	if err != nil {
		return nil, fmt.Errorf("review walker init failed: %w", err)
	}
	s, err := crawl.NewReviewScheduler(walker, crawl.ReviewConfig{
		Concurrency:  a.cfg.Reviews.Concurrency,
		FetchTimeout: a.cfg.ReviewTimeout(),
	}, a.logger.Named("review_scheduler"))
	if err != nil {
		return nil, fmt.Errorf("review scheduler init failed: %w", err)
	}
	return s, nil
}

func (a *App) setupPipeline() (*ingest.Pipeline, error) {
	var ingester ingest.Ingester
	if a.store != nil {
		a.resolver = resolve.New(a.store, resolve.WithLogger(a.logger.Named("resolver")))
		upserter, err := ingest.NewUpserter(a.store, a.resolver, a.logger.Named("upserter"))
		if err != nil {
			return nil, fmt.Errorf("upserter init failed: %w", err)
		}
		ingester = upserter
	}
	return ingest.NewPipeline(ingester, ingest.PipelineConfig{
		Workers:                     a.cfg.Ingest.Workers,
		MaxConsecutiveStoreFailures: a.cfg.Ingest.MaxConsecutiveStoreFailures,
		ItemTimeout:                 a.cfg.ItemTimeout(),
		RunID:                       a.runID,
	}, ingest.WithEmitter(a.hub), ingest.WithLogger(a.logger.Named("pipeline"))), nil
}

func (a *App) startOps(ctx context.Context) error {
	if a.cfg.Ops.Port == 0 {
		return nil
	}
	deps := ops.Deps{
		Metrics:    a.metrics.Handler(),
		Progress:   a.runner,
		Middleware: []func(next http.Handler) http.Handler{a.metrics.Middleware},
		Logger:     a.logger.Named("ops"),
	}
	if a.store != nil {
		deps.Store = a.store
		deps.Runs = a.store
	}
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(a.cfg.Ops.Port)))
	if err != nil {
		return fmt.Errorf("ops listener failed: %w", err)
	}
	opsCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.opsCancel = cancel
	a.opsDone = make(chan error, 1)
	a.opsAddr = ln.Addr()
	srv := ops.NewServer(deps)
	go func() { a.opsDone <- srv.Serve(opsCtx, ln) }()
	return nil
}

// RunID identifies this process's run.
func (a *App) RunID() uuid.UUID { return a.runID }

// OpsAddr is the bound ops address, or nil when the server is disabled.
func (a *App) OpsAddr() net.Addr { return a.opsAddr }

// Crawl runs one crawl over rng.
func (a *App) Crawl(ctx context.Context, rng catalog.Range) (report.Summary, error) {
	s, err := a.runner.Crawl(ctx, rng)
	a.logResolver()
	return s, err
}

// Import re-ingests a records.jsonl export.
func (a *App) Import(ctx context.Context, src io.Reader) (report.Summary, error) {
	if a.store == nil {
		return report.Summary{}, errors.New("import requires ingestion to be enabled")
	}
	s, err := a.runner.Import(ctx, src)
	a.logResolver()
	return s, err
}

// CrawlReviews collects the reviews of pages rng into reviews.jsonl.
func (a *App) CrawlReviews(ctx context.Context, rng catalog.Range) (report.Summary, error) {
	return a.runner.CrawlReviews(ctx, rng)
}

// ResumeRange narrows rng using the run ledger of the configured store.
func (a *App) ResumeRange(ctx context.Context, rng catalog.Range) (catalog.Range, bool, error) {
	if a.store == nil {
		return rng, false, errors.New("resume requires a store")
	}
	return ingest.ResumeRange(ctx, a.store, rng)
}

func (a *App) logResolver() {
	if a.resolver == nil {
		return
	}
	st := a.resolver.Stats()
	fields := []zap.Field{
		zap.Int64("cache_hits", st.CacheHits),
		zap.Int64("lookups", st.Lookups),
		zap.Int64("conflicts", st.Conflicts),
	}
	for _, kind := range catalog.EntityKinds {
		fields = append(fields, zap.Int64("created_"+string(kind), st.Created[kind]))
	}
	a.logger.Info("entity resolution", fields...)
}

// Close flushes progress sinks, then shuts down the ops server and clients.
// It is safe to call more than once.
func (a *App) Close(ctx context.Context) {
	a.closeOnce.Do(func() {
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if a.hub != nil {
			if err := a.hub.Close(cctx); err != nil {
				a.logger.Warn("progress hub close failed", zap.Error(err))
			}
			if dropped := a.hub.Dropped(); dropped > 0 {
				a.logger.Warn("progress events dropped", zap.Int64("dropped", dropped))
			}
		}
		if a.opsCancel != nil {
			a.opsCancel()
			if err := <-a.opsDone; err != nil {
				a.logger.Warn("ops server stop failed", zap.Error(err))
			}
		}
		if a.publisher != nil {
			a.publisher.Close()
		}
		if a.pubsubClient != nil {
			if err := a.pubsubClient.Close(); err != nil {
				a.logger.Warn("pubsub client close failed", zap.Error(err))
			}
		}
		if a.gcsClient != nil {
			if err := a.gcsClient.Close(); err != nil {
				a.logger.Warn("gcs client close failed", zap.Error(err))
			}
		}
		if a.store != nil {
			a.store.Close()
		}
		a.logger.Info("shutdown complete")
	})
}
