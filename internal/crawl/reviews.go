package crawl

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/ludostock-crawler/internal/catalog"
)

const (
	defaultReviewConcurrency  = 20
	defaultReviewFetchTimeout = 10 * time.Second
)

// ReviewWalker lists the reviews on one review page.
type ReviewWalker interface {
	Fetch(ctx context.Context, page int) ([]catalog.Review, error)
	PageURL(page int) string
}

// ReviewConfig tunes the review scheduler.
type ReviewConfig struct {
	// Concurrency caps review pages in flight.
	Concurrency int
	// FetchTimeout bounds each page fetch, including after an interrupt.
	FetchTimeout time.Duration
}

// ReviewScheduler fetches review pages concurrently. Review pages carry no
// item links, so pages are the unit of work and may complete in any order.
type ReviewScheduler struct {
	pages  ReviewWalker
	cfg    ReviewConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewReviewScheduler builds a ReviewScheduler.
func NewReviewScheduler(pages ReviewWalker, cfg ReviewConfig, logger *zap.Logger) (*ReviewScheduler, error) {
	if pages == nil {
		return nil, errors.New("review walker is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultReviewConcurrency
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultReviewFetchTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReviewScheduler{pages: pages, cfg: cfg, logger: logger, now: time.Now}, nil
}

// ReviewResult is the final report of a review crawl. Broken lists the page
// URLs that could not be fetched, ordered by page.
type ReviewResult struct {
	Range          catalog.Range
	Reviews        int
	Broken         []string
	FailedPages    []int
	PagesCompleted int
	Interrupted    bool
	Elapsed        time.Duration
}

// Crawl fetches every page of r and hands each review to sink. Sink calls
// are serialized. Cancelling ctx stops dispatching pages; pages in flight
// finish or hit FetchTimeout and their reviews are still delivered. A sink
// error stops the crawl and is returned with the partial result.
func (s *ReviewScheduler) Crawl(ctx context.Context, r catalog.Range, sink func(catalog.Review) error) (ReviewResult, error) {
	res := ReviewResult{Range: r}
	if err := r.Validate(); err != nil {
		return res, err
	}
	start := s.now()
	stop, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu      sync.Mutex
		sinkErr error
	)
	s.logger.Info("review crawl started", zap.Int("start_page", r.Start), zap.Int("end_page", r.End),
		zap.Int("concurrency", s.cfg.Concurrency))

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Concurrency)
	for page := r.Start; page <= r.End; page++ {
		if stop.Err() != nil {
			break
		}
		g.Go(func() error {
			fctx, fcancel := context.WithTimeout(context.WithoutCancel(stop), s.cfg.FetchTimeout)
			reviews, err := s.pages.Fetch(fctx, page)
			fcancel()

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.FailedPages = append(res.FailedPages, page)
				s.logger.Warn("review page failed", zap.Int("page", page), zap.Error(err))
				return nil
			}
			for _, rv := range reviews {
				if sinkErr != nil {
					return nil
				}
				if err := sink(rv); err != nil {
					sinkErr = fmt.Errorf("write review from page %d: %w", page, err)
					cancel()
					return nil
				}
				res.Reviews++
			}
			res.PagesCompleted++
			s.logger.Debug("review page done", zap.Int("page", page), zap.Int("reviews", len(reviews)))
			return nil
		})
	}
	_ = g.Wait()

	sort.Ints(res.FailedPages)
	for _, page := range res.FailedPages {
		res.Broken = append(res.Broken, s.pages.PageURL(page))
	}
	res.Interrupted = ctx.Err() != nil
	res.Elapsed = s.now().Sub(start)
	s.logger.Info("review crawl finished",
		zap.Int("reviews", res.Reviews),
		zap.Int("pages_completed", res.PagesCompleted),
		zap.Int("broken", len(res.Broken)),
		zap.Bool("interrupted", res.Interrupted),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, sinkErr
}
