package extract

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/ludostock-crawler/internal/catalog"
)

// PagePlaceholder is replaced by the page index in a listing URL template.
const PagePlaceholder = "{page}"

// Walker fetches listing pages and returns the item URLs they link to.
type Walker struct {
	fetcher  catalog.Fetcher
	template string
	parse    ListingParser
	logger   *zap.Logger
}

// NewWalker builds a Walker. template must contain PagePlaceholder.
func NewWalker(fetcher catalog.Fetcher, template string, parse ListingParser, logger *zap.Logger) (*Walker, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if !strings.Contains(template, PagePlaceholder) {
		return nil, fmt.Errorf("listing url template %q lacks %s", template, PagePlaceholder)
	}
	if parse == nil {
		parse = NewListingParser(DefaultSelectors())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Walker{fetcher: fetcher, template: template, parse: parse, logger: logger}, nil
}

// PageURL renders the listing URL for page.
func (w *Walker) PageURL(page int) string {
	return strings.ReplaceAll(w.template, PagePlaceholder, strconv.Itoa(page))
}

// Fetch returns the item URLs on a listing page. A fetch failure returns an
// empty slice and a *catalog.ListingError; markup that does not match the
// parser returns an empty slice and no error.
func (w *Walker) Fetch(ctx context.Context, page int) ([]string, error) {
	base, body, err := w.fetchPage(ctx, page)
	if err != nil {
		return nil, err
	}
	urls, err := w.parse(base, body)
	if err != nil {
		w.logger.Warn("listing markup not understood", zap.Int("page", page), zap.Error(err))
		return nil, nil
	}
	w.logger.Debug("listing page parsed", zap.Int("page", page), zap.Int("items", len(urls)))
	return urls, nil
}

// fetchPage downloads one listing page and returns the URL links resolve
// against. Failures come back as *catalog.ListingError.
func (w *Walker) fetchPage(ctx context.Context, page int) (*url.URL, []byte, error) {
	pageURL := w.PageURL(page)
	if page < 1 {
		return nil, nil, &catalog.ListingError{Page: page, URL: pageURL, Cause: catalog.ErrInvalidPageRange}
	}
	resp, err := w.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, nil, &catalog.ListingError{Page: page, URL: pageURL, Cause: err}
	}
	base, err := url.Parse(resp.URL)
	if err != nil || resp.URL == "" {
		base, _ = url.Parse(pageURL)
	}
	return base, resp.Body, nil
}

// ReviewWalker fetches review listing pages and returns the reviews on them.
type ReviewWalker struct {
	pages *Walker
	parse ReviewParser
}

// NewReviewWalker builds a ReviewWalker. template must contain
// PagePlaceholder.
func NewReviewWalker(fetcher catalog.Fetcher, template string, parse ReviewParser, logger *zap.Logger) (*ReviewWalker, error) {
	pages, err := NewWalker(fetcher, template, nil, logger)
	if err != nil {
		return nil, err
	}
	if parse == nil {
		parse = NewReviewParser(DefaultReviewSelectors())
	}
	return &ReviewWalker{pages: pages, parse: parse}, nil
}

// PageURL renders the review page URL for page.
func (w *ReviewWalker) PageURL(page int) string { return w.pages.PageURL(page) }

// Fetch returns the reviews on one page, each tagged with page. A fetch
// failure returns a *catalog.ListingError.
func (w *ReviewWalker) Fetch(ctx context.Context, page int) ([]catalog.Review, error) {
	base, body, err := w.pages.fetchPage(ctx, page)
	if err != nil {
		return nil, err
	}
	reviews, err := w.parse(base, body)
	if err != nil {
		w.pages.logger.Warn("review markup not understood", zap.Int("page", page), zap.Error(err))
		return nil, nil
	}
	for i := range reviews {
		reviews[i].Page = page
	}
	w.pages.logger.Debug("review page parsed", zap.Int("page", page), zap.Int("reviews", len(reviews)))
	return reviews, nil
}
