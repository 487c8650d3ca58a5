package extract

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/ludostock-crawler/internal/catalog"
)

// Extractor fetches one item page and parses it into a RawRecord.
type Extractor struct {
	fetcher catalog.Fetcher
	parse   ItemParser
	logger  *zap.Logger
}

// NewExtractor builds an Extractor.
func NewExtractor(fetcher catalog.Fetcher, parse ItemParser, logger *zap.Logger) (*Extractor, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if parse == nil {
		parse = NewItemParser(DefaultSelectors())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{fetcher: fetcher, parse: parse, logger: logger}, nil
}

// Extract fetches url and returns its record. Every failure, including a page
// with no derivable name, is reported as a *catalog.ExtractionError.
func (e *Extractor) Extract(ctx context.Context, url string, page int) (catalog.RawRecord, error) {
	resp, err := e.fetcher.Fetch(ctx, url)
	if err != nil {
		return catalog.RawRecord{}, &catalog.ExtractionError{URL: url, Cause: err}
	}
	fields, err := e.parse(url, resp.Body)
	if err != nil {
		return catalog.RawRecord{}, &catalog.ExtractionError{URL: url, Cause: err}
	}
	rec := catalog.RawRecord{URL: url, Page: page, Fields: fields}
	if rec.Name() == "" {
		return catalog.RawRecord{}, &catalog.ExtractionError{URL: url, Cause: catalog.ErrMissingName}
	}
	return rec, nil
}
