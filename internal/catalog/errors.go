package catalog

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the pipeline stages.
var (
	ErrListingFetchFailed = errors.New("listing fetch failed")
	ErrExtractionFailed   = errors.New("extraction failed")
	ErrResolutionConflict = errors.New("resolution conflict")
	ErrDuplicateItem      = errors.New("duplicate item")
	ErrStoreUnavailable   = errors.New("store unavailable")
	ErrMissingName        = errors.New("record has no name")
	ErrInvalidPageRange   = errors.New("invalid page range")
)

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.Code, e.URL)
}

// ExtractionError is returned by the item extractor for a URL it could not
// turn into a record. It matches ErrExtractionFailed with errors.Is.
type ExtractionError struct {
	URL   string
	Cause error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.URL, e.Cause)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *ExtractionError) Unwrap() []error {
	return []error{ErrExtractionFailed, e.Cause}
}

// ListingError is returned by the listing walker for a page that could not be read.
type ListingError struct {
	Page  int
	URL   string
	Cause error
}

func (e *ListingError) Error() string {
	return fmt.Sprintf("listing page %d (%s): %v", e.Page, e.URL, e.Cause)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *ListingError) Unwrap() []error {
	return []error{ErrListingFetchFailed, e.Cause}
}
