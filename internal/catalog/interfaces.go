package catalog

import (
	"context"
	"io"
	"net/http"
	"time"
)

// FetchResponse is the result of one HTTP GET.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Fetcher retrieves a URL. Implementations return a *StatusError for non-2xx
// responses and honor ctx for cancellation.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResponse, error)
}

// EntityStore persists related entities. InsertEntity reports created=false
// when a row with the same key already existed.
type EntityStore interface {
	FindEntity(ctx context.Context, kind EntityKind, name string) (int64, bool, error)
	InsertEntity(ctx context.Context, kind EntityKind, name string) (id int64, created bool, err error)
}

// ItemStore persists primary items. CreateItem writes the item and every link
// in one unit of work and reports created=false, with the existing id, when
// another writer already stored the same name.
type ItemStore interface {
	FindItemByName(ctx context.Context, name string) (int64, bool, error)
	CreateItem(ctx context.Context, item NormalizedItem, links map[EntityKind][]int64) (id int64, created bool, err error)
}

// Store is the full relational store used by the pipeline.
type Store interface {
	EntityStore
	ItemStore
	RunRepository
	Ping(ctx context.Context) error
	Close()
}

// BlobStore persists report artefacts.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, body io.Reader) (string, error)
}

// Publisher announces a finished run.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
