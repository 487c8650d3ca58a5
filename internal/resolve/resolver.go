// Package resolve maps related entity names onto store identifiers, creating
// rows on first sight. Concurrent callers asking for the same (kind, name)
// share one store round trip, and insert races between processes are settled
// by the store's uniqueness constraint: a losing insert re-reads the winner.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/ludostock-crawler/internal/catalog"
	"github.com/JakeFAU/ludostock-crawler/internal/normalize"
)

const (
	defaultMaxAttempts = 3
	defaultCallTimeout = 15 * time.Second
)

// ErrEmptyName is returned for names that are blank after trimming.
var ErrEmptyName = errors.New("entity name is empty")

// Stats reports resolver activity for the run summary.
type Stats struct {
	CacheHits int64
	Lookups   int64
	Created   map[catalog.EntityKind]int64
	Conflicts int64
}

// Resolver is the run-scoped get-or-create front of an EntityStore.
type Resolver struct {
	store       catalog.EntityStore
	logger      *zap.Logger
	maxAttempts int
	callTimeout time.Duration

	mu    sync.RWMutex
	cache map[catalog.EntityKind]map[string]int64
	group singleflight.Group

	hits      atomic.Int64
	lookups   atomic.Int64
	conflicts atomic.Int64
	createdMu sync.Mutex
	created   map[catalog.EntityKind]int64
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMaxAttempts bounds the find/insert cycles spent on one name.
func WithMaxAttempts(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithCallTimeout bounds the store work shared by concurrent callers of one
// name.
func WithCallTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.callTimeout = d
		}
	}
}

// New builds a Resolver with an empty cache.
func New(store catalog.EntityStore, opts ...Option) *Resolver {
	r := &Resolver{
		store:       store,
		logger:      zap.NewNop(),
		maxAttempts: defaultMaxAttempts,
		callTimeout: defaultCallTimeout,
		cache:       make(map[catalog.EntityKind]map[string]int64, len(catalog.EntityKinds)),
		created:     make(map[catalog.EntityKind]int64, len(catalog.EntityKinds)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the identifier for name, creating the row when needed.
// Names compare case-insensitively with whitespace collapsed; the first
// spelling seen is the one stored.
//
// Callers of the same name share one store call. That call runs detached from
// any single caller's cancellation, bounded by the call timeout, so a caller
// that gives up returns its own ctx error without failing the others.
func (r *Resolver) Resolve(ctx context.Context, kind catalog.EntityKind, name string) (int64, error) {
	name = normalize.Text(name)
	if name == "" {
		return 0, fmt.Errorf("resolve %s: %w", kind, ErrEmptyName)
	}
	key := catalog.EntityKey(name)
	if id, ok := r.cached(kind, key); ok {
		r.hits.Add(1)
		return id, nil
	}
	ch := r.group.DoChan(string(kind)+"\x00"+key, func() (any, error) {
		if id, ok := r.cached(kind, key); ok {
			return id, nil
		}
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.callTimeout)
		defer cancel()
		id, err := r.getOrCreate(cctx, kind, name)
		if err != nil {
			return int64(0), err
		}
		r.remember(kind, key, id)
		return id, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(int64), nil
	case <-ctx.Done():
		return 0, fmt.Errorf("resolve %s %q: %w", kind, name, ctx.Err())
	}
}

// ResolveAll resolves every related name of item, grouped by kind, with
// duplicate identifiers removed.
func (r *Resolver) ResolveAll(ctx context.Context, item catalog.NormalizedItem) (map[catalog.EntityKind][]int64, error) {
	links := make(map[catalog.EntityKind][]int64, len(catalog.EntityKinds))
	for _, kind := range catalog.EntityKinds {
		names := item.Names(kind)
		if len(names) == 0 {
			continue
		}
		seen := make(map[int64]struct{}, len(names))
		ids := make([]int64, 0, len(names))
		for _, name := range names {
			if normalize.Text(name) == "" {
				continue
			}
			id, err := r.Resolve(ctx, kind, name)
			if err != nil {
				return nil, err
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		if len(ids) > 0 {
			links[kind] = ids
		}
	}
	return links, nil
}

// Stats returns a snapshot of resolver counters.
func (r *Resolver) Stats() Stats {
	r.createdMu.Lock()
	created := make(map[catalog.EntityKind]int64, len(r.created))
	for k, v := range r.created {
		created[k] = v
	}
	r.createdMu.Unlock()
	return Stats{
		CacheHits: r.hits.Load(),
		Lookups:   r.lookups.Load(),
		Created:   created,
		Conflicts: r.conflicts.Load(),
	}
}

// Len is the number of cached names of kind.
func (r *Resolver) Len(kind catalog.EntityKind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache[kind])
}

func (r *Resolver) getOrCreate(ctx context.Context, kind catalog.EntityKind, name string) (int64, error) {
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		r.lookups.Add(1)
		id, found, err := r.store.FindEntity(ctx, kind, name)
		if err != nil {
			return 0, fmt.Errorf("find %s %q: %w", kind, name, err)
		}
		if found {
			return id, nil
		}
		id, created, err := r.store.InsertEntity(ctx, kind, name)
		if err != nil && !errors.Is(err, catalog.ErrResolutionConflict) {
			return 0, fmt.Errorf("insert %s %q: %w", kind, name, err)
		}
		if err == nil && created {
			r.createdMu.Lock()
			r.created[kind]++
			r.createdMu.Unlock()
			r.logger.Debug("entity created", zap.String("kind", string(kind)), zap.String("name", name),
				zap.Int64("id", id))
			return id, nil
		}
		// Another writer holds the name; read its row on the next pass.
		r.conflicts.Add(1)
		r.logger.Debug("entity insert conflict", zap.String("kind", string(kind)), zap.String("name", name),
			zap.Int("attempt", attempt))
	}
	return 0, fmt.Errorf("resolve %s %q after %d attempts: %w", kind, name, r.maxAttempts, catalog.ErrResolutionConflict)
}

func (r *Resolver) cached(kind catalog.EntityKind, key string) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.cache[kind][key]
	return id, ok
}

func (r *Resolver) remember(kind catalog.EntityKind, key string, id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.cache[kind]
	if m == nil {
		m = make(map[string]int64)
		r.cache[kind] = m
	}
	m[key] = id
}
