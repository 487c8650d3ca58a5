package resolve

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ludostock-crawler/internal/catalog"
	"github.com/JakeFAU/ludostock-crawler/internal/storage/memory"
)

// countingStore wraps the memory store and counts round trips.
type countingStore struct {
	*memory.CatalogStore
	finds   atomic.Int32
	inserts atomic.Int32
}

func (c *countingStore) FindEntity(ctx context.Context, kind catalog.EntityKind, name string) (int64, bool, error) {
	c.finds.Add(1)
	return c.CatalogStore.FindEntity(ctx, kind, name)
}

func (c *countingStore) InsertEntity(ctx context.Context, kind catalog.EntityKind, name string) (int64, bool, error) {
	c.inserts.Add(1)
	return c.CatalogStore.InsertEntity(ctx, kind, name)
}

func TestResolveConcurrentCallersShareOneRow(t *testing.T) {
	t.Parallel()

	store := &countingStore{CatalogStore: memory.NewCatalogStore()}
	r := New(store)

	const callers = 64
	ids := make([]int64, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			id, err := r.Resolve(context.Background(), catalog.Authors, "Knizia")
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	close(start)
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.NotZero(t, ids[0])
	assert.Equal(t, 1, store.EntityCount(catalog.Authors))
	assert.Equal(t, int32(1), store.inserts.Load())
	assert.Equal(t, int64(1), r.Stats().Created[catalog.Authors])
}

// TestResolveConcurrentResolversShareOneRow models two processes, each with
// its own cache, racing on one store.
func TestResolveConcurrentResolversShareOneRow(t *testing.T) {
	t.Parallel()

	store := memory.NewCatalogStore()
	resolvers := []*Resolver{New(store), New(store), New(store), New(store)}

	var wg sync.WaitGroup
	ids := make([]int64, 40)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := resolvers[i%len(resolvers)].Resolve(context.Background(), catalog.Editors, "Kosmos")
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, store.EntityCount(catalog.Editors))
}

func TestResolveCacheIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	store := &countingStore{CatalogStore: memory.NewCatalogStore()}
	r := New(store)
	ctx := context.Background()

	a, err := r.Resolve(ctx, catalog.Artists, "Michael Menzel")
	require.NoError(t, err)
	b, err := r.Resolve(ctx, catalog.Artists, "  michael   MENZEL ")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, int32(1), store.finds.Load())
	assert.Equal(t, 1, r.Len(catalog.Artists))
	assert.Equal(t, int64(1), r.Stats().CacheHits)
	assert.Equal(t, []string{"Michael Menzel"}, store.EntityNames(catalog.Artists))
}

func TestResolveKindsAreSeparate(t *testing.T) {
	t.Parallel()

	store := memory.NewCatalogStore()
	r := New(store)
	ctx := context.Background()

	a, err := r.Resolve(ctx, catalog.Authors, "Asmodee")
	require.NoError(t, err)
	d, err := r.Resolve(ctx, catalog.Distributors, "Asmodee")
	require.NoError(t, err)
	assert.NotEqual(t, a, d)
}

// racingStore loses every insert to a writer that lands between find and insert.
type racingStore struct {
	*memory.CatalogStore
	raced atomic.Bool
}

func (s *racingStore) InsertEntity(ctx context.Context, kind catalog.EntityKind, name string) (int64, bool, error) {
	if s.raced.CompareAndSwap(false, true) {
		if _, _, err := s.CatalogStore.InsertEntity(ctx, kind, name); err != nil {
			return 0, false, err
		}
	}
	return s.CatalogStore.InsertEntity(ctx, kind, name)
}

func TestResolveInsertConflictUsesWinner(t *testing.T) {
	t.Parallel()

	store := &racingStore{CatalogStore: memory.NewCatalogStore()}
	r := New(store)

	id, err := r.Resolve(context.Background(), catalog.Authors, "Bauza")
	require.NoError(t, err)

	winner, ok, err := store.FindEntity(context.Background(), catalog.Authors, "Bauza")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, winner, id)
	assert.Equal(t, 1, store.EntityCount(catalog.Authors))
	assert.Equal(t, int64(1), r.Stats().Conflicts)
	assert.Zero(t, r.Stats().Created[catalog.Authors])
}

// gatedStore holds FindEntity until release is closed.
type gatedStore struct {
	*memory.CatalogStore
	entered chan struct{}
	release chan struct{}
	finds   atomic.Int32
}

func (g *gatedStore) FindEntity(ctx context.Context, kind catalog.EntityKind, name string) (int64, bool, error) {
	if g.finds.Add(1) == 1 {
		close(g.entered)
	}
	select {
	case <-g.release:
	case <-ctx.Done():
		return 0, false, ctx.Err()
	}
	return g.CatalogStore.FindEntity(ctx, kind, name)
}

func TestResolveCancelledCallerDoesNotFailOthers(t *testing.T) {
	t.Parallel()

	store := &gatedStore{
		CatalogStore: memory.NewCatalogStore(),
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	r := New(store)

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := r.Resolve(leaderCtx, catalog.Authors, "Knizia")
		leaderErr <- err
	}()
	<-store.entered

	type result struct {
		id  int64
		err error
	}
	follower := make(chan result, 1)
	go func() {
		id, err := r.Resolve(context.Background(), catalog.Authors, "Knizia")
		follower <- result{id, err}
	}()

	cancel()
	select {
	case err := <-leaderErr:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(store.release)
	select {
	case res := <-follower:
		require.NoError(t, res.err)
		assert.NotZero(t, res.id)
	case <-time.After(time.Second):
		t.Fatal("follower did not return")
	}
	assert.Equal(t, int32(1), store.finds.Load())
	assert.Equal(t, 1, store.EntityCount(catalog.Authors))
}

func TestResolveSharedCallIsBounded(t *testing.T) {
	t.Parallel()

	store := &gatedStore{
		CatalogStore: memory.NewCatalogStore(),
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	r := New(store, WithCallTimeout(20*time.Millisecond))
	_, err := r.Resolve(context.Background(), catalog.Authors, "Knizia")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, r.Len(catalog.Authors))
}

// phantomStore never shows the row its inserts conflict with.
type phantomStore struct{}

func (phantomStore) FindEntity(context.Context, catalog.EntityKind, string) (int64, bool, error) {
	return 0, false, nil
}

func (phantomStore) InsertEntity(context.Context, catalog.EntityKind, string) (int64, bool, error) {
	return 0, false, catalog.ErrResolutionConflict
}

func TestResolveGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	r := New(phantomStore{}, WithMaxAttempts(2))
	_, err := r.Resolve(context.Background(), catalog.Authors, "Ghost")
	require.ErrorIs(t, err, catalog.ErrResolutionConflict)
	assert.Equal(t, int64(2), r.Stats().Lookups)
}

type failingStore struct{ err error }

func (f failingStore) FindEntity(context.Context, catalog.EntityKind, string) (int64, bool, error) {
	return 0, false, f.err
}

func (f failingStore) InsertEntity(context.Context, catalog.EntityKind, string) (int64, bool, error) {
	return 0, false, f.err
}

func TestResolveStoreErrorsAreNotCached(t *testing.T) {
	t.Parallel()

	down := failingStore{err: catalog.ErrStoreUnavailable}
	r := New(down)
	_, err := r.Resolve(context.Background(), catalog.Authors, "Someone")
	require.ErrorIs(t, err, catalog.ErrStoreUnavailable)
	assert.Zero(t, r.Len(catalog.Authors))
}

func TestResolveEmptyName(t *testing.T) {
	t.Parallel()

	r := New(memory.NewCatalogStore())
	_, err := r.Resolve(context.Background(), catalog.Authors, "   ")
	require.ErrorIs(t, err, ErrEmptyName)
}

func TestResolveAll(t *testing.T) {
	t.Parallel()

	store := memory.NewCatalogStore()
	r := New(store)
	item := catalog.NormalizedItem{
		Name:    "Catan",
		Authors: []string{"Klaus Teuber", "klaus teuber"},
		Editors: []string{"Kosmos", "Filosofia", " "},
	}

	links, err := r.ResolveAll(context.Background(), item)
	require.NoError(t, err)
	assert.Len(t, links[catalog.Authors], 1)
	assert.Len(t, links[catalog.Editors], 2)
	_, hasArtists := links[catalog.Artists]
	assert.False(t, hasArtists)

	_, err = New(failingStore{err: errors.New("boom")}).ResolveAll(context.Background(), item)
	require.ErrorContains(t, err, "boom")
}
