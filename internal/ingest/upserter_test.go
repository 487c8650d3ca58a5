package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ludostock-crawler/internal/catalog"
	"github.com/JakeFAU/ludostock-crawler/internal/resolve"
	"github.com/JakeFAU/ludostock-crawler/internal/storage/memory"
)

func intPtr(n int) *int { return &n }

func catan() catalog.NormalizedItem {
	return catalog.NormalizedItem{
		Name:       "Catan",
		Kind:       catalog.KindGame,
		MinPlayers: intPtr(3),
		MaxPlayers: intPtr(4),
		Authors:    []string{"Klaus Teuber"},
		Editors:    []string{"Kosmos", "Filosofia"},
	}
}

func newUpserter(t *testing.T, store *memory.CatalogStore) *Upserter {
	t.Helper()
	u, err := NewUpserter(store, resolve.New(store), nil)
	require.NoError(t, err)
	return u
}

func TestIngestIsIdempotent(t *testing.T) {
	t.Parallel()

	store := memory.NewCatalogStore()
	u := newUpserter(t, store)
	ctx := context.Background()

	first := u.Ingest(ctx, catan())
	require.Equal(t, catalog.StatusCreated, first.Status, first.Err)
	require.NotZero(t, first.ItemID)

	second := u.Ingest(ctx, catan())
	assert.Equal(t, catalog.StatusSkipped, second.Status)
	assert.Equal(t, first.ItemID, second.ItemID)
	assert.Equal(t, catalog.ReasonAlreadyExists, second.Reason)
	assert.Equal(t, 1, store.ItemCount())

	lower := catan()
	lower.Name = "CATAN"
	assert.Equal(t, catalog.StatusSkipped, u.Ingest(ctx, lower).Status)
}

func TestIngestLinksEntities(t *testing.T) {
	t.Parallel()

	store := memory.NewCatalogStore()
	u := newUpserter(t, store)

	out := u.Ingest(context.Background(), catan())
	require.Equal(t, catalog.StatusCreated, out.Status)
	assert.Len(t, store.Links(catalog.Authors, out.ItemID), 1)
	assert.Len(t, store.Links(catalog.Editors, out.ItemID), 2)
	assert.Empty(t, store.Links(catalog.Artists, out.ItemID))
	assert.Equal(t, []string{"Filosofia", "Kosmos"}, store.EntityNames(catalog.Editors))
}

func TestIngestConcurrentSameItem(t *testing.T) {
	t.Parallel()

	store := memory.NewCatalogStore()
	u := newUpserter(t, store)

	var wg sync.WaitGroup
	outcomes := make([]catalog.Outcome, 16)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = u.Ingest(context.Background(), catan())
		}(i)
	}
	wg.Wait()

	created := 0
	for _, o := range outcomes {
		require.NotEqual(t, catalog.StatusFailed, o.Status, o.Err)
		if o.Status == catalog.StatusCreated {
			created++
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, store.ItemCount())
	assert.Equal(t, 1, store.EntityCount(catalog.Authors))
}

type brokenItemStore struct {
	*memory.CatalogStore
	createErr error
}

func (b *brokenItemStore) CreateItem(
	context.Context, catalog.NormalizedItem, map[catalog.EntityKind][]int64,
) (int64, bool, error) {
	return 0, false, b.createErr
}

func TestIngestCreateFailureLeavesNoItem(t *testing.T) {
	t.Parallel()

	mem := memory.NewCatalogStore()
	store := &brokenItemStore{CatalogStore: mem, createErr: catalog.ErrStoreUnavailable}
	u, err := NewUpserter(store, resolve.New(mem), nil)
	require.NoError(t, err)

	out := u.Ingest(context.Background(), catan())
	assert.Equal(t, catalog.StatusFailed, out.Status)
	require.ErrorIs(t, out.Err, catalog.ErrStoreUnavailable)
	assert.Zero(t, mem.ItemCount())
}

type stubResolver struct{ err error }

func (s stubResolver) ResolveAll(context.Context, catalog.NormalizedItem) (map[catalog.EntityKind][]int64, error) {
	return nil, s.err
}

func TestIngestResolveFailure(t *testing.T) {
	t.Parallel()

	store := memory.NewCatalogStore()
	u, err := NewUpserter(store, stubResolver{err: errors.New("resolver down")}, nil)
	require.NoError(t, err)

	out := u.Ingest(context.Background(), catan())
	assert.Equal(t, catalog.StatusFailed, out.Status)
	require.ErrorContains(t, out.Err, "resolver down")
	assert.Zero(t, store.ItemCount())
}

func TestIngestMissingName(t *testing.T) {
	t.Parallel()

	u := newUpserter(t, memory.NewCatalogStore())
	out := u.Ingest(context.Background(), catalog.NormalizedItem{})
	require.ErrorIs(t, out.Err, catalog.ErrMissingName)

	_, err := NewUpserter(nil, nil, nil)
	require.Error(t, err)
}
