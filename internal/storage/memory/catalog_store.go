// Package memory provides in-process catalog and blob stores for development and tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/ludostock-crawler/internal/catalog"
)

type entityRow struct {
	id   int64
	name string
}

type itemRow struct {
	id   int64
	item catalog.NormalizedItem
}

// CatalogStore is an in-memory catalog.Store. Uniqueness is enforced on the
// lower-cased name exactly like the relational schema.
type CatalogStore struct {
	mu       sync.RWMutex
	nextID   int64
	entities map[catalog.EntityKind]map[string]entityRow
	items    map[string]itemRow
	links    map[catalog.EntityKind]map[int64][]int64
	runs     map[uuid.UUID]*catalog.RunRecord
	closed   bool
}

// NewCatalogStore returns an empty store.
func NewCatalogStore() *CatalogStore {
	return &CatalogStore{
		entities: make(map[catalog.EntityKind]map[string]entityRow),
		items:    make(map[string]itemRow),
		links:    make(map[catalog.EntityKind]map[int64][]int64),
		runs:     make(map[uuid.UUID]*catalog.RunRecord),
	}
}

var errClosed = errors.New("memory store closed")

// FindEntity looks up an entity by name.
func (s *CatalogStore) FindEntity(_ context.Context, kind catalog.EntityKind, name string) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, false, errors.Join(catalog.ErrStoreUnavailable, errClosed)
	}
	row, ok := s.entities[kind][catalog.EntityKey(name)]
	return row.id, ok, nil
}

// InsertEntity inserts name unless an equal key exists, in which case it
// reports created=false with a zero id.
func (s *CatalogStore) InsertEntity(_ context.Context, kind catalog.EntityKind, name string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, false, errors.Join(catalog.ErrStoreUnavailable, errClosed)
	}
	key := catalog.EntityKey(name)
	rows := s.entities[kind]
	if rows == nil {
		rows = make(map[string]entityRow)
		s.entities[kind] = rows
	}
	if _, exists := rows[key]; exists {
		return 0, false, nil
	}
	s.nextID++
	rows[key] = entityRow{id: s.nextID, name: name}
	return s.nextID, true, nil
}

// FindItemByName looks up an item by case-insensitive name.
func (s *CatalogStore) FindItemByName(_ context.Context, name string) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, false, errors.Join(catalog.ErrStoreUnavailable, errClosed)
	}
	row, ok := s.items[catalog.EntityKey(name)]
	return row.id, ok, nil
}

// CreateItem stores item and its links atomically.
func (s *CatalogStore) CreateItem(
	_ context.Context,
	item catalog.NormalizedItem,
	links map[catalog.EntityKind][]int64,
) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, false, errors.Join(catalog.ErrStoreUnavailable, errClosed)
	}
	key := catalog.EntityKey(item.Name)
	if existing, ok := s.items[key]; ok {
		return existing.id, false, nil
	}
	s.nextID++
	id := s.nextID
	s.items[key] = itemRow{id: id, item: item}
	for kind, ids := range links {
		m := s.links[kind]
		if m == nil {
			m = make(map[int64][]int64)
			s.links[kind] = m
		}
		m[id] = append([]int64(nil), ids...)
	}
	return id, true, nil
}

// Ping reports whether the store is open.
func (s *CatalogStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.Join(catalog.ErrStoreUnavailable, errClosed)
	}
	return nil
}

// Close marks the store unavailable.
func (s *CatalogStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// ItemCount returns the number of stored items.
func (s *CatalogStore) ItemCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// EntityCount returns the number of stored entities of kind.
func (s *CatalogStore) EntityCount(kind catalog.EntityKind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities[kind])
}

// EntityNames returns the stored names of kind, sorted.
func (s *CatalogStore) EntityNames(kind catalog.EntityKind) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.entities[kind]))
	for _, row := range s.entities[kind] {
		out = append(out, row.name)
	}
	sort.Strings(out)
	return out
}

// Item returns a stored item by name.
func (s *CatalogStore) Item(name string) (catalog.NormalizedItem, int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.items[catalog.EntityKey(name)]
	return row.item, row.id, ok
}

// Links returns the entity ids linked to itemID for kind.
func (s *CatalogStore) Links(kind catalog.EntityKind, itemID int64) []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]int64(nil), s.links[kind][itemID]...)
}

// StartRun records a new run.
func (s *CatalogStore) StartRun(_ context.Context, runID uuid.UUID, startPage, endPage int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; ok {
		return nil
	}
	s.runs[runID] = &catalog.RunRecord{
		ID:                runID,
		StartPage:         startPage,
		EndPage:           endPage,
		LastCompletedPage: startPage - 1,
		Status:            catalog.RunRunning,
		StartedAt:         at,
	}
	return nil
}

// Checkpoint advances the last completed page of a run.
func (s *CatalogStore) Checkpoint(_ context.Context, runID uuid.UUID, lastPage int, collected int64, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return errors.New("run not found")
	}
	if lastPage > run.LastCompletedPage {
		run.LastCompletedPage = lastPage
	}
	run.Collected = collected
	return nil
}

// FinishRun stores the final state of a run.
func (s *CatalogStore) FinishRun(
	_ context.Context,
	runID uuid.UUID,
	status catalog.RunStatus,
	note *string,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return errors.New("run not found")
	}
	run.Status = status
	if note != nil {
		run.Note = *note
	}
	finished := at
	run.FinishedAt = &finished
	return nil
}

// LatestRun returns the most recently started run.
func (s *CatalogStore) LatestRun(context.Context) (catalog.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *catalog.RunRecord
	for _, run := range s.runs {
		if latest == nil || run.StartedAt.After(latest.StartedAt) {
			latest = run
		}
	}
	if latest == nil {
		return catalog.RunRecord{}, false, nil
	}
	return *latest, true, nil
}
