package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ludostock-crawler/internal/catalog"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "ludostock.db"))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func intPtr(n int) *int { return &n }

func TestEntityGetOrCreate(t *testing.T) {
	t.Parallel()

	s := openTemp(t)
	ctx := context.Background()

	id, created, err := s.InsertEntity(ctx, catalog.Authors, " Reiner  Knizia ")
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := s.InsertEntity(ctx, catalog.Authors, "reiner knizia")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Zero(t, again)

	found, ok, err := s.FindEntity(ctx, catalog.Authors, "REINER KNIZIA")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, found)

	_, ok, err = s.FindEntity(ctx, catalog.Artists, "Reiner Knizia")
	require.NoError(t, err)
	assert.False(t, ok, "kinds live in separate tables")
}

func TestConcurrentInsertsKeepOneRow(t *testing.T) {
	t.Parallel()

	s := openTemp(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.InsertEntity(ctx, catalog.Editors, "Kosmos")
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	n, err := s.CountEntities(ctx, catalog.Editors)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCreateItem(t *testing.T) {
	t.Parallel()

	s := openTemp(t)
	ctx := context.Background()

	author, _, err := s.InsertEntity(ctx, catalog.Authors, "Klaus Teuber")
	require.NoError(t, err)

	item := catalog.NormalizedItem{
		Name:       "Catan",
		Kind:       catalog.KindGame,
		Year:       intPtr(1995),
		MinPlayers: intPtr(3),
		MaxPlayers: intPtr(4),
		Language:   "Français",
	}
	id, created, err := s.CreateItem(ctx, item, map[catalog.EntityKind][]int64{catalog.Authors: {author}})
	require.NoError(t, err)
	assert.True(t, created)

	dup, created, err := s.CreateItem(ctx, catalog.NormalizedItem{Name: "CATAN", Kind: catalog.KindGame}, nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id, dup)

	found, ok, err := s.FindItemByName(ctx, "catan")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, found)

	n, err := s.CountItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var links int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM game_authors WHERE game_id = ?`, id).Scan(&links))
	assert.Equal(t, 1, links)

	var language string
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT language FROM games WHERE id = ?`, id).Scan(&language))
	assert.Equal(t, "Français", language)
}

func TestOpenAddsLanguageToOlderDatabase(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "old.db")
	old, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = old.Exec(`CREATE TABLE games (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	name_key TEXT NOT NULL UNIQUE,
	type TEXT NOT NULL DEFAULT 'game',
	year INTEGER, min_players INTEGER, max_players INTEGER, min_age INTEGER,
	duration_minutes INTEGER, url TEXT, image_url TEXT)`)
	require.NoError(t, err)
	require.NoError(t, old.Close())

	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	_, created, err := s.CreateItem(context.Background(), catalog.NormalizedItem{
		Name: "Azul", Kind: catalog.KindGame, Language: "Français",
	}, nil)
	s.Close()
	require.NoError(t, err)
	assert.True(t, created)

	// Reopening must not try to add the column twice.
	again, err := Open(context.Background(), path)
	require.NoError(t, err)
	again.Close()
}

func TestCreateItemRollsBackBadLink(t *testing.T) {
	t.Parallel()

	s := openTemp(t)
	ctx := context.Background()

	_, _, err := s.CreateItem(ctx, catalog.NormalizedItem{Name: "Azul", Kind: catalog.KindGame},
		map[catalog.EntityKind][]int64{catalog.Artists: {999}})
	require.Error(t, err, "foreign key violation")

	_, ok, err := s.FindItemByName(ctx, "Azul")
	require.NoError(t, err)
	assert.False(t, ok, "game row must not survive a failed link")
}

func TestRunLedger(t *testing.T) {
	t.Parallel()

	s := openTemp(t)
	ctx := context.Background()

	_, ok, err := s.LatestRun(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	first, second := uuid.New(), uuid.New()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.StartRun(ctx, first, 1, 10, at))
	require.NoError(t, s.StartRun(ctx, second, 1, 20, at.Add(time.Hour)))
	require.NoError(t, s.Checkpoint(ctx, second, 7, 70, at.Add(2*time.Hour)))
	require.NoError(t, s.Checkpoint(ctx, second, 5, 71, at.Add(2*time.Hour)))
	note := "signal"
	require.NoError(t, s.FinishRun(ctx, second, catalog.RunInterrupted, &note, at.Add(3*time.Hour)))

	run, ok, err := s.LatestRun(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second, run.ID)
	assert.Equal(t, 7, run.LastCompletedPage)
	assert.Equal(t, int64(71), run.Collected)
	assert.Equal(t, catalog.RunInterrupted, run.Status)
	assert.Equal(t, "signal", run.Note)
	assert.Equal(t, at.Add(time.Hour), run.StartedAt)
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, 8, run.ResumePage())
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	t.Parallel()

	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "closed.db"))
	require.NoError(t, err)
	s.Close()

	require.ErrorIs(t, s.Ping(context.Background()), catalog.ErrStoreUnavailable)
	_, _, err = s.FindItemByName(context.Background(), "Catan")
	require.ErrorIs(t, err, catalog.ErrStoreUnavailable)

	_, err = Open(context.Background(), " ")
	require.Error(t, err)
}
