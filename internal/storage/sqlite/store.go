// Package sqlite implements catalog.Store on a local SQLite file through the
// pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/ludostock-crawler/internal/catalog"
)

// Store is a SQLite-backed catalog store. Names are deduplicated through a
// UNIQUE name_key column holding catalog.EntityKey(name).
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// dsn appends the connection pragmas understood by the modernc driver so they
// apply to every connection the pool opens.
func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{`
CREATE TABLE IF NOT EXISTS games (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	name             TEXT NOT NULL,
	name_key         TEXT NOT NULL UNIQUE,
	type             TEXT NOT NULL DEFAULT 'game',
	year             INTEGER,
	min_players      INTEGER,
	max_players      INTEGER,
	min_age          INTEGER,
	duration_minutes INTEGER,
	language         TEXT,
	url              TEXT,
	image_url        TEXT
)`}
	for _, kind := range catalog.EntityKinds {
		stmts = append(stmts, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	name     TEXT NOT NULL,
	name_key TEXT NOT NULL UNIQUE
)`, kind.Table()))
	}
	for _, kind := range catalog.EntityKinds {
		stmts = append(stmts, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	game_id INTEGER NOT NULL REFERENCES games (id) ON DELETE CASCADE,
	%[2]s INTEGER NOT NULL REFERENCES %[3]s (id) ON DELETE CASCADE,
	PRIMARY KEY (game_id, %[2]s)
)`, kind.LinkTable(), kind.LinkColumn(), kind.Table()))
	}
	stmts = append(stmts, `
CREATE TABLE IF NOT EXISTS crawl_runs (
	id                  TEXT PRIMARY KEY,
	start_page          INTEGER NOT NULL,
	end_page            INTEGER NOT NULL,
	last_completed_page INTEGER NOT NULL,
	collected           INTEGER NOT NULL DEFAULT 0,
	status              TEXT NOT NULL,
	note                TEXT,
	started_at          INTEGER NOT NULL,
	finished_at         INTEGER,
	updated_at          INTEGER
)`)
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return s.addMissingColumn(ctx, "games", "language", "TEXT")
}

// addMissingColumn upgrades databases created before column existed.
func (s *Store) addMissingColumn(ctx context.Context, table, column, typ string) error {
	var n int
	q := `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`
	if err := s.db.QueryRowContext(ctx, q, table, column).Scan(&n); err != nil {
		return fmt.Errorf("inspect %s: %w", table, err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, typ)); err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}

// Ping checks that the database is open.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", classify(err))
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() {
	_ = s.db.Close()
}

// FindEntity looks up an entity by name key.
func (s *Store) FindEntity(ctx context.Context, kind catalog.EntityKind, name string) (int64, bool, error) {
	q := fmt.Sprintf(`SELECT id FROM %s WHERE name_key = ?`, kind.Table())
	return s.lookup(ctx, q, catalog.EntityKey(name), "find "+string(kind))
}

// InsertEntity inserts name; created is false when the key already exists.
func (s *Store) InsertEntity(ctx context.Context, kind catalog.EntityKind, name string) (int64, bool, error) {
	q := fmt.Sprintf(`INSERT INTO %s (name, name_key) VALUES (?, ?) ON CONFLICT (name_key) DO NOTHING RETURNING id`,
		kind.Table())
	var id int64
	err := s.db.QueryRowContext(ctx, q, strings.TrimSpace(name), catalog.EntityKey(name)).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("insert %s: %w", kind, classify(err))
	}
	return id, true, nil
}

// FindItemByName looks up a game by name key.
func (s *Store) FindItemByName(ctx context.Context, name string) (int64, bool, error) {
	return s.lookup(ctx, `SELECT id FROM games WHERE name_key = ?`, catalog.EntityKey(name), "find game")
}

// CreateItem inserts the game and its links in one transaction.
func (s *Store) CreateItem(
	ctx context.Context,
	item catalog.NormalizedItem,
	links map[catalog.EntityKind][]int64,
) (int64, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("begin transaction: %w", classify(err))
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx, `
INSERT INTO games (name, name_key, type, year, min_players, max_players, min_age, duration_minutes, language, url, image_url)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (name_key) DO NOTHING
RETURNING id`,
		strings.TrimSpace(item.Name),
		catalog.EntityKey(item.Name),
		item.Kind,
		nullInt(item.Year),
		nullInt(item.MinPlayers),
		nullInt(item.MaxPlayers),
		nullInt(item.MinAge),
		nullInt(item.DurationMinutes),
		nullString(item.Language),
		nullString(item.URL),
		nullString(item.ImageURL),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		if err := tx.Rollback(); err != nil {
			return 0, false, fmt.Errorf("rollback: %w", err)
		}
		existing, found, ferr := s.FindItemByName(ctx, item.Name)
		if ferr != nil {
			return 0, false, ferr
		}
		if !found {
			return 0, false, fmt.Errorf("game %q conflicted but is not visible: %w", item.Name, catalog.ErrResolutionConflict)
		}
		return existing, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("insert game: %w", classify(err))
	}

	for _, kind := range catalog.EntityKinds {
		q := fmt.Sprintf(`INSERT INTO %s (game_id, %s) VALUES (?, ?) ON CONFLICT DO NOTHING`,
			kind.LinkTable(), kind.LinkColumn())
		for _, entityID := range links[kind] {
			if _, err := tx.ExecContext(ctx, q, id, entityID); err != nil {
				return 0, false, fmt.Errorf("link %s: %w", kind, classify(err))
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("commit transaction: %w", classify(err))
	}
	return id, true, nil
}

// CountItems returns the number of stored games.
func (s *Store) CountItems(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM games`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count games: %w", classify(err))
	}
	return n, nil
}

// CountEntities returns the number of stored entities of kind.
func (s *Store) CountEntities(ctx context.Context, kind catalog.EntityKind) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, kind.Table())).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", kind, classify(err))
	}
	return n, nil
}

func (s *Store) lookup(ctx context.Context, q, key, op string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, q, key).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("%s: %w", op, classify(err))
	}
	return id, true, nil
}

// StartRun inserts a crawl_runs row in the running state.
func (s *Store) StartRun(ctx context.Context, runID uuid.UUID, startPage, endPage int, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO crawl_runs (id, start_page, end_page, last_completed_page, collected, status, started_at)
VALUES (?, ?, ?, ?, 0, ?, ?)
ON CONFLICT (id) DO NOTHING`,
		runID.String(), startPage, endPage, startPage-1, string(catalog.RunRunning), at.UnixNano())
	if err != nil {
		return fmt.Errorf("start run: %w", classify(err))
	}
	return nil
}

// Checkpoint moves last_completed_page forward.
func (s *Store) Checkpoint(ctx context.Context, runID uuid.UUID, lastPage int, collected int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE crawl_runs
SET last_completed_page = MAX(last_completed_page, ?), collected = ?, updated_at = ?
WHERE id = ?`, lastPage, collected, at.UnixNano(), runID.String())
	if err != nil {
		return fmt.Errorf("checkpoint run: %w", classify(err))
	}
	return nil
}

// FinishRun stores the final state of a run.
func (s *Store) FinishRun(
	ctx context.Context,
	runID uuid.UUID,
	status catalog.RunStatus,
	note *string,
	at time.Time,
) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE crawl_runs SET status = ?, note = ?, finished_at = ?, updated_at = ? WHERE id = ?`,
		string(status), note, at.UnixNano(), at.UnixNano(), runID.String())
	if err != nil {
		return fmt.Errorf("finish run: %w", classify(err))
	}
	return nil
}

// LatestRun returns the most recently started run.
func (s *Store) LatestRun(ctx context.Context) (catalog.RunRecord, bool, error) {
	var (
		run      catalog.RunRecord
		id       string
		status   string
		note     sql.NullString
		started  int64
		finished sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, start_page, end_page, last_completed_page, collected, status, note, started_at, finished_at
FROM crawl_runs ORDER BY started_at DESC LIMIT 1`).Scan(
		&id, &run.StartPage, &run.EndPage, &run.LastCompletedPage, &run.Collected,
		&status, &note, &started, &finished,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.RunRecord{}, false, nil
	}
	if err != nil {
		return catalog.RunRecord{}, false, fmt.Errorf("load latest run: %w", classify(err))
	}
	if run.ID, err = uuid.Parse(id); err != nil {
		return catalog.RunRecord{}, false, fmt.Errorf("parse run id %q: %w", id, err)
	}
	run.Status = catalog.RunStatus(status)
	run.Note = note.String
	run.StartedAt = time.Unix(0, started).UTC()
	if finished.Valid {
		t := time.Unix(0, finished.Int64).UTC()
		run.FinishedAt = &t
	}
	return run, true, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(err.Error(), "database is closed") ||
		strings.Contains(err.Error(), "database is locked") {
		return errors.Join(catalog.ErrStoreUnavailable, err)
	}
	return err
}
