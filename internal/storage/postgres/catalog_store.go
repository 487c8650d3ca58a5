// Package postgres implements catalog.Store on Postgres through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/ludostock-crawler/internal/catalog"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// Migrate creates missing tables on startup.
	Migrate bool
}

// pool is the subset of *pgxpool.Pool the store needs.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Store is the Postgres catalog store. Natural-key uniqueness is enforced by
// unique indexes on lower(name), so concurrent inserts of the same name
// resolve to one row.
type Store struct {
	pool pool
}

// New connects a pool and optionally applies the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", classify(err))
	}
	s := &Store{pool: p}
	if cfg.Migrate {
		if err := s.EnsureSchema(ctx); err != nil {
			p.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", classify(err))
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// FindEntity looks up an entity by case-insensitive name.
func (s *Store) FindEntity(ctx context.Context, kind catalog.EntityKind, name string) (int64, bool, error) {
	q := fmt.Sprintf(`SELECT id FROM %s WHERE lower(name) = lower($1) LIMIT 1`, kind.Table())
	return s.lookup(ctx, q, strings.TrimSpace(name), "find "+string(kind))
}

// InsertEntity inserts name unless the unique index already holds it, in
// which case created is false and id is zero.
func (s *Store) InsertEntity(ctx context.Context, kind catalog.EntityKind, name string) (int64, bool, error) {
	q := fmt.Sprintf(`INSERT INTO %s (name) VALUES ($1) ON CONFLICT ((lower(name))) DO NOTHING RETURNING id`,
		kind.Table())
	var id int64
	err := s.pool.QueryRow(ctx, q, strings.TrimSpace(name)).Scan(&id)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("insert %s: %w", kind, classify(err))
	}
	return id, true, nil
}

// FindItemByName looks up a game by case-insensitive name.
func (s *Store) FindItemByName(ctx context.Context, name string) (int64, bool, error) {
	return s.lookup(ctx, `SELECT id FROM games WHERE lower(name) = lower($1) LIMIT 1`,
		strings.TrimSpace(name), "find game")
}

// CreateItem inserts the game and its link rows in one transaction. When the
// name already exists the transaction is rolled back and the existing id is
// returned with created=false.
func (s *Store) CreateItem(
	ctx context.Context,
	item catalog.NormalizedItem,
	links map[catalog.EntityKind][]int64,
) (int64, bool, error) {
	const insertGame = `
INSERT INTO games (name, type, year, min_players, max_players, min_age, duration_minutes, language, url, image_url)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT ((lower(name))) DO NOTHING
RETURNING id`

	var (
		id       int64
		conflict bool
	)
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, insertGame,
			strings.TrimSpace(item.Name),
			item.Kind,
			item.Year,
			item.MinPlayers,
			item.MaxPlayers,
			item.MinAge,
			item.DurationMinutes,
			nullable(item.Language),
			nullable(item.URL),
			nullable(item.ImageURL),
		).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			conflict = true
			return errRollback
		}
		if err != nil {
			return fmt.Errorf("insert game: %w", err)
		}
		for _, kind := range catalog.EntityKinds {
			q := fmt.Sprintf(`INSERT INTO %s (game_id, %s) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				kind.LinkTable(), kind.LinkColumn())
			for _, entityID := range links[kind] {
				if _, err := tx.Exec(ctx, q, id, entityID); err != nil {
					return fmt.Errorf("link %s: %w", kind, err)
				}
			}
		}
		return nil
	})
	if conflict {
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
		return 0, false, err
	}
	return id, true, nil
}

var errRollback = errors.New("rollback")

// withTx runs fn in a transaction, committing on success and rolling back on
// any error. errRollback rolls back without being reported.
func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", classify(err))
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		if errors.Is(err, errRollback) {
			return nil
		}
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", classify(err))
	}
	return nil
}

func (s *Store) lookup(ctx context.Context, q, arg, op string) (int64, bool, error) {
	var id int64
	err := s.pool.QueryRow(ctx, q, arg).Scan(&id)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("%s: %w", op, classify(err))
	}
	return id, true, nil
}

func nullable(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// classify marks connectivity failures with catalog.ErrStoreUnavailable.
func classify(err error) error {
	if err == nil || errors.Is(err, catalog.ErrStoreUnavailable) {
		return err
	}
	if unavailable(err) {
		return errors.Join(catalog.ErrStoreUnavailable, err)
	}
	return err
}

func unavailable(err error) bool {
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	if pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exception; 57P0x are shutdown states.
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P0")
	}
	return strings.Contains(err.Error(), "closed pool")
}
