package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/ludostock-crawler/internal/catalog"
)

const gamesDDL = `
CREATE TABLE IF NOT EXISTS games (
	id               BIGSERIAL PRIMARY KEY,
	name             TEXT NOT NULL,
	type             TEXT NOT NULL DEFAULT 'game',
	year             INTEGER,
	min_players      INTEGER,
	max_players      INTEGER,
	min_age          INTEGER,
	duration_minutes INTEGER,
	language         TEXT,
	url              TEXT,
	image_url        TEXT
);
ALTER TABLE games ADD COLUMN IF NOT EXISTS language TEXT;
CREATE UNIQUE INDEX IF NOT EXISTS games_name_key ON games (lower(name));`

const runsDDL = `
CREATE TABLE IF NOT EXISTS crawl_runs (
	id                  UUID PRIMARY KEY,
	start_page          INTEGER NOT NULL,
	end_page            INTEGER NOT NULL,
	last_completed_page INTEGER NOT NULL,
	collected           BIGINT NOT NULL DEFAULT 0,
	status              TEXT NOT NULL,
	note                TEXT,
	started_at          TIMESTAMPTZ NOT NULL,
	finished_at         TIMESTAMPTZ,
	updated_at          TIMESTAMPTZ
);`

// SchemaStatements returns the DDL for every table the store uses, in
// dependency order.
func SchemaStatements() []string {
	stmts := []string{gamesDDL}
	for _, kind := range catalog.EntityKinds {
		stmts = append(stmts, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id   BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS %[1]s_name_key ON %[1]s (lower(name));`, kind.Table()))
	}
	for _, kind := range catalog.EntityKinds {
		stmts = append(stmts, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	game_id BIGINT NOT NULL REFERENCES games (id) ON DELETE CASCADE,
	%[2]s BIGINT NOT NULL REFERENCES %[3]s (id) ON DELETE CASCADE,
	PRIMARY KEY (game_id, %[2]s)
);`, kind.LinkTable(), kind.LinkColumn(), kind.Table()))
	}
	return append(stmts, runsDDL)
}

// EnsureSchema creates missing tables and indexes.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range SchemaStatements() {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", classify(err))
		}
	}
	return nil
}
