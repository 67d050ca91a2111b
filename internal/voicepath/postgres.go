package voicepath

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voicebank/pkg/types"
)

// Schema is the SQL DDL for the voice_folder_overrides table. Execute it via
// [PostgresOverrides.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS voice_folder_overrides (
    actor_hex_id TEXT PRIMARY KEY,
    folder       TEXT NOT NULL,
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is the database interface used by [PostgresOverrides]. Both
// *pgxpool.Pool and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresOverrides stores actor voice folder overrides in PostgreSQL. They
// are read once at startup via [PostgresOverrides.Load] and layered over the
// configured overrides with [WithOverrides].
type PostgresOverrides struct {
	db DB
}

// NewPostgresOverrides creates a store that uses the given connection or
// pool. Call [PostgresOverrides.Migrate] before issuing queries.
func NewPostgresOverrides(db DB) *PostgresOverrides {
	return &PostgresOverrides{db: db}
}

// Connect opens a connection pool to dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("voicepath: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("voicepath: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("voicepath: ping: %w", err)
	}
	return pool, nil
}

// Migrate executes the [Schema] DDL against the database.
func (s *PostgresOverrides) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("voicepath: migrate: %w", err)
	}
	return nil
}

// Load returns all overrides keyed by normalised hex form ID. Rows with an
// invalid ID are skipped with a warning.
func (s *PostgresOverrides) Load(ctx context.Context) (map[string]string, error) {
	const query = `SELECT actor_hex_id, folder FROM voice_folder_overrides ORDER BY actor_hex_id`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("voicepath: load overrides: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, folder string
		if err := rows.Scan(&id, &folder); err != nil {
			return nil, fmt.Errorf("voicepath: scan override: %w", err)
		}
		key, err := types.NormalizeHexID(id)
		if err != nil {
			slog.Warn("voicepath: skipping stored override with invalid actor id", "actor_hex_id", id, "err", err)
			continue
		}
		out[key] = folder
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("voicepath: load overrides: %w", err)
	}
	return out, nil
}

// Get returns the stored folder for hexID. ok is false when none exists.
func (s *PostgresOverrides) Get(ctx context.Context, hexID string) (folder string, ok bool, err error) {
	key, err := types.NormalizeHexID(hexID)
	if err != nil {
		return "", false, fmt.Errorf("voicepath: %w", err)
	}
	const query = `SELECT folder FROM voice_folder_overrides WHERE actor_hex_id = $1`
	if err := s.db.QueryRow(ctx, query, key).Scan(&folder); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("voicepath: get override: %w", err)
	}
	return folder, true, nil
}

// Upsert stores folder as the override for hexID, replacing any existing one.
func (s *PostgresOverrides) Upsert(ctx context.Context, hexID, folder string) error {
	key, err := types.NormalizeHexID(hexID)
	if err != nil {
		return fmt.Errorf("voicepath: %w", err)
	}
	if folder == "" {
		return errors.New("voicepath: override folder is required")
	}
	const query = `
		INSERT INTO voice_folder_overrides (actor_hex_id, folder, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (actor_hex_id) DO UPDATE
		SET folder = EXCLUDED.folder, updated_at = now()`
	if _, err := s.db.Exec(ctx, query, key, folder); err != nil {
		return fmt.Errorf("voicepath: upsert override: %w", err)
	}
	return nil
}

// Delete removes the override for hexID. It reports whether a row existed.
func (s *PostgresOverrides) Delete(ctx context.Context, hexID string) (bool, error) {
	key, err := types.NormalizeHexID(hexID)
	if err != nil {
		return false, fmt.Errorf("voicepath: %w", err)
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM voice_folder_overrides WHERE actor_hex_id = $1`, key)
	if err != nil {
		return false, fmt.Errorf("voicepath: delete override: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
