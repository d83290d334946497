package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/manpreetbhatti/coderoom/pkg/logger"
)

// PostgresDB is the Store used when a database URL is configured.
type PostgresDB struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresDB)(nil)

func NewPostgresDB(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := createPostgresTables(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.Info("Connected to Postgres version archive")
	return &PostgresDB{pool: pool}, nil
}

func createPostgresTables(ctx context.Context, pool *pgxpool.Pool) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS document_versions (
		id SERIAL PRIMARY KEY,
		room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		created_by TEXT NOT NULL DEFAULT '',
		is_auto BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_document_versions_created_at ON document_versions(room_id, created_at DESC);
	`

	_, err := pool.Exec(ctx, schema)
	return err
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

func (db *PostgresDB) EnsureRoom(ctx context.Context, roomID string) error {
	query := `
		INSERT INTO rooms (id) VALUES ($1)
		ON CONFLICT (id) DO UPDATE SET updated_at = NOW()`

	_, err := db.pool.Exec(ctx, query, roomID)
	return err
}

func (db *PostgresDB) CreateVersion(ctx context.Context, nv NewVersion) (*Version, error) {
	if err := db.EnsureRoom(ctx, nv.RoomID); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO document_versions (room_id, name, description, content, content_hash, created_by, is_auto)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + versionColumns

	v, err := scanVersion(db.pool.QueryRow(ctx, query,
		nv.RoomID, nv.Name, nv.Description, nv.Content, nv.hash(), nv.CreatedBy, nv.IsAuto,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to insert version: %w", err)
	}
	return v, nil
}

func (db *PostgresDB) GetVersion(ctx context.Context, id int) (*Version, error) {
	query := `SELECT ` + versionColumns + ` FROM document_versions WHERE id = $1`

	v, err := scanVersion(db.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return v, err
}

func (db *PostgresDB) ListVersions(ctx context.Context, roomID string, limit, offset int) ([]Version, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM document_versions
		WHERE room_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	rows, err := db.pool.Query(ctx, query, roomID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, *v)
	}
	return versions, rows.Err()
}

func (db *PostgresDB) GetVersionCount(ctx context.Context, roomID string) (int, error) {
	var count int
	err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM document_versions WHERE room_id = $1`, roomID).Scan(&count)
	return count, err
}

func (db *PostgresDB) GetLatestVersion(ctx context.Context, roomID string) (*Version, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM document_versions
		WHERE room_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`

	v, err := scanVersion(db.pool.QueryRow(ctx, query, roomID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return v, err
}

func (db *PostgresDB) DeleteVersion(ctx context.Context, id int) error {
	_, err := db.pool.Exec(ctx, `DELETE FROM document_versions WHERE id = $1`, id)
	return err
}

func (db *PostgresDB) DeleteOldAutoVersions(ctx context.Context, roomID string, keepCount int) error {
	query := `
		DELETE FROM document_versions
		WHERE room_id = $1 AND is_auto AND id NOT IN (
			SELECT id FROM document_versions
			WHERE room_id = $1 AND is_auto
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		)`

	_, err := db.pool.Exec(ctx, query, roomID, keepCount)
	return err
}

func (db *PostgresDB) GetStats(ctx context.Context) (*Stats, error) {
	var stats Stats
	err := db.pool.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM rooms), (SELECT COUNT(*) FROM document_versions)`,
	).Scan(&stats.RoomCount, &stats.VersionCount)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
