package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteCache persists transcripts in a local SQLite database.
type SQLiteCache struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLiteCache opens (or creates) the cache database at path.
func OpenSQLiteCache(path string) (*SQLiteCache, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("sqlite cache: mkdir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite cache: open db: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite: single writer
	if err := initSQLiteSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite cache: init schema: %w", err)
	}
	return &SQLiteCache{db: db, now: time.Now}, nil
}

func initSQLiteSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS transcripts (
		url          TEXT    NOT NULL,
		service      TEXT    NOT NULL,
		resource_key TEXT,
		content      TEXT,
		source       TEXT    NOT NULL,
		metadata     TEXT,
		created_at   INTEGER NOT NULL,
		expires_at   INTEGER NOT NULL,
		PRIMARY KEY (url, service)
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_transcripts_expires ON transcripts(expires_at)`)
	return err
}

// Get reads one entry; entries past the retention window are deleted and reported as a miss.
func (c *SQLiteCache) Get(ctx context.Context, key CacheKey) (*CachedTranscript, error) {
	var (
		content  sql.NullString
		source   string
		metadata sql.NullString
		expires  int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT content, source, metadata, expires_at FROM transcripts WHERE url = ? AND service = ?`,
		key.URL, key.Service).Scan(&content, &source, &metadata, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite cache: get: %w", err)
	}

	now := c.now()
	expiresAt := time.UnixMilli(expires)
	if !now.Before(expiresAt.Add(ExpiredRetention)) {
		if _, err := c.db.ExecContext(ctx, `DELETE FROM transcripts WHERE url = ? AND service = ?`, key.URL, key.Service); err != nil {
			return nil, fmt.Errorf("sqlite cache: purge: %w", err)
		}
		return nil, nil
	}
	return &CachedTranscript{
		Content:   content.String,
		Source:    NormalizeSource(source),
		Expired:   !now.Before(expiresAt),
		ExpiresAt: expiresAt,
		Metadata:  decodeMetadata(metadata.String),
	}, nil
}

// Set upserts one entry. Negative entries store NULL content.
func (c *SQLiteCache) Set(ctx context.Context, w CacheWrite) error {
	rec, err := newRecord(w, c.now())
	if err != nil {
		return err
	}
	meta, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, `INSERT INTO transcripts
		(url, service, resource_key, content, source, metadata, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url, service) DO UPDATE SET
			resource_key = excluded.resource_key,
			content      = excluded.content,
			source       = excluded.source,
			metadata     = excluded.metadata,
			created_at   = excluded.created_at,
			expires_at   = excluded.expires_at`,
		rec.URL, rec.Service, nullString(rec.ResourceKey), nullString(rec.Content), string(rec.Source),
		meta, rec.CreatedAt.UnixMilli(), rec.ExpiresAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite cache: set: %w", err)
	}
	return nil
}

// Stats counts rows.
func (c *SQLiteCache) Stats(ctx context.Context) (CacheStats, error) {
	st := CacheStats{Backend: "sqlite"}
	err := c.db.QueryRowContext(ctx, `SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN content IS NOT NULL THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN content IS NULL THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN expires_at <= ? THEN 1 ELSE 0 END), 0)
		FROM transcripts`, c.now().UnixMilli()).Scan(&st.Entries, &st.Positive, &st.Negative, &st.Expired)
	if err != nil {
		return st, fmt.Errorf("sqlite cache: stats: %w", err)
	}
	return st, nil
}

// Purge deletes entries past the retention window.
func (c *SQLiteCache) Purge(ctx context.Context) (int64, error) {
	cutoff := c.now().Add(-ExpiredRetention).UnixMilli()
	res, err := c.db.ExecContext(ctx, `DELETE FROM transcripts WHERE expires_at <= ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sqlite cache: purge: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (c *SQLiteCache) Close() error { return c.db.Close() }

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func encodeMetadata(m map[string]any) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("cache: marshal metadata: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeMetadata(s string) map[string]any {
	if s == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}
