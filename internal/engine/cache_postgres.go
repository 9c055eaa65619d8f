package engine

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// PostgresCache shares transcripts across a fleet of extractors.
type PostgresCache struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// ConnectPostgresCache creates a pgx pool and runs schema migrations.
func ConnectPostgresCache(ctx context.Context, databaseURL string) (*PostgresCache, error) {
	if databaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	config.MaxConns = 10
	config.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	c := &PostgresCache{pool: pool, now: time.Now}
	if err := c.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("transcript cache postgres connected", slog.String("addr", config.ConnConfig.Host))
	return c, nil
}

func (c *PostgresCache) runMigrations(ctx context.Context) error {
	entries, err := schemaFS.ReadDir("schema")
	if err != nil {
		return fmt.Errorf("read schema dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		data, err := schemaFS.ReadFile("schema/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		if _, err := c.pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("execute %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// Close closes the pool.
func (c *PostgresCache) Close() {
	c.pool.Close()
}

// Get reads one entry; rows past the retention window are a miss.
func (c *PostgresCache) Get(ctx context.Context, key CacheKey) (*CachedTranscript, error) {
	var (
		content   *string
		source    string
		metadata  []byte
		expiresAt time.Time
	)
	err := c.pool.QueryRow(ctx,
		`SELECT content, source, metadata, expires_at FROM transcripts WHERE url = $1 AND service = $2`,
		key.URL, key.Service).Scan(&content, &source, &metadata, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres cache: get: %w", err)
	}
	now := c.now()
	if !now.Before(expiresAt.Add(ExpiredRetention)) {
		return nil, nil
	}
	out := &CachedTranscript{
		Source:    NormalizeSource(source),
		Expired:   !now.Before(expiresAt),
		ExpiresAt: expiresAt,
	}
	if content != nil {
		out.Content = *content
	}
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &out.Metadata)
	}
	return out, nil
}

// Set upserts one entry and opportunistically purges stale rows for the same service.
func (c *PostgresCache) Set(ctx context.Context, w CacheWrite) error {
	rec, err := newRecord(w, c.now())
	if err != nil {
		return err
	}
	var content *string
	if rec.Content != "" {
		content = &rec.Content
	}
	var meta []byte
	if len(rec.Metadata) > 0 {
		if meta, err = json.Marshal(rec.Metadata); err != nil {
			return fmt.Errorf("postgres cache: marshal metadata: %w", err)
		}
	}
	_, err = c.pool.Exec(ctx, `INSERT INTO transcripts
		(url, service, resource_key, content, source, metadata, created_at, expires_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)
		ON CONFLICT (url, service) DO UPDATE SET
			resource_key = EXCLUDED.resource_key,
			content      = EXCLUDED.content,
			source       = EXCLUDED.source,
			metadata     = EXCLUDED.metadata,
			created_at   = EXCLUDED.created_at,
			expires_at   = EXCLUDED.expires_at`,
		rec.URL, rec.Service, rec.ResourceKey, content, string(rec.Source), meta, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		return fmt.Errorf("postgres cache: set: %w", err)
	}
	if _, err := c.pool.Exec(ctx, `DELETE FROM transcripts WHERE service = $1 AND expires_at <= $2`,
		rec.Service, rec.CreatedAt.Add(-ExpiredRetention)); err != nil {
		slog.Debug("postgres cache: purge failed", slog.Any("error", err))
	}
	return nil
}

// Stats counts rows.
func (c *PostgresCache) Stats(ctx context.Context) (CacheStats, error) {
	st := CacheStats{Backend: "postgres"}
	err := c.pool.QueryRow(ctx, `SELECT
		COUNT(*),
		COUNT(*) FILTER (WHERE content IS NOT NULL),
		COUNT(*) FILTER (WHERE content IS NULL),
		COUNT(*) FILTER (WHERE expires_at <= $1)
		FROM transcripts`, c.now()).Scan(&st.Entries, &st.Positive, &st.Negative, &st.Expired)
	if err != nil {
		return st, fmt.Errorf("postgres cache: stats: %w", err)
	}
	return st, nil
}
