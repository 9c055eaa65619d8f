package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/anatolykoptev/go-kit/env"
)

// CacheConfig selects the transcript cache backend.
// Precedence: Postgres, then SQLite, then memory with optional Redis L2.
type CacheConfig struct {
	DatabaseURL     string
	SQLitePath      string
	RedisURL        string
	MaxEntries      int
	CleanupInterval time.Duration
}

// CacheConfigFromEnv reads DATABASE_URL, CACHE_SQLITE_PATH, REDIS_URL,
// CACHE_MAX_ENTRIES and CACHE_CLEANUP_INTERVAL.
func CacheConfigFromEnv() CacheConfig {
	return CacheConfig{
		DatabaseURL:     env.Str("DATABASE_URL", ""),
		SQLitePath:      env.Str("CACHE_SQLITE_PATH", ""),
		RedisURL:        env.Str("REDIS_URL", ""),
		MaxEntries:      env.Int("CACHE_MAX_ENTRIES", 5000),
		CleanupInterval: env.Duration("CACHE_CLEANUP_INTERVAL", 10*time.Minute),
	}
}

// OpenedCache is a ready cache plus its teardown.
type OpenedCache struct {
	Cache TranscriptCache
	Stats StatsReporter
	Close func()
}

// OpenCache opens the configured backend. A persistent backend that fails to
// open is logged and replaced by the memory cache.
func OpenCache(ctx context.Context, cc CacheConfig) OpenedCache {
	if cc.DatabaseURL != "" {
		pg, err := ConnectPostgresCache(ctx, cc.DatabaseURL)
		if err == nil {
			return OpenedCache{Cache: pg, Stats: pg, Close: pg.Close}
		}
		slog.Warn("postgres transcript cache unavailable, using memory", slog.Any("error", err))
	}
	if cc.SQLitePath != "" {
		sc, err := OpenSQLiteCache(cc.SQLitePath)
		if err == nil {
			slog.Info("transcript cache sqlite opened", slog.String("path", cc.SQLitePath))
			return OpenedCache{Cache: sc, Stats: sc, Close: func() { _ = sc.Close() }}
		}
		slog.Warn("sqlite transcript cache unavailable, using memory", slog.Any("error", err))
	}
	if cc.MaxEntries <= 0 {
		cc.MaxEntries = 5000
	}
	if cc.CleanupInterval <= 0 {
		cc.CleanupInterval = 10 * time.Minute
	}
	mc := NewMemoryCache(cc.RedisURL, cc.MaxEntries, cc.CleanupInterval)
	return OpenedCache{Cache: mc, Stats: mc, Close: func() { _ = mc.Close() }}
}
