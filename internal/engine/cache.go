package engine

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache services, one namespace per provider family.
const (
	ServiceYouTube = "youtube"
	ServicePodcast = "podcast"
	ServiceMedia   = "media"
	ServiceGeneric = "generic"
)

// CacheKey identifies a transcript entry.
type CacheKey struct {
	URL     string
	Service string
}

// Hash returns a deterministic storage key.
func (k CacheKey) Hash() string {
	hash := sha256.Sum256([]byte(k.Service + "|" + k.URL))
	return fmt.Sprintf("tc:%x", hash[:12]) // 24-char hex prefix
}

// CachedTranscript is what a cache read returns.
// Content == "" is a negative entry.
type CachedTranscript struct {
	Content   string
	Source    TranscriptSource
	Expired   bool
	ExpiresAt time.Time
	Metadata  map[string]any
}

// CacheWrite is one cache write.
type CacheWrite struct {
	URL         string
	Service     string
	ResourceKey string // e.g. video ID; informational
	Content     string
	Source      TranscriptSource
	TTL         time.Duration
	Metadata    map[string]any
}

// TranscriptCache is the narrow get/set protocol shared across requests.
// Implementations must be safe for concurrent use.
// Get returns (nil, nil) on miss. Expired entries stay readable with Expired set
// until ExpiredRetention has passed.
type TranscriptCache interface {
	Get(ctx context.Context, key CacheKey) (*CachedTranscript, error)
	Set(ctx context.Context, w CacheWrite) error
}

// CacheStats summarizes store contents.
type CacheStats struct {
	Backend  string `json:"backend"`
	Entries  int64  `json:"entries"`
	Positive int64  `json:"positive"`
	Negative int64  `json:"negative"`
	Expired  int64  `json:"expired"`
}

// StatsReporter is implemented by stores that can summarize their contents.
type StatsReporter interface {
	Stats(ctx context.Context) (CacheStats, error)
}

// cacheRecord is the serialized form used by the memory and Redis tiers.
type cacheRecord struct {
	URL         string           `json:"url"`
	Service     string           `json:"service"`
	ResourceKey string           `json:"resourceKey,omitempty"`
	Content     string           `json:"content,omitempty"`
	Source      TranscriptSource `json:"source"`
	CreatedAt   time.Time        `json:"createdAt"`
	ExpiresAt   time.Time        `json:"expiresAt"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
}

func (r *cacheRecord) view(now time.Time) *CachedTranscript {
	return &CachedTranscript{
		Content:   r.Content,
		Source:    r.Source,
		Expired:   !now.Before(r.ExpiresAt),
		ExpiresAt: r.ExpiresAt,
		Metadata:  r.Metadata,
	}
}

// purgeAt is when an expired record stops being readable.
func (r *cacheRecord) purgeAt() time.Time { return r.ExpiresAt.Add(ExpiredRetention) }

func newRecord(w CacheWrite, now time.Time) (*cacheRecord, error) {
	if w.URL == "" || w.Service == "" {
		return nil, errors.New("cache: url and service are required")
	}
	if w.TTL <= 0 {
		return nil, errors.New("cache: ttl must be positive")
	}
	return &cacheRecord{
		URL:         w.URL,
		Service:     w.Service,
		ResourceKey: w.ResourceKey,
		Content:     w.Content,
		Source:      NormalizeSource(string(w.Source)),
		CreatedAt:   now,
		ExpiresAt:   now.Add(w.TTL),
		Metadata:    w.Metadata,
	}, nil
}

// MemoryCache provides 2-tier caching: L1 in-memory + optional L2 Redis.
// L1 is fast but lost on restart. L2 survives restarts.
type MemoryCache struct {
	l1              sync.Map      // hash → *cacheRecord
	rdb             *redis.Client // nil if Redis unavailable
	maxEntries      int
	cleanupInterval time.Duration
	now             func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryCache sets up the tiered cache. redisURL can be empty to disable L2;
// an unreachable Redis also disables L2 with a warning.
func NewMemoryCache(redisURL string, maxEntries int, cleanupInterval time.Duration) *MemoryCache {
	return newMemoryCache(redisURL, maxEntries, cleanupInterval, time.Now)
}

func newMemoryCache(redisURL string, maxEntries int, cleanupInterval time.Duration, now func() time.Time) *MemoryCache {
	c := &MemoryCache{
		maxEntries:      maxEntries,
		cleanupInterval: cleanupInterval,
		now:             now,
		stop:            make(chan struct{}),
	}

	if redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			slog.Warn("cache: invalid redis URL, L2 disabled", slog.Any("error", err))
		} else {
			rdb := redis.NewClient(opts)
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := rdb.Ping(ctx).Err(); err != nil {
				slog.Warn("cache: redis unreachable, L2 disabled", slog.Any("error", err))
				_ = rdb.Close()
			} else {
				c.rdb = rdb
				slog.Info("cache: L2 redis connected", slog.String("addr", opts.Addr))
			}
		}
	}

	slog.Info("cache: initialized", slog.Bool("redis", c.rdb != nil), slog.Int("max_entries", maxEntries))
	go c.cleanupLoop()
	return c
}

// Get tries L1, then L2. On L2 hit, populates L1.
func (c *MemoryCache) Get(ctx context.Context, key CacheKey) (*CachedTranscript, error) {
	h := key.Hash()
	now := c.now()

	if val, ok := c.l1.Load(h); ok {
		rec := val.(*cacheRecord)
		if now.Before(rec.purgeAt()) {
			slog.Debug("cache: L1 hit", slog.String("url", key.URL), slog.String("service", key.Service))
			return rec.view(now), nil
		}
		c.l1.Delete(h)
	}

	if c.rdb == nil {
		return nil, nil
	}
	data, err := c.rdb.Get(ctx, h).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: redis get: %w", err)
	}
	var rec cacheRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		slog.Debug("cache: corrupt L2 entry", slog.String("key", h), slog.Any("error", err))
		return nil, nil
	}
	if !now.Before(rec.purgeAt()) {
		return nil, nil
	}
	slog.Debug("cache: L2 hit", slog.String("url", key.URL), slog.String("service", key.Service))
	c.l1.Store(h, &rec)
	return rec.view(now), nil
}

// Set stores the entry in both tiers. Redis keeps it for TTL + ExpiredRetention.
func (c *MemoryCache) Set(ctx context.Context, w CacheWrite) error {
	rec, err := newRecord(w, c.now())
	if err != nil {
		return err
	}
	c.evictIfNeeded()
	h := CacheKey{URL: w.URL, Service: w.Service}.Hash()
	c.l1.Store(h, rec)

	if c.rdb != nil {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("cache: marshal: %w", err)
		}
		if err := c.rdb.Set(ctx, h, data, w.TTL+ExpiredRetention).Err(); err != nil {
			slog.Debug("cache: L2 set failed", slog.Any("error", err))
			return fmt.Errorf("cache: redis set: %w", err)
		}
	}
	return nil
}

// Stats counts L1 entries.
func (c *MemoryCache) Stats(_ context.Context) (CacheStats, error) {
	backend := "memory"
	if c.rdb != nil {
		backend = "memory+redis"
	}
	st := CacheStats{Backend: backend}
	now := c.now()
	c.l1.Range(func(_, val any) bool {
		rec := val.(*cacheRecord)
		st.Entries++
		if rec.Content == "" {
			st.Negative++
		} else {
			st.Positive++
		}
		if !now.Before(rec.ExpiresAt) {
			st.Expired++
		}
		return true
	})
	return st, nil
}

// Close stops the cleanup loop and closes Redis.
func (c *MemoryCache) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	if c.rdb != nil {
		return c.rdb.Close()
	}
	return nil
}

// evictIfNeeded removes entries when L1 exceeds maxEntries.
// Removes purgeable entries first, then the oldest entries if still over limit.
func (c *MemoryCache) evictIfNeeded() {
	if c.maxEntries <= 0 {
		return
	}

	count := 0
	c.l1.Range(func(_, _ any) bool {
		count++
		return true
	})
	if count < c.maxEntries {
		return
	}

	// Phase 1: remove purgeable
	now := c.now()
	c.l1.Range(func(key, val any) bool {
		if rec, ok := val.(*cacheRecord); ok && !now.Before(rec.purgeAt()) {
			c.l1.Delete(key)
			count--
		}
		return count >= c.maxEntries
	})
	if count < c.maxEntries {
		return
	}

	// Phase 2: remove oldest entries until under limit
	for count >= c.maxEntries {
		var oldestKey any
		var oldestAt time.Time
		c.l1.Range(func(key, val any) bool {
			if rec, ok := val.(*cacheRecord); ok {
				if oldestKey == nil || rec.CreatedAt.Before(oldestAt) {
					oldestKey = key
					oldestAt = rec.CreatedAt
				}
			}
			return true
		})
		if oldestKey == nil {
			break
		}
		c.l1.Delete(oldestKey)
		count--
	}
}

// cleanupLoop periodically removes purgeable L1 entries.
func (c *MemoryCache) cleanupLoop() {
	interval := c.cleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			now := c.now()
			c.l1.Range(func(key, val any) bool {
				if rec, ok := val.(*cacheRecord); ok && !now.Before(rec.purgeAt()) {
					c.l1.Delete(key)
				}
				return true
			})
		}
	}
}
