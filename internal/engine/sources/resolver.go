package sources

import (
	"context"
	"log/slog"
	"time"

	"github.com/anatolykoptev/go_extract/internal/engine"
)

// cacheKeyer lets a provider canonicalize its cache key.
type cacheKeyer interface {
	CacheKey(pc *ProviderContext) engine.CacheKey
}

// Resolver picks the first provider that can handle a request and wraps its
// chain with the transcript cache protocol.
type Resolver struct {
	cache       engine.TranscriptCache
	providers   []TranscriptProvider
	ttl         time.Duration
	negativeTTL time.Duration
}

// NewResolver builds a resolver. cache may be nil, which behaves as an
// always-empty cache. Providers are consulted in order.
func NewResolver(cfg engine.Config, cache engine.TranscriptCache, providers ...TranscriptProvider) *Resolver {
	cfg = cfg.WithDefaults()
	return &Resolver{
		cache:       cache,
		providers:   providers,
		ttl:         cfg.TranscriptCacheTTL,
		negativeTTL: cfg.NegativeCacheTTL,
	}
}

// DefaultProviders returns YouTube, podcast/media and generic providers
// sharing one YouTube client.
func DefaultProviders(cfg engine.Config, scrape engine.ScrapeFunc) []TranscriptProvider {
	yt := NewYouTubeProvider(cfg)
	return []TranscriptProvider{
		yt,
		NewPodcastProvider(cfg, scrape),
		NewGenericProvider(cfg, yt),
	}
}

// Provider returns the provider selected for pc, or nil.
func (r *Resolver) Provider(pc *ProviderContext) TranscriptProvider {
	for _, p := range r.providers {
		if p.CanHandle(pc) {
			return p
		}
	}
	return nil
}

// Resolve runs the cache read, at most one provider chain, and the cache
// write-back. Notes and attempts are folded into diag. The returned
// resolution carries *engine.ProviderExhaustedError when every tier that ran
// failed, unless the provider already reported a more specific error.
func (r *Resolver) Resolve(ctx context.Context, pc *ProviderContext, diag *engine.TranscriptDiagnostics) engine.TranscriptResolution {
	diag.CacheMode = pc.Request.CacheMode
	p := r.Provider(pc)
	if p == nil {
		return engine.TranscriptResolution{}
	}
	key := engine.CacheKey{URL: pc.URL, Service: p.Name()}
	if k, ok := p.(cacheKeyer); ok {
		key = k.CacheKey(pc)
	}

	if res, ok := r.lookup(ctx, key, pc.Request.CacheMode, diag); ok {
		diag.Merge(res)
		return res
	}

	pc.Request.OnProgress.Emit(engine.ProgressEvent{Kind: engine.ProgressTranscriptStart, URL: pc.URL})
	start := time.Now()
	res := p.Fetch(ctx, pc)
	res.Source = engine.NormalizeSource(string(res.Source))
	pc.Request.OnProgress.Emit(engine.ProgressEvent{
		Kind:     engine.ProgressTranscriptDone,
		URL:      pc.URL,
		Provider: res.Source,
	})
	slog.Debug("transcript resolved",
		slog.String("provider", p.Name()),
		slog.String("url", pc.URL),
		slog.String("source", string(res.Source)),
		slog.Bool("text", res.Resolved()),
		slog.Duration("took", time.Since(start)))

	if pc.Request.CacheMode != engine.CacheBypass {
		r.store(ctx, key, res)
	}
	if !res.Resolved() && res.Err == nil && len(res.AttemptedProviders) > 0 {
		res.Err = &engine.ProviderExhaustedError{Provider: p.Name(), Attempted: res.AttemptedProviders}
	}
	diag.Merge(res)
	return res
}

// lookup applies the read side of the protocol. ok is true only on a fresh
// hit, in which case no provider runs.
func (r *Resolver) lookup(ctx context.Context, key engine.CacheKey, mode engine.CacheMode, diag *engine.TranscriptDiagnostics) (engine.TranscriptResolution, bool) {
	var res engine.TranscriptResolution
	if r.cache == nil {
		if mode == engine.CacheBypass {
			r.setStatus(diag, engine.CacheBypassed)
		} else {
			r.setStatus(diag, engine.CacheMiss)
		}
		return res, false
	}

	entry, err := r.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("transcript cache read failed", slog.String("service", key.Service), slog.Any("err", err))
		diag.Note("Transcript cache read failed: %v", err)
		entry = nil
	}

	switch {
	case mode == engine.CacheBypass:
		r.setStatus(diag, engine.CacheBypassed)
		if entry != nil {
			diag.Note("Cache bypassed for this request; existing %s entry ignored", key.Service)
		} else {
			diag.Note("Cache bypassed for this request")
		}
		return res, false
	case entry == nil:
		r.setStatus(diag, engine.CacheMiss)
		return res, false
	case entry.Expired:
		r.setStatus(diag, engine.CacheExpired)
		diag.Note("Cached %s transcript expired at %s; resolving again", key.Service, entry.ExpiresAt.UTC().Format(time.RFC3339))
		return res, false
	}

	r.setStatus(diag, engine.CacheHit)
	res.Text = entry.Content
	res.Source = entry.Source
	res.Metadata = entry.Metadata
	if entry.Content == "" {
		if res.Source == "" {
			res.Source = engine.SourceUnknown
		}
		res.Note("Cached result: transcript unavailable (last tried %s)", res.Source)
	} else {
		res.Note("Transcript served from cache (%s)", res.Source)
	}
	return res, true
}

// store writes every conclusive outcome back. Inconclusive attempts, with
// neither text nor source, are not cached.
func (r *Resolver) store(ctx context.Context, key engine.CacheKey, res engine.TranscriptResolution) {
	if r.cache == nil || (res.Text == "" && res.Source == "") {
		return
	}
	ttl := r.ttl
	if !res.Resolved() {
		ttl = r.negativeTTL
	}
	resourceKey, _ := res.Metadata["videoId"].(string)
	err := r.cache.Set(ctx, engine.CacheWrite{
		URL:         key.URL,
		Service:     key.Service,
		ResourceKey: resourceKey,
		Content:     res.Text,
		Source:      res.Source,
		TTL:         ttl,
		Metadata:    res.Metadata,
	})
	if err != nil {
		slog.Warn("transcript cache write failed", slog.String("service", key.Service), slog.Any("err", err))
	}
}

func (r *Resolver) setStatus(diag *engine.TranscriptDiagnostics, s engine.CacheStatus) {
	if diag.CacheStatus != "" {
		return
	}
	diag.CacheStatus = s
	engine.RecordCacheStatus(s)
}
