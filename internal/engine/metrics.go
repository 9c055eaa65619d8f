package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// Metrics tracks operational counters across the engine.
var metrics struct {
	ExtractRequests   atomic.Int64
	ExtractErrors     atomic.Int64
	FetchRequests     atomic.Int64
	FetchErrors       atomic.Int64
	FirecrawlCalls    atomic.Int64
	FirecrawlErrors   atomic.Int64
	CacheHits         atomic.Int64
	CacheMisses       atomic.Int64
	CacheExpired      atomic.Int64
	CacheBypassed     atomic.Int64
	YouTubeTranscript atomic.Int64
	PodcastTranscript atomic.Int64
	GenericTranscript atomic.Int64
	MediaDownloads    atomic.Int64
	MediaBytes        atomic.Int64
	Transcriptions    atomic.Int64
}

// GetMetrics returns a snapshot of all counters.
func GetMetrics() map[string]int64 {
	return map[string]int64{
		"extract_requests":       metrics.ExtractRequests.Load(),
		"extract_errors":         metrics.ExtractErrors.Load(),
		"fetch_requests":         metrics.FetchRequests.Load(),
		"fetch_errors":           metrics.FetchErrors.Load(),
		"firecrawl_calls":        metrics.FirecrawlCalls.Load(),
		"firecrawl_errors":       metrics.FirecrawlErrors.Load(),
		"cache_hits":             metrics.CacheHits.Load(),
		"cache_misses":           metrics.CacheMisses.Load(),
		"cache_expired":          metrics.CacheExpired.Load(),
		"cache_bypassed":         metrics.CacheBypassed.Load(),
		"youtube_transcripts":    metrics.YouTubeTranscript.Load(),
		"podcast_transcripts":    metrics.PodcastTranscript.Load(),
		"generic_transcripts":    metrics.GenericTranscript.Load(),
		"media_downloads":        metrics.MediaDownloads.Load(),
		"media_bytes":            metrics.MediaBytes.Load(),
		"transcription_requests": metrics.Transcriptions.Load(),
	}
}

var metricKeys = []string{
	"extract_requests", "extract_errors",
	"fetch_requests", "fetch_errors",
	"firecrawl_calls", "firecrawl_errors",
	"cache_hits", "cache_misses", "cache_expired", "cache_bypassed",
	"youtube_transcripts", "podcast_transcripts", "generic_transcripts",
	"media_downloads", "media_bytes", "transcription_requests",
}

// FormatMetrics returns metrics as a simple text format for HTTP endpoint.
func FormatMetrics() string {
	m := GetMetrics()
	var sb strings.Builder
	for _, k := range metricKeys {
		fmt.Fprintf(&sb, "%s %d\n", k, m[k])
	}
	return sb.String()
}

// RecordCacheStatus counts one transcript cache outcome.
func RecordCacheStatus(s CacheStatus) {
	switch s {
	case CacheHit:
		metrics.CacheHits.Add(1)
	case CacheMiss:
		metrics.CacheMisses.Add(1)
	case CacheExpired:
		metrics.CacheExpired.Add(1)
	case CacheBypassed:
		metrics.CacheBypassed.Add(1)
	}
}

// Incrementors for the extractor and sources/ sub-packages.
func IncrExtractRequests()     { metrics.ExtractRequests.Add(1) }
func IncrExtractErrors()       { metrics.ExtractErrors.Add(1) }
func IncrYouTubeTranscript()   { metrics.YouTubeTranscript.Add(1) }
func IncrPodcastTranscript()   { metrics.PodcastTranscript.Add(1) }
func IncrGenericTranscript()   { metrics.GenericTranscript.Add(1) }
func IncrTranscriptions()      { metrics.Transcriptions.Add(1) }
func AddMediaDownload(n int64) { metrics.MediaDownloads.Add(1); metrics.MediaBytes.Add(n) }

// TrackOperation logs a warning if an operation takes longer than threshold.
func TrackOperation(ctx context.Context, name string, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	if elapsed > 5*time.Second {
		slog.Warn("slow operation", slog.String("op", name), slog.Duration("elapsed", elapsed))
	}
	return err
}
