package engine

import (
	"net/http"
	"time"

	"github.com/anatolykoptev/go-kit/env"
)

const (
	DefaultFetchTimeout    = 30 * time.Second
	DefaultTranscriptTTL   = 7 * 24 * time.Hour
	NegativeTranscriptTTL  = 6 * time.Hour
	ExpiredRetention       = 24 * time.Hour
	MinHTMLContentChars    = 200
	MaxHTMLBytes           = 12 << 20
	DefaultMaxMediaBytes   = 512 << 20
	DefaultMaxUploadBytes  = 24 << 20
	DefaultSegmentDuration = 10 * time.Minute
)

// Config holds all engine configuration, injected from main.
type Config struct {
	HTTPClient      *http.Client
	FetchTimeout    time.Duration
	MaxContentChars int

	FirecrawlAPIKey  string
	FirecrawlBaseURL string

	ApifyAPIToken     string
	ApifyYouTubeActor string
	YtDlpPath         string // empty = yt-dlp tiers disabled
	FFmpegPath        string // empty = look up "ffmpeg" on PATH
	YouTubeRPS        float64

	FalAPIKey     string
	OpenAIAPIKey  string
	OpenAIBaseURL string

	TranscriptCacheTTL time.Duration
	NegativeCacheTTL   time.Duration

	MaxMediaBytes     int64
	MaxUploadBytes    int64
	TranscriptSegment time.Duration
}

// WithDefaults fills zero fields.
func (c Config) WithDefaults() Config {
	if c.HTTPClient == nil {
		c.HTTPClient = NewHTTPClient(0)
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.TranscriptCacheTTL <= 0 {
		c.TranscriptCacheTTL = DefaultTranscriptTTL
	}
	if c.NegativeCacheTTL <= 0 || c.NegativeCacheTTL >= c.TranscriptCacheTTL {
		c.NegativeCacheTTL = min(NegativeTranscriptTTL, c.TranscriptCacheTTL/2)
	}
	if c.MaxMediaBytes <= 0 {
		c.MaxMediaBytes = DefaultMaxMediaBytes
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if c.TranscriptSegment <= 0 {
		c.TranscriptSegment = DefaultSegmentDuration
	}
	if c.YouTubeRPS <= 0 {
		c.YouTubeRPS = 2
	}
	return c
}

// ConfigFromEnv reads the engine configuration from environment variables.
func ConfigFromEnv() Config {
	return Config{
		FetchTimeout:       env.Duration("FETCH_TIMEOUT", DefaultFetchTimeout),
		MaxContentChars:    env.Int("MAX_CONTENT_CHARS", 0),
		FirecrawlAPIKey:    env.Str("FIRECRAWL_API_KEY", ""),
		FirecrawlBaseURL:   env.Str("FIRECRAWL_BASE_URL", "https://api.firecrawl.dev"),
		ApifyAPIToken:      env.Str("APIFY_API_TOKEN", ""),
		ApifyYouTubeActor:  env.Str("APIFY_YOUTUBE_ACTOR", "pintostudio/youtube-transcript-scraper"),
		YtDlpPath:          env.Str("YT_DLP_PATH", ""),
		FFmpegPath:         env.Str("FFMPEG_PATH", ""),
		YouTubeRPS:         env.Float("YOUTUBE_RPS", 2),
		FalAPIKey:          env.Str("FAL_KEY", ""),
		OpenAIAPIKey:       env.Str("OPENAI_API_KEY", ""),
		OpenAIBaseURL:      env.Str("OPENAI_BASE_URL", ""),
		TranscriptCacheTTL: env.Duration("CACHE_TTL", DefaultTranscriptTTL),
		NegativeCacheTTL:   env.Duration("NEGATIVE_CACHE_TTL", NegativeTranscriptTTL),
		MaxMediaBytes:      int64(env.Int("MAX_MEDIA_BYTES", DefaultMaxMediaBytes)),
		MaxUploadBytes:     int64(env.Int("MAX_UPLOAD_BYTES", DefaultMaxUploadBytes)),
		TranscriptSegment:  env.Duration("TRANSCRIPT_SEGMENT", DefaultSegmentDuration),
		HTTPClient:         NewHTTPClient(0),
	}.WithDefaults()
}
