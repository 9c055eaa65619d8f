package engine

import "time"

// --- Request options ---

// YouTubeMode selects which YouTube transcript tiers may run.
type YouTubeMode string

const (
	YouTubeAuto  YouTubeMode = "auto"  // web tiers, then any configured external tier
	YouTubeWeb   YouTubeMode = "web"   // web tiers only
	YouTubeApify YouTubeMode = "apify" // Apify actor only
	YouTubeYtDlp YouTubeMode = "yt-dlp"
)

// FirecrawlMode controls when the paid scrape fallback is used.
type FirecrawlMode string

const (
	FirecrawlOff    FirecrawlMode = "off"
	FirecrawlAuto   FirecrawlMode = "auto"
	FirecrawlAlways FirecrawlMode = "always"
)

// MediaTranscriptMode controls speech-to-text for podcasts and media files.
type MediaTranscriptMode string

const (
	MediaAuto   MediaTranscriptMode = "auto"
	MediaPrefer MediaTranscriptMode = "prefer" // transcript replaces article text even on article-heavy pages
	MediaOff    MediaTranscriptMode = "off"
)

// CacheMode controls transcript cache reads and writes for one request.
type CacheMode string

const (
	CacheDefault CacheMode = "default"
	CacheBypass  CacheMode = "bypass"
)

// ExtractionRequest is the immutable input of one extraction.
type ExtractionRequest struct {
	URL                 string
	Timeout             time.Duration // per network call; 0 = Config.FetchTimeout
	YouTubeMode         YouTubeMode
	FirecrawlMode       FirecrawlMode
	MediaTranscriptMode MediaTranscriptMode
	CacheMode           CacheMode
	MaxCharacters       int // 0 = Config.MaxContentChars
	OnProgress          ProgressFunc
}

// Normalized returns a copy of r with unset or unknown modes replaced by defaults.
func (r ExtractionRequest) Normalized(defaultTimeout time.Duration) ExtractionRequest {
	if r.Timeout <= 0 {
		r.Timeout = defaultTimeout
	}
	if r.Timeout <= 0 {
		r.Timeout = DefaultFetchTimeout
	}
	switch r.YouTubeMode {
	case YouTubeAuto, YouTubeWeb, YouTubeApify, YouTubeYtDlp:
	default:
		r.YouTubeMode = YouTubeAuto
	}
	switch r.FirecrawlMode {
	case FirecrawlOff, FirecrawlAuto, FirecrawlAlways:
	default:
		r.FirecrawlMode = FirecrawlAuto
	}
	switch r.MediaTranscriptMode {
	case MediaAuto, MediaPrefer, MediaOff:
	default:
		r.MediaTranscriptMode = MediaAuto
	}
	if r.CacheMode != CacheBypass {
		r.CacheMode = CacheDefault
	}
	return r
}

// FetchedDocument is an HTML document after redirects.
type FetchedDocument struct {
	FinalURL    string
	HTML        string
	ContentType string
}

// --- Transcript resolution ---

// TranscriptSource names the tier that produced (or last attempted) a transcript.
type TranscriptSource string

const (
	SourceEmbedded      TranscriptSource = "embedded"
	SourceCaptionTracks TranscriptSource = "captionTracks"
	SourceYoutubei      TranscriptSource = "youtubei"
	SourceApify         TranscriptSource = "apify"
	SourceYtDlp         TranscriptSource = "yt-dlp"
	SourceWhisper       TranscriptSource = "whisper"
	SourceUnknown       TranscriptSource = "unknown"
)

// NormalizeSource maps arbitrary provider strings onto the known sources.
// Empty stays empty; anything unrecognized becomes SourceUnknown.
func NormalizeSource(s string) TranscriptSource {
	switch src := TranscriptSource(s); src {
	case "":
		return ""
	case SourceEmbedded, SourceCaptionTracks, SourceYoutubei, SourceApify,
		SourceYtDlp, SourceWhisper, SourceUnknown:
		return src
	}
	return SourceUnknown
}

// TranscriptResolution is the outcome of one provider chain.
//
// Text == "" with a Source set is a confirmed-unavailable result.
// Source == "" means nothing conclusive was attempted.
type TranscriptResolution struct {
	Text               string
	Source             TranscriptSource
	Metadata           map[string]any
	AttemptedProviders []TranscriptSource
	Notes              []string
	// Firecrawl records a scrape made while resolving; never cached.
	Firecrawl *FirecrawlDiagnostics
	// Err carries a request-level failure such as *MissingCredentialsError.
	Err error
}

// Resolved reports whether a transcript text is present.
func (r TranscriptResolution) Resolved() bool { return r.Text != "" }

// Unavailable reports a confirmed negative result worth caching.
func (r TranscriptResolution) Unavailable() bool { return r.Text == "" && r.Source != "" }

// Attempt records a tier attempt, keeping first-seen order.
func (r *TranscriptResolution) Attempt(src TranscriptSource) {
	for _, s := range r.AttemptedProviders {
		if s == src {
			return
		}
	}
	r.AttemptedProviders = append(r.AttemptedProviders, src)
}

// Note appends a human-readable note.
func (r *TranscriptResolution) Note(format string, args ...any) {
	r.Notes = append(r.Notes, sprintf(format, args...))
}

// SetMeta sets a metadata key, allocating the map on first use.
func (r *TranscriptResolution) SetMeta(key string, value any) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
}

// --- Diagnostics ---

// CacheStatus is the transcript cache outcome for one request.
type CacheStatus string

const (
	CacheMiss     CacheStatus = "miss"
	CacheHit      CacheStatus = "hit"
	CacheExpired  CacheStatus = "expired"
	CacheBypassed CacheStatus = "bypassed"
)

// Diagnostics describes every strategy decision taken for a request.
type Diagnostics struct {
	Strategy   string                `json:"strategy" yaml:"strategy"` // html, firecrawl, media, asset
	Firecrawl  FirecrawlDiagnostics  `json:"firecrawl" yaml:"firecrawl"`
	Transcript TranscriptDiagnostics `json:"transcript" yaml:"transcript"`
}

type FirecrawlDiagnostics struct {
	Attempted bool      `json:"attempted" yaml:"attempted"`
	Used      bool      `json:"used" yaml:"used"`
	CacheMode CacheMode `json:"cacheMode" yaml:"cacheMode"`
	Notes     []string  `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// Note appends a note.
func (d *FirecrawlDiagnostics) Note(format string, args ...any) {
	d.Notes = append(d.Notes, sprintf(format, args...))
}

// Merge folds a later scrape into d. Attempted and Used stick once set.
func (d *FirecrawlDiagnostics) Merge(o FirecrawlDiagnostics) {
	d.Attempted = d.Attempted || o.Attempted
	d.Used = d.Used || o.Used
	d.Notes = append(d.Notes, o.Notes...)
}

type TranscriptDiagnostics struct {
	CacheMode          CacheMode          `json:"cacheMode" yaml:"cacheMode"`
	CacheStatus        CacheStatus        `json:"cacheStatus" yaml:"cacheStatus"`
	TextProvided       bool               `json:"textProvided" yaml:"textProvided"`
	Provider           TranscriptSource   `json:"provider,omitempty" yaml:"provider,omitempty"`
	AttemptedProviders []TranscriptSource `json:"attemptedProviders" yaml:"attemptedProviders"`
	Notes              []string           `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// Note appends a note.
func (d *TranscriptDiagnostics) Note(format string, args ...any) {
	d.Notes = append(d.Notes, sprintf(format, args...))
}

// Merge folds a provider resolution into the request diagnostics.
func (d *TranscriptDiagnostics) Merge(res TranscriptResolution) {
	for _, src := range res.AttemptedProviders {
		seen := false
		for _, s := range d.AttemptedProviders {
			if s == src {
				seen = true
				break
			}
		}
		if !seen {
			d.AttemptedProviders = append(d.AttemptedProviders, src)
		}
	}
	d.Notes = append(d.Notes, res.Notes...)
	if res.Source != "" {
		d.Provider = res.Source
	}
	d.TextProvided = res.Resolved()
}

// --- Output ---

// ExtractedContent is the terminal artifact of an extraction.
type ExtractedContent struct {
	URL                  string           `json:"url" yaml:"url"`
	Title                string           `json:"title,omitempty" yaml:"title,omitempty"`
	Description          string           `json:"description,omitempty" yaml:"description,omitempty"`
	SiteName             string           `json:"siteName,omitempty" yaml:"siteName,omitempty"`
	Content              string           `json:"content" yaml:"content"`
	Truncated            bool             `json:"truncated" yaml:"truncated"`
	TotalCharacters      int              `json:"totalCharacters" yaml:"totalCharacters"`
	WordCount            int              `json:"wordCount" yaml:"wordCount"`
	TranscriptCharacters int              `json:"transcriptCharacters" yaml:"transcriptCharacters"`
	TranscriptLines      int              `json:"transcriptLines" yaml:"transcriptLines"`
	TranscriptWordCount  int              `json:"transcriptWordCount" yaml:"transcriptWordCount"`
	TranscriptSource     TranscriptSource `json:"transcriptSource,omitempty" yaml:"transcriptSource,omitempty"`
	TranscriptMetadata   map[string]any   `json:"transcriptMetadata,omitempty" yaml:"transcriptMetadata,omitempty"`
	Diagnostics          Diagnostics      `json:"diagnostics" yaml:"diagnostics"`
}
