package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/anatolykoptev/go_extract/internal/engine"
)

// PodcastProvider resolves an audio URL for podcast pages, feeds, and media
// files, downloads it under a byte budget, and transcribes it.
type PodcastProvider struct {
	client        *http.Client
	scrape        engine.ScrapeFunc
	transcribers  []Transcriber
	transcoder    *Transcoder
	ytdlp         *YtDlp
	itunesBaseURL string
	maxMedia      int64
	maxUpload     int64
	segment       time.Duration
}

// PodcastOption customizes a PodcastProvider.
type PodcastOption func(*PodcastProvider)

// WithTranscribers replaces the configured transcribers.
func WithTranscribers(ts ...Transcriber) PodcastOption {
	return func(p *PodcastProvider) { p.transcribers = ts }
}

// WithTranscoder sets the ffmpeg transcoder; nil disables local transcoding.
func WithTranscoder(t *Transcoder) PodcastOption {
	return func(p *PodcastProvider) { p.transcoder = t }
}

// WithITunesBaseURL points catalog lookups at another host.
func WithITunesBaseURL(u string) PodcastOption {
	return func(p *PodcastProvider) { p.itunesBaseURL = strings.TrimRight(u, "/") }
}

func NewPodcastProvider(cfg engine.Config, scrape engine.ScrapeFunc, opts ...PodcastOption) *PodcastProvider {
	cfg = cfg.WithDefaults()
	p := &PodcastProvider{
		client:        cfg.HTTPClient,
		scrape:        scrape,
		transcribers:  NewTranscribers(cfg),
		transcoder:    NewTranscoder(cfg.FFmpegPath),
		ytdlp:         NewYtDlp(cfg.YtDlpPath),
		itunesBaseURL: itunesDefaultBaseURL,
		maxMedia:      cfg.MaxMediaBytes,
		maxUpload:     cfg.MaxUploadBytes,
		segment:       cfg.TranscriptSegment,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *PodcastProvider) Name() string { return engine.ServicePodcast }

// CacheKey files direct media files under their own service.
func (p *PodcastProvider) CacheKey(pc *ProviderContext) engine.CacheKey {
	if pc.Classification.DirectMedia {
		return engine.CacheKey{URL: pc.URL, Service: engine.ServiceMedia}
	}
	return engine.CacheKey{URL: pc.URL, Service: engine.ServicePodcast}
}

func (p *PodcastProvider) CanHandle(pc *ProviderContext) bool {
	return pc.Classification.Kind == engine.KindPodcast
}

func (p *PodcastProvider) Fetch(ctx context.Context, pc *ProviderContext) engine.TranscriptResolution {
	engine.IncrPodcastTranscript()
	var res engine.TranscriptResolution

	if pc.Request.MediaTranscriptMode == engine.MediaOff {
		res.Note("Media transcription disabled for this request")
		return res
	}
	if len(p.transcribers) == 0 {
		res.Err = &engine.MissingCredentialsError{Reason: "set FAL_KEY or OPENAI_API_KEY"}
		res.Note("Missing transcription keys (FAL_KEY or OPENAI_API_KEY); audio was not downloaded")
		return res
	}

	cand := p.resolveAudio(ctx, pc, &res)
	if cand == nil {
		res.Note("No audio enclosure or stream URL could be resolved")
		if p.ytdlp == nil {
			return res
		}
		emitTier(pc, engine.SourceYtDlp)
		res.Attempt(engine.SourceYtDlp)
		res.Source = engine.SourceYtDlp
		text, err := p.transcribeViaYtDlp(ctx, pc, &res)
		if err != nil {
			slog.Warn("podcast: yt-dlp fallback failed", slog.String("url", pc.URL), slog.Any("err", err))
			res.Note("yt-dlp audio fallback failed: %v", err)
			return res
		}
		res.Text = text
		return res
	}

	res.SetMeta("audioUrl", cand.URL)
	if cand.Title != "" {
		res.SetMeta("episodeTitle", cand.Title)
	}
	if cand.Duration > 0 {
		res.SetMeta("durationSeconds", int(cand.Duration.Seconds()))
	}
	res.Note("Resolved audio from %s: %s", cand.Origin, cand.URL)

	emitTier(pc, engine.SourceWhisper)
	res.Attempt(engine.SourceWhisper)
	res.Source = engine.SourceWhisper
	text, err := p.transcribeURL(ctx, pc, cand, &res)
	if err != nil {
		slog.Warn("podcast: transcription failed", slog.String("audio", cand.URL), slog.Any("err", err))
		res.Note("Transcription failed: %v", err)
		return res
	}
	res.Text = engine.NormalizeTranscript(text)
	return res
}

// resolveAudio runs the audio source tiers in order: direct media, page
// scripts and tags, RSS feeds, platform lookups, then a scraped copy of a
// blocked page.
func (p *PodcastProvider) resolveAudio(ctx context.Context, pc *ProviderContext, res *engine.TranscriptResolution) *AudioCandidate {
	timeout := pc.Request.Timeout
	if pc.Classification.DirectMedia {
		return &AudioCandidate{URL: pc.URL, Title: pc.Meta.Title, Origin: "direct"}
	}

	if isFeedURL(pc) {
		c, err := p.fromFeed(ctx, pc.URL, "", timeout)
		if err == nil {
			return c
		}
		res.Note("Feed %s: %v", pc.URL, err)
	}

	if c := p.fromHTML(ctx, pc.HTML, pc.URL, pc.Meta, timeout, res); c != nil {
		return c
	}

	host := hostOf(pc.URL)
	switch {
	case strings.HasSuffix(host, "podcasts.apple.com"):
		c, err := p.fromApple(ctx, pc.URL, timeout)
		if err == nil {
			return c
		}
		res.Note("Apple Podcasts lookup failed: %v", err)
	case host == "open.spotify.com":
		if c := p.spotify(ctx, pc, res); c != nil {
			return c
		}
	}

	if pc.HTML != "" && !engine.LooksBlocked(pc.HTML) {
		return nil
	}
	return p.fromScrape(ctx, pc, pc.URL, res)
}

// fromHTML scans a page for embedded audio and advertised feeds.
func (p *PodcastProvider) fromHTML(ctx context.Context, html, pageURL string, meta engine.PageMetadata, timeout time.Duration, res *engine.TranscriptResolution) *AudioCandidate {
	if urls := audioFromPage(html, pageURL, meta); len(urls) > 0 {
		return &AudioCandidate{URL: urls[0], Title: meta.Title, Origin: "page"}
	}
	for _, feed := range feedLinks(html, pageURL) {
		c, err := p.fromFeed(ctx, feed, meta.Title, timeout)
		if err == nil {
			return c
		}
		res.Note("Feed %s: %v", feed, err)
	}
	return nil
}

// spotify reads the episode page, falling back to the public embed page.
func (p *PodcastProvider) spotify(ctx context.Context, pc *ProviderContext, res *engine.TranscriptResolution) *AudioCandidate {
	timeout := pc.Request.Timeout
	html, meta := pc.HTML, pc.Meta
	if html == "" || engine.LooksBlocked(html) {
		if embed := spotifyEmbedURL(pc.URL); embed != "" {
			body, err := getBody(ctx, p.client, embed, nil, timeout, ytMaxPageBytes)
			switch {
			case err != nil:
				res.Note("Spotify embed page fetch failed: %v", err)
			case engine.LooksBlocked(string(body)):
				res.Note("Spotify embed page looks blocked")
				return p.fromScrape(ctx, pc, embed, res)
			default:
				html = string(body)
				meta = engine.ExtractMetadataFromHTML(html, embed)
			}
		}
	}
	c, err := p.fromSpotify(ctx, html, meta, timeout)
	if err != nil {
		res.Note("Spotify episode lookup failed: %v", err)
		return nil
	}
	return c
}

// fromScrape retrieves target through the paid scrape fallback and scans it.
func (p *PodcastProvider) fromScrape(ctx context.Context, pc *ProviderContext, target string, res *engine.TranscriptResolution) *AudioCandidate {
	if pc.Request.FirecrawlMode == engine.FirecrawlOff {
		res.Note("Podcast page looks blocked; Firecrawl disabled for this request")
		return nil
	}
	scraped, diag := engine.FetchWithFirecrawl(ctx, target, p.scrape, engine.ScrapeOptions{
		CacheMode: pc.Request.CacheMode,
		Timeout:   pc.Request.Timeout,
	}, "podcast page blocked", pc.Request.OnProgress)
	if res.Firecrawl == nil {
		res.Firecrawl = &engine.FirecrawlDiagnostics{}
	}
	res.Firecrawl.Merge(diag)
	if scraped == nil || scraped.HTML == "" {
		return nil
	}
	meta := engine.ExtractMetadataFromHTML(scraped.HTML, target)
	if c := p.fromHTML(ctx, scraped.HTML, target, meta, pc.Request.Timeout, res); c != nil {
		return c
	}
	if hostOf(target) == "open.spotify.com" {
		c, err := p.fromSpotify(ctx, scraped.HTML, meta, pc.Request.Timeout)
		if err == nil {
			return c
		}
		res.Note("Spotify episode lookup on scraped page failed: %v", err)
	}
	return nil
}

// transcribeURL probes, downloads, and transcribes one audio URL. With ffmpeg
// the file is downloaded whole and re-encoded or split as needed; without it
// a prefix capped at the upload limit is sent.
func (p *PodcastProvider) transcribeURL(ctx context.Context, pc *ProviderContext, cand *AudioCandidate, res *engine.TranscriptResolution) (string, error) {
	head := engine.ProbeHead(ctx, p.client, cand.URL, pc.Request.Timeout)
	if head.ContentType != "" && !engine.IsMediaContentType(head.ContentType) && !strings.Contains(head.ContentType, "octet-stream") {
		res.Note("HEAD reports %s for the audio URL; downloading anyway", head.ContentType)
	}
	downloadURL := cand.URL
	if head.FinalURL != "" {
		downloadURL = head.FinalURL
	}
	timeout := max(pc.Request.Timeout, mediaDownloadTimeout)
	onProgress := pc.Request.OnProgress

	if p.transcoder == nil {
		if head.ContentLength > p.maxUpload {
			res.Note("Audio is %d bytes, above the %d byte upload limit, and ffmpeg is unavailable; uploading a truncated prefix",
				head.ContentLength, p.maxUpload)
		}
		d, err := DownloadCapped(ctx, p.client, downloadURL, p.maxUpload, timeout, onProgress)
		if err != nil {
			return "", err
		}
		if d.Truncated {
			res.SetMeta("truncated", true)
		}
		return transcribeWith(ctx, p.transcribers, audioFilename(downloadURL, d.ContentType), d.Data)
	}

	if head.ContentLength > p.maxMedia {
		res.Note("Audio is %d bytes; downloading the first %d bytes", head.ContentLength, p.maxMedia)
	}
	dir, err := os.MkdirTemp("", "extract-media-*")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	name := uuid.NewString() + path.Ext(audioFilename(downloadURL, head.ContentType))
	local := filepath.Join(dir, name)
	d, err := DownloadToFile(ctx, p.client, downloadURL, local, p.maxMedia, timeout, onProgress)
	if err != nil {
		return "", err
	}
	if d.Truncated {
		res.SetMeta("truncated", true)
	}
	return p.transcribeFile(ctx, pc, local, d.Bytes, res)
}

// transcribeFile uploads a local file, re-encoding it when too large and
// splitting it when longer than one segment. Part texts are joined in order.
func (p *PodcastProvider) transcribeFile(ctx context.Context, pc *ProviderContext, local string, size int64, res *engine.TranscriptResolution) (string, error) {
	dur, err := p.transcoder.Duration(ctx, local)
	if err != nil {
		slog.Debug("podcast: duration probe failed", slog.String("file", local), slog.Any("err", err))
	} else if _, ok := res.Metadata["durationSeconds"]; !ok {
		res.SetMeta("durationSeconds", int(dur.Seconds()))
	}

	if size <= p.maxUpload && dur <= p.segment {
		return transcribeLocal(ctx, p.transcribers, local, p.maxUpload)
	}
	if dur > 0 && dur <= p.segment {
		out := strings.TrimSuffix(local, filepath.Ext(local)) + "-small.mp3"
		if err := p.transcoder.Reencode(ctx, local, out); err != nil {
			res.Note("Re-encode failed, uploading a truncated prefix: %v", err)
			return transcribeLocal(ctx, p.transcribers, local, p.maxUpload)
		}
		return transcribeLocal(ctx, p.transcribers, out, p.maxUpload)
	}

	partsDir := filepath.Join(filepath.Dir(local), "parts")
	if err := os.MkdirAll(partsDir, 0o755); err != nil {
		return "", err
	}
	parts, err := p.transcoder.Segment(ctx, local, partsDir, p.segment)
	if err != nil {
		res.Note("Splitting audio failed, uploading a truncated prefix: %v", err)
		return transcribeLocal(ctx, p.transcribers, local, p.maxUpload)
	}
	res.SetMeta("parts", len(parts))

	texts := make([]string, 0, len(parts))
	for i, part := range parts {
		pc.Request.OnProgress.Emit(engine.ProgressEvent{
			Kind:     engine.ProgressTranscribePart,
			URL:      pc.URL,
			Provider: engine.SourceWhisper,
			Part:     i + 1,
			Parts:    len(parts),
		})
		text, err := transcribeLocal(ctx, p.transcribers, part, p.maxUpload)
		if err != nil {
			return "", fmt.Errorf("part %d/%d: %w", i+1, len(parts), err)
		}
		texts = append(texts, text)
	}
	return strings.Join(texts, "\n"), nil
}

// transcribeViaYtDlp extracts audio with yt-dlp and transcribes it.
func (p *PodcastProvider) transcribeViaYtDlp(ctx context.Context, pc *ProviderContext, res *engine.TranscriptResolution) (string, error) {
	dir, err := os.MkdirTemp("", "extract-ytdlp-*")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	local, err := p.ytdlp.ExtractAudio(ctx, pc.URL, dir)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(local)
	if err != nil {
		return "", err
	}
	engine.AddMediaDownload(info.Size())
	if p.transcoder != nil {
		return p.transcribeFile(ctx, pc, local, info.Size(), res)
	}
	if info.Size() > p.maxUpload {
		res.SetMeta("truncated", true)
		res.Note("yt-dlp audio is %d bytes and ffmpeg is unavailable; uploading a truncated prefix", info.Size())
	}
	return transcribeLocal(ctx, p.transcribers, local, p.maxUpload)
}

// transcribeLocal uploads at most limit bytes of a local file.
func transcribeLocal(ctx context.Context, ts []Transcriber, local string, limit int64) (string, error) {
	f, err := os.Open(local)
	if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", local, err)
	}
	if len(data) == 0 {
		return "", errors.New("audio file is empty")
	}
	return transcribeWith(ctx, ts, filepath.Base(local), data)
}

// audioFilename derives an upload name with a usable extension.
func audioFilename(rawURL, contentType string) string {
	ext := ""
	if u, err := url.Parse(rawURL); err == nil {
		ext = strings.ToLower(path.Ext(u.Path))
	}
	switch ext {
	case ".mp3", ".m4a", ".aac", ".ogg", ".oga", ".opus", ".wav", ".flac", ".webm", ".mp4":
		return "audio" + ext
	}
	switch {
	case strings.Contains(contentType, "mp4"), strings.Contains(contentType, "m4a"), strings.Contains(contentType, "aac"):
		return "audio.m4a"
	case strings.Contains(contentType, "ogg"), strings.Contains(contentType, "opus"):
		return "audio.ogg"
	case strings.Contains(contentType, "wav"):
		return "audio.wav"
	}
	return "audio.mp3"
}

func isFeedURL(pc *ProviderContext) bool {
	if engine.IsFeedContentType(pc.Classification.ContentType) {
		return true
	}
	u, err := url.Parse(pc.URL)
	if err != nil {
		return false
	}
	p := strings.ToLower(u.Path)
	return strings.HasSuffix(p, ".rss") || strings.HasSuffix(p, ".xml") || strings.HasSuffix(p, "/feed") || strings.HasSuffix(p, "/rss")
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
