package sources

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/anatolykoptev/go_extract/internal/engine"
)

// YouTube implementation is split across files by responsibility:
//   youtube_innertube.go  - Innertube payload types, bootstrap parsing, /player call
//   youtube_transcript.go - track ordering and caption download (json3, then XML)
//   apify.go, ytdlp.go    - external final tiers

// YouTubeProvider resolves captions for YouTube videos.
// Tier order: embedded player response, bootstrap-authenticated /player,
// ANDROID /player, then Apify or yt-dlp depending on the request mode.
type YouTubeProvider struct {
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
	apify   *ApifyClient
	ytdlp   *YtDlp
}

// NewYouTubeProvider builds the provider; Apify and yt-dlp tiers are enabled
// only when their credentials or paths are configured.
func NewYouTubeProvider(cfg engine.Config) *YouTubeProvider {
	cfg = cfg.WithDefaults()
	return &YouTubeProvider{
		client:  cfg.HTTPClient,
		baseURL: ytDefaultBaseURL,
		limiter: rate.NewLimiter(rate.Limit(cfg.YouTubeRPS), 1),
		apify:   NewApifyClient(cfg.ApifyAPIToken, cfg.ApifyYouTubeActor, cfg.HTTPClient),
		ytdlp:   NewYtDlp(cfg.YtDlpPath),
	}
}

// WithBaseURL points watch-page and Innertube calls at another host.
func (p *YouTubeProvider) WithBaseURL(baseURL string) *YouTubeProvider {
	p.baseURL = strings.TrimRight(baseURL, "/")
	return p
}

func (p *YouTubeProvider) Name() string { return engine.ServiceYouTube }

func (p *YouTubeProvider) CanHandle(pc *ProviderContext) bool {
	return pc.Classification.Kind == engine.KindYouTube || engine.YouTubeVideoID(pc.URL) != ""
}

func (p *YouTubeProvider) Fetch(ctx context.Context, pc *ProviderContext) engine.TranscriptResolution {
	engine.IncrYouTubeTranscript()
	var res engine.TranscriptResolution

	videoID := engine.YouTubeVideoID(pc.URL)
	if videoID == "" {
		res.Note("Could not parse a YouTube video id from %s", pc.URL)
		return res
	}
	res.SetMeta("videoId", videoID)

	req := pc.Request
	mode := req.YouTubeMode

	if mode == engine.YouTubeAuto || mode == engine.YouTubeWeb {
		if text := p.fetchWeb(ctx, pc, videoID, &res); text != "" {
			res.Text = text
			return res
		}
	}

	if mode == engine.YouTubeAuto || mode == engine.YouTubeApify {
		if p.apify == nil {
			if mode == engine.YouTubeApify {
				res.Note("Apify transcript tier requested but APIFY_API_TOKEN is not set")
			}
		} else {
			emitTier(pc, engine.SourceApify)
			res.Attempt(engine.SourceApify)
			res.Source = engine.SourceApify
			text, err := p.apify.Transcript(ctx, watchURL(videoID), req.Timeout)
			if err == nil {
				res.Text = text
				return res
			}
			slog.Warn("youtube: apify failed", slog.String("id", videoID), slog.Any("err", err))
			res.Note("Apify transcript failed: %v", err)
		}
	}

	if mode == engine.YouTubeAuto || mode == engine.YouTubeYtDlp {
		if p.ytdlp == nil {
			if mode == engine.YouTubeYtDlp {
				res.Note("yt-dlp transcript tier requested but YT_DLP_PATH is not set")
			}
		} else {
			emitTier(pc, engine.SourceYtDlp)
			res.Attempt(engine.SourceYtDlp)
			res.Source = engine.SourceYtDlp
			text, lang, err := p.ytdlp.Subtitles(ctx, watchURL(videoID))
			if err == nil {
				res.Text = text
				if lang != "" {
					res.SetMeta("language", lang)
				}
				return res
			}
			slog.Warn("youtube: yt-dlp failed", slog.String("id", videoID), slog.Any("err", err))
			res.Note("yt-dlp subtitles failed: %v", err)
		}
	}
	return res
}

// fetchWeb runs the three direct tiers against the watch page and Innertube.
func (p *YouTubeProvider) fetchWeb(ctx context.Context, pc *ProviderContext, videoID string, res *engine.TranscriptResolution) string {
	timeout := pc.Request.Timeout
	html := pc.HTML
	if !strings.Contains(html, videoID) {
		page, err := p.watchPage(ctx, videoID, timeout)
		if err != nil {
			slog.Warn("youtube: watch page fetch failed", slog.String("id", videoID), slog.Any("err", err))
			res.Note("YouTube watch page fetch failed: %v", err)
		}
		html = page
	}

	if pr, err := parseInitialPlayerResponse(html); err == nil {
		emitTier(pc, engine.SourceCaptionTracks)
		res.Attempt(engine.SourceCaptionTracks)
		res.Source = engine.SourceCaptionTracks
		p.recordDetails(pr, res)
		text, err := p.transcriptFromPlayer(ctx, pr, res, timeout)
		if err == nil {
			return text
		}
		slog.Debug("youtube: embedded caption tracks failed", slog.String("id", videoID), slog.Any("err", err))
		res.Note("Embedded caption tracks failed: %v", err)
	} else {
		res.Note("No embedded player response: %v", err)
	}

	emitTier(pc, engine.SourceYoutubei)
	res.Attempt(engine.SourceYoutubei)
	res.Source = engine.SourceYoutubei

	if boot, err := parseBootstrap(html); err == nil {
		pr, err := p.postPlayer(ctx, videoID, boot.APIKey, boot.clientContext(), boot.headers(), timeout)
		if err == nil {
			p.recordDetails(pr, res)
			text, terr := p.transcriptFromPlayer(ctx, pr, res, timeout)
			if terr == nil {
				return text
			}
			err = terr
		}
		slog.Warn("youtube: bootstrap player failed, trying ANDROID client",
			slog.String("id", videoID), slog.Any("err", err))
		res.Note("Innertube player with page bootstrap failed: %v", err)
	} else {
		res.Note("No page bootstrap: %v", err)
	}

	clientCtx, headers := androidContext()
	pr, err := p.postPlayer(ctx, videoID, "", clientCtx, headers, timeout)
	if err == nil {
		p.recordDetails(pr, res)
		text, terr := p.transcriptFromPlayer(ctx, pr, res, timeout)
		if terr == nil {
			return text
		}
		err = terr
	}
	slog.Warn("youtube: ANDROID player failed", slog.String("id", videoID), slog.Any("err", err))
	res.Note("Innertube ANDROID player failed: %v", err)
	return ""
}

func (p *YouTubeProvider) watchPage(ctx context.Context, videoID string, timeout time.Duration) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", err
	}
	body, err := getBody(ctx, p.client, p.baseURL+"/watch?v="+videoID, map[string]string{
		"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	}, timeout, ytMaxPageBytes)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (p *YouTubeProvider) recordDetails(pr *playerResponse, res *engine.TranscriptResolution) {
	if pr == nil || pr.VideoDetails == nil {
		return
	}
	if pr.VideoDetails.Title != "" {
		res.SetMeta("title", pr.VideoDetails.Title)
	}
	if pr.VideoDetails.Author != "" {
		res.SetMeta("author", pr.VideoDetails.Author)
	}
}

// CacheKey keys every URL form of a video on its canonical watch URL.
func (p *YouTubeProvider) CacheKey(pc *ProviderContext) engine.CacheKey {
	if id := engine.YouTubeVideoID(pc.URL); id != "" {
		return engine.CacheKey{URL: watchURL(id), Service: engine.ServiceYouTube}
	}
	return engine.CacheKey{URL: pc.URL, Service: engine.ServiceYouTube}
}

func watchURL(videoID string) string {
	return ytDefaultBaseURL + "/watch?v=" + videoID
}

// emitTier reports the tier about to run.
func emitTier(pc *ProviderContext, src engine.TranscriptSource) {
	pc.Request.OnProgress.Emit(engine.ProgressEvent{
		Kind:     engine.ProgressTranscriptStart,
		URL:      pc.URL,
		Provider: src,
	})
}
