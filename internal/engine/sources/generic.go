package sources

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/anatolykoptev/go_extract/internal/engine"
)

// genericMaxPageChars skips pages whose readable text suggests an article or
// listing rather than a single-video page.
const genericMaxPageChars = 12000

const maxCaptionFileBytes = 4 << 20

// GenericProvider reads captions embedded in arbitrary pages: a <track>
// caption file, or a YouTube embed handed off to the YouTube provider.
type GenericProvider struct {
	client  *http.Client
	youtube *YouTubeProvider
}

func NewGenericProvider(cfg engine.Config, youtube *YouTubeProvider) *GenericProvider {
	cfg = cfg.WithDefaults()
	return &GenericProvider{client: cfg.HTTPClient, youtube: youtube}
}

func (p *GenericProvider) Name() string { return engine.ServiceGeneric }

func (p *GenericProvider) CanHandle(pc *ProviderContext) bool {
	if pc.Classification.Kind != engine.KindWebpage || pc.HTML == "" {
		return false
	}
	lower := strings.ToLower(pc.HTML)
	return strings.Contains(lower, "<track") || embeddedYouTubeID(pc) != ""
}

func (p *GenericProvider) Fetch(ctx context.Context, pc *ProviderContext) engine.TranscriptResolution {
	engine.IncrGenericTranscript()
	var res engine.TranscriptResolution

	if n := pageTextLength(pc); n > genericMaxPageChars {
		res.Note("Skipped embedded captions: page text is %d chars, likely not a single-video page", n)
		return res
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pc.HTML))
	if err != nil {
		res.Note("Could not parse page HTML: %v", err)
		return res
	}

	if tracks := captionTrackURLs(doc, pc.URL); len(tracks) > 0 {
		emitTier(pc, engine.SourceEmbedded)
		res.Attempt(engine.SourceEmbedded)
		res.Source = engine.SourceEmbedded
		for _, u := range tracks {
			body, err := getBody(ctx, p.client, u, nil, pc.Request.Timeout, maxCaptionFileBytes)
			if err != nil {
				slog.Debug("generic: caption track fetch failed", slog.String("track", u), slog.Any("err", err))
				res.Note("Caption file %s failed: %v", u, err)
				continue
			}
			if text := ParseCaptions(string(body)); text != "" {
				res.Text = text
				res.SetMeta("captionUrl", u)
				return res
			}
			res.Note("Caption file %s carried no cues", u)
		}
	}

	videoID := embeddedYouTubeID(pc)
	if videoID == "" || p.youtube == nil {
		return res
	}
	res.Note("Handing off embedded YouTube video %s", videoID)
	sub := &ProviderContext{
		URL:            watchURL(videoID),
		Classification: engine.Classification{Kind: engine.KindYouTube, ContentLength: -1},
		Request:        pc.Request,
	}
	yt := p.youtube.Fetch(ctx, sub)
	for _, src := range yt.AttemptedProviders {
		res.Attempt(src)
	}
	res.Notes = append(res.Notes, yt.Notes...)
	for k, v := range yt.Metadata {
		res.SetMeta(k, v)
	}
	res.SetMeta("embeddedVideoUrl", sub.URL)
	if yt.Source != "" {
		res.Source = yt.Source
	}
	res.Text = yt.Text
	return res
}

// pageTextLength prefers reader-extracted text and falls back to the raw text.
func pageTextLength(pc *ProviderContext) int {
	text := engine.ExtractArticleContent(pc.HTML, pc.URL)
	if text == "" {
		text = engine.CleanHTML(pc.HTML)
	}
	return utf8.RuneCountInString(text)
}

// captionTrackURLs returns absolute caption <track> URLs, English first.
func captionTrackURLs(doc *goquery.Document, pageURL string) []string {
	base, _ := url.Parse(pageURL)
	var en, other []string
	doc.Find("track[src]").Each(func(_ int, s *goquery.Selection) {
		kind := strings.ToLower(s.AttrOr("kind", "subtitles"))
		if kind != "subtitles" && kind != "captions" {
			return
		}
		abs := resolveRef(base, s.AttrOr("src", ""))
		if abs == "" {
			return
		}
		if isEnglish(s.AttrOr("srclang", "")) {
			en = append(en, abs)
		} else {
			other = append(other, abs)
		}
	})
	return append(en, other...)
}

// embeddedYouTubeID finds a YouTube video referenced by an iframe or og:video.
func embeddedYouTubeID(pc *ProviderContext) string {
	for _, v := range pc.Meta.VideoURLs {
		if id := engine.YouTubeVideoID(v); id != "" {
			return id
		}
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pc.HTML))
	if err != nil {
		return ""
	}
	var id string
	doc.Find("iframe[src], iframe[data-src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src := s.AttrOr("src", s.AttrOr("data-src", ""))
		if strings.HasPrefix(src, "//") {
			src = "https:" + src
		}
		id = engine.YouTubeVideoID(src)
		return id == ""
	})
	return id
}

func resolveRef(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}
