package engine

import (
	"context"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// ResourceKind labels what a URL points at.
type ResourceKind string

const (
	KindWebpage     ResourceKind = "webpage"
	KindYouTube     ResourceKind = "youtube"
	KindPodcast     ResourceKind = "podcast"
	KindRemoteAsset ResourceKind = "remote-asset"
)

// Classification is the classifier verdict plus whatever the HEAD probe learned.
type Classification struct {
	Kind          ResourceKind
	ContentType   string
	ContentLength int64 // -1 = unknown
	// DirectMedia is set when the URL itself serves an audio/video file.
	DirectMedia bool
}

var mediaExtensions = map[string]bool{
	".mp3": true, ".m4a": true, ".aac": true, ".wav": true, ".ogg": true, ".oga": true,
	".opus": true, ".flac": true, ".mp4": true, ".m4v": true, ".mov": true, ".webm": true,
	".mkv": true,
}

var assetExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".json": true, ".csv": true,
	".log": true, ".yaml": true, ".yml": true,
}

var podcastHosts = []string{
	"podcasts.apple.com", "open.spotify.com", "podcasts.google.com",
	"overcast.fm", "pca.st", "castbox.fm", "podbean.com", "anchor.fm",
	"soundcloud.com",
}

// IsYouTubeURL reports whether raw points at a YouTube host.
func IsYouTubeURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return strings.Contains(host, "youtube.com") || host == "youtu.be" || host == "www.youtu.be"
}

// YouTubeVideoID extracts the 11-char video ID from watch, youtu.be, shorts, embed and live URLs.
// Returns "" when no ID is present.
func YouTubeVideoID(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	var id string
	switch {
	case host == "youtu.be" || host == "www.youtu.be":
		id = strings.Trim(u.Path, "/")
	case strings.Contains(host, "youtube.com") || strings.Contains(host, "youtube-nocookie.com"):
		if v := u.Query().Get("v"); v != "" {
			id = v
			break
		}
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) >= 2 {
			switch parts[0] {
			case "shorts", "embed", "live", "v":
				id = parts[1]
			}
		}
	}
	if i := strings.IndexAny(id, "/?&#"); i >= 0 {
		id = id[:i]
	}
	if !validVideoID(id) {
		return ""
	}
	return id
}

func validVideoID(id string) bool {
	if len(id) != 11 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// ClassifyURL applies the string-only rules. Malformed input classifies as webpage.
func ClassifyURL(raw string) Classification {
	c := Classification{Kind: KindWebpage, ContentLength: -1}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return c
	}
	if IsYouTubeURL(raw) {
		c.Kind = KindYouTube
		return c
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range podcastHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			if h == "open.spotify.com" && !isSpotifyPodcastPath(u.Path) {
				return c
			}
			c.Kind = KindPodcast
			return c
		}
	}
	ext := strings.ToLower(path.Ext(u.Path))
	switch {
	case isGitHubSourceFile(strings.TrimSpace(raw), ext):
		c.Kind = KindRemoteAsset
	case mediaExtensions[ext]:
		c.Kind = KindPodcast
		c.DirectMedia = true
	case ext == ".rss" || strings.HasSuffix(strings.ToLower(u.Path), "/feed"):
		c.Kind = KindPodcast
	case assetExtensions[ext]:
		c.Kind = KindRemoteAsset
	}
	return c
}

func isSpotifyPodcastPath(p string) bool {
	return strings.HasPrefix(p, "/episode/") || strings.HasPrefix(p, "/show/") ||
		strings.Contains(p, "/embed/episode/") || strings.Contains(p, "/embed/show/")
}

// IsMediaContentType reports audio/video MIME types.
func IsMediaContentType(ct string) bool {
	mt := mediaType(ct)
	return strings.HasPrefix(mt, "audio/") || strings.HasPrefix(mt, "video/") || mt == "application/ogg"
}

// IsHTMLContentType reports the HTML family. An empty header counts as HTML.
func IsHTMLContentType(ct string) bool {
	mt := mediaType(ct)
	return mt == "" || mt == "text/html" || mt == "application/xhtml+xml"
}

// IsFeedContentType reports RSS/Atom feed MIME types.
func IsFeedContentType(ct string) bool {
	switch mediaType(ct) {
	case "application/rss+xml", "application/atom+xml":
		return true
	}
	return false
}

// IsTextAssetContentType reports non-HTML text payloads worth returning verbatim.
func IsTextAssetContentType(ct string) bool {
	mt := mediaType(ct)
	switch mt {
	case "application/json", "application/xml", "text/xml", "application/x-ndjson":
		return true
	}
	return strings.HasPrefix(mt, "text/") && mt != "text/html"
}

func mediaType(ct string) string {
	ct = strings.TrimSpace(ct)
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		mt = strings.TrimSpace(strings.SplitN(ct, ";", 2)[0])
	}
	return strings.ToLower(mt)
}

// Classifier combines the string rules with a lazy HEAD probe.
type Classifier struct {
	Client  *http.Client
	Timeout time.Duration
}

// Classify never fails. URLs the string rules leave as webpage get a HEAD probe
// whose content type may reroute them to podcast or remote-asset. The probe is
// bounded by timeout, or by c.Timeout when timeout is zero.
func (c *Classifier) Classify(ctx context.Context, raw string, timeout time.Duration) Classification {
	cl := ClassifyURL(raw)
	if cl.Kind != KindWebpage {
		return cl
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return cl
	}
	if timeout <= 0 {
		timeout = c.Timeout
	}
	probe := ProbeHead(ctx, c.Client, raw, timeout)
	cl.ContentType = probe.ContentType
	cl.ContentLength = probe.ContentLength
	switch {
	case IsMediaContentType(probe.ContentType):
		cl.Kind = KindPodcast
		cl.DirectMedia = true
	case IsFeedContentType(probe.ContentType):
		cl.Kind = KindPodcast
	case !IsHTMLContentType(probe.ContentType) && IsTextAssetContentType(probe.ContentType):
		cl.Kind = KindRemoteAsset
	}
	return cl
}

// HeadInfo is the best-effort result of a HEAD request.
type HeadInfo struct {
	ContentType   string
	ContentLength int64 // -1 = unknown
	FinalURL      string
}

// ProbeHead issues a HEAD request. Failures yield unknown length and type.
func ProbeHead(ctx context.Context, client *http.Client, rawURL string, timeout time.Duration) HeadInfo {
	info := HeadInfo{ContentLength: -1, FinalURL: rawURL}
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return info
	}
	SetBrowserHeaders(req, acceptAny)
	resp, err := client.Do(req)
	if err != nil {
		slog.Debug("head probe failed", slog.String("url", rawURL), slog.Any("error", err))
		return info
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return info
	}
	info.ContentType = resp.Header.Get("Content-Type")
	if resp.ContentLength >= 0 {
		info.ContentLength = resp.ContentLength
	}
	if resp.Request != nil && resp.Request.URL != nil {
		info.FinalURL = resp.Request.URL.String()
	}
	return info
}
