// Package toolutil turns loosely typed tool and flag options into engine
// extraction requests. Shared by the MCP tools and the CLI.
package toolutil

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/anatolykoptev/go_extract/internal/engine"
)

// RequestOptions are the user-facing knobs of one extraction.
// Empty strings select the defaults.
type RequestOptions struct {
	URL           string
	Timeout       time.Duration
	YouTube       string
	Firecrawl     string
	Media         string
	Cache         string
	MaxCharacters int
}

// BuildRequest validates opts and returns the matching request.
func BuildRequest(opts RequestOptions) (engine.ExtractionRequest, error) {
	raw := strings.TrimSpace(opts.URL)
	if raw == "" {
		return engine.ExtractionRequest{}, fmt.Errorf("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return engine.ExtractionRequest{}, fmt.Errorf("url must be an absolute http(s) URL: %q", raw)
	}
	if opts.Timeout < 0 {
		return engine.ExtractionRequest{}, fmt.Errorf("timeout must not be negative")
	}
	if opts.MaxCharacters < 0 {
		return engine.ExtractionRequest{}, fmt.Errorf("maxCharacters must not be negative")
	}

	req := engine.ExtractionRequest{
		URL:           raw,
		Timeout:       opts.Timeout,
		MaxCharacters: opts.MaxCharacters,
	}
	if req.YouTubeMode, err = pick("youtube", opts.YouTube, engine.YouTubeAuto,
		engine.YouTubeAuto, engine.YouTubeWeb, engine.YouTubeApify, engine.YouTubeYtDlp); err != nil {
		return req, err
	}
	if req.FirecrawlMode, err = pick("firecrawl", opts.Firecrawl, engine.FirecrawlAuto,
		engine.FirecrawlOff, engine.FirecrawlAuto, engine.FirecrawlAlways); err != nil {
		return req, err
	}
	if req.MediaTranscriptMode, err = pick("media", opts.Media, engine.MediaAuto,
		engine.MediaAuto, engine.MediaPrefer, engine.MediaOff); err != nil {
		return req, err
	}
	if req.CacheMode, err = pick("cache", opts.Cache, engine.CacheDefault,
		engine.CacheDefault, engine.CacheBypass); err != nil {
		return req, err
	}
	return req, nil
}

// pick matches v case-insensitively against allowed; empty yields def.
func pick[T ~string](field, v string, def T, allowed ...T) (T, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return def, nil
	}
	names := make([]string, len(allowed))
	for i, a := range allowed {
		if string(a) == v {
			return a, nil
		}
		names[i] = string(a)
	}
	return def, fmt.Errorf("%s must be one of %s, got %q", field, strings.Join(names, ", "), v)
}
