package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ScrapeOptions are passed to a scrape capability.
type ScrapeOptions struct {
	CacheMode CacheMode
	Timeout   time.Duration
}

// ScrapeResult is a paid-scrape payload.
type ScrapeResult struct {
	Markdown string
	HTML     string
	Metadata map[string]any
}

// MetaString returns metadata[key] when it is a non-empty string.
func (r *ScrapeResult) MetaString(key string) string {
	if r == nil || r.Metadata == nil {
		return ""
	}
	switch v := r.Metadata[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case []any:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

// ScrapeFunc scrapes a URL. A nil result with nil error means "nothing usable".
type ScrapeFunc func(ctx context.Context, rawURL string, opts ScrapeOptions) (*ScrapeResult, error)

// FetchWithFirecrawl invokes scrape as a fallback and never fails.
// YouTube URLs and a nil scrape are skipped. reason is recorded in the notes.
func FetchWithFirecrawl(ctx context.Context, rawURL string, scrape ScrapeFunc, opts ScrapeOptions, reason string, onProgress ProgressFunc) (*ScrapeResult, FirecrawlDiagnostics) {
	diag := FirecrawlDiagnostics{CacheMode: opts.CacheMode}
	if diag.CacheMode == "" {
		diag.CacheMode = CacheDefault
	}
	if IsYouTubeURL(rawURL) {
		diag.Note("Skipped Firecrawl for YouTube URL")
		return nil, diag
	}
	if scrape == nil {
		diag.Note("Firecrawl is not configured")
		return nil, diag
	}

	diag.Attempted = true
	metrics.FirecrawlCalls.Add(1)
	onProgress.Emit(ProgressEvent{Kind: ProgressFirecrawlStart, URL: rawURL, Note: reason})

	res, err := scrape(ctx, rawURL, opts)
	switch {
	case err != nil:
		metrics.FirecrawlErrors.Add(1)
		slog.Warn("firecrawl failed", slog.String("url", rawURL), slog.String("reason", reason), slog.Any("error", err))
		diag.Note("Firecrawl failed (%s): %v", reason, err)
		res = nil
	case res == nil || (strings.TrimSpace(res.Markdown) == "" && strings.TrimSpace(res.HTML) == ""):
		diag.Note("Firecrawl returned no content (%s)", reason)
		res = nil
	default:
		diag.Used = true
		diag.Note("Firecrawl used (%s)", reason)
	}
	onProgress.Emit(ProgressEvent{Kind: ProgressFirecrawlDone, URL: rawURL, Note: reason})
	return res, diag
}

// FirecrawlClient calls the Firecrawl scrape API.
type FirecrawlClient struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

type firecrawlScrapeReq struct {
	URL             string   `json:"url"`
	Formats         []string `json:"formats"`
	OnlyMainContent bool     `json:"onlyMainContent"`
	Timeout         int64    `json:"timeout,omitempty"`
	MaxAge          *int64   `json:"maxAge,omitempty"`
}

type firecrawlScrapeResp struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    struct {
		Markdown string         `json:"markdown"`
		HTML     string         `json:"html"`
		RawHTML  string         `json:"rawHtml"`
		Metadata map[string]any `json:"metadata"`
	} `json:"data"`
}

// NewFirecrawlClient returns nil when apiKey is empty.
func NewFirecrawlClient(apiKey, baseURL string, client *http.Client) *FirecrawlClient {
	if apiKey == "" {
		return nil
	}
	if baseURL == "" {
		baseURL = "https://api.firecrawl.dev"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &FirecrawlClient{APIKey: apiKey, BaseURL: strings.TrimRight(baseURL, "/"), Client: client}
}

// ScrapeFunc adapts c to ScrapeFunc; a nil client yields a nil func.
func (c *FirecrawlClient) ScrapeFunc() ScrapeFunc {
	if c == nil {
		return nil
	}
	return c.Scrape
}

// Scrape POSTs /v1/scrape asking for markdown and html.
func (c *FirecrawlClient) Scrape(ctx context.Context, rawURL string, opts ScrapeOptions) (*ScrapeResult, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	reqBody := firecrawlScrapeReq{
		URL:             rawURL,
		Formats:         []string{"markdown", "html"},
		OnlyMainContent: true,
		Timeout:         timeout.Milliseconds(),
	}
	if opts.CacheMode == CacheBypass {
		zero := int64(0)
		reqBody.MaxAge = &zero
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("firecrawl: marshal: %w", err)
	}

	// Firecrawl's own timeout plus network slack.
	ctx, cancel := context.WithTimeout(ctx, timeout+10*time.Second)
	defer cancel()

	resp, err := DoWithRetry(ctx, c.Client, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/scrape", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", UserAgentBot)
		return req, nil
	})
	if err != nil {
		return nil, asTimeout(ctx, rawURL, timeout, fmt.Errorf("firecrawl: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxHTMLBytes))
	if err != nil {
		return nil, fmt.Errorf("firecrawl: read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("firecrawl: status %d: %s", resp.StatusCode, Truncate(string(body), 200))
	}
	var out firecrawlScrapeResp
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("firecrawl: decode: %w", err)
	}
	if !out.Success {
		if out.Error != "" {
			return nil, fmt.Errorf("firecrawl: %s", out.Error)
		}
		return nil, nil
	}
	html := out.Data.HTML
	if html == "" {
		html = out.Data.RawHTML
	}
	return &ScrapeResult{Markdown: out.Data.Markdown, HTML: html, Metadata: out.Data.Metadata}, nil
}
