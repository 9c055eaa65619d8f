package engine

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// FetchRawContent fetches a URL as plain text (no readability extraction).
// Used for remote text assets such as .md, .txt and JSON endpoints.
// HTML responses fail with *UnsupportedContentTypeError so the caller can reroute.
func FetchRawContent(ctx context.Context, client *http.Client, rawURL string, timeout time.Duration, onProgress ProgressFunc) (doc *FetchedDocument, err error) {
	metrics.FetchRequests.Add(1)
	defer func() {
		if err != nil {
			metrics.FetchErrors.Add(1)
		}
	}()
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}

	resp, cancel, err := getWithTimeout(ctx, client, rawURL, acceptAny, timeout)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{URL: rawURL, Status: resp.StatusCode}
	}
	ct := resp.Header.Get("Content-Type")
	if ct != "" && !IsTextAssetContentType(ct) {
		return nil, &UnsupportedContentTypeError{URL: rawURL, ContentType: ct}
	}

	body, err := readWithProgress(resp, MaxHTMLBytes, rawURL, ProgressFetchProgress, onProgress)
	if err != nil {
		return nil, asTimeout(resp.Request.Context(), rawURL, timeout, fmt.Errorf("read %s: %w", rawURL, err))
	}
	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return &FetchedDocument{FinalURL: finalURL, HTML: strings.TrimSpace(string(body)), ContentType: ct}, nil
}
