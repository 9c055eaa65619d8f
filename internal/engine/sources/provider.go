package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/anatolykoptev/go_extract/internal/engine"
)

// ProviderContext is what a provider sees of the current request.
type ProviderContext struct {
	URL            string // canonical URL after redirects
	HTML           string // fetched page, may be empty
	Meta           engine.PageMetadata
	Classification engine.Classification
	Request        engine.ExtractionRequest
}

// TranscriptProvider resolves a transcript for one resource family.
// Fetch never fails: failures are reported through the resolution's notes,
// with Source naming the last tier attempted.
type TranscriptProvider interface {
	// Name is also the cache service.
	Name() string
	CanHandle(pc *ProviderContext) bool
	Fetch(ctx context.Context, pc *ProviderContext) engine.TranscriptResolution
}

// getBody issues a GET with a per-call deadline and returns the body on 2xx.
func getBody(ctx context.Context, client *http.Client, rawURL string, headers map[string]string, timeout time.Duration, limit int64) ([]byte, error) {
	if timeout <= 0 {
		timeout = engine.DefaultFetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	engine.SetBrowserHeaders(req, "")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, engine.AsTimeout(ctx, rawURL, timeout, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &engine.FetchError{URL: rawURL, Status: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, engine.AsTimeout(ctx, rawURL, timeout, err)
	}
	return body, nil
}
