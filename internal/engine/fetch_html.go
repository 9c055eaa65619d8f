package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const fetchChunkSize = 32 << 10

// HTMLFetcher retrieves HTML documents with a deadline and progress reporting.
type HTMLFetcher struct {
	Client   *http.Client
	Timeout  time.Duration
	MaxBytes int64
}

// NewHTMLFetcher builds a fetcher from cfg.
func NewHTMLFetcher(cfg Config) *HTMLFetcher {
	cfg = cfg.WithDefaults()
	return &HTMLFetcher{Client: cfg.HTTPClient, Timeout: cfg.FetchTimeout, MaxBytes: MaxHTMLBytes}
}

// Fetch downloads rawURL and returns it as a FetchedDocument.
//
// Non-2xx responses fail with *FetchError, non-HTML responses with
// *UnsupportedContentTypeError and deadline expiry with *FetchTimeoutError.
// onProgress receives at most one event per body chunk.
func (f *HTMLFetcher) Fetch(ctx context.Context, rawURL string, timeout time.Duration, onProgress ProgressFunc) (doc *FetchedDocument, err error) {
	metrics.FetchRequests.Add(1)
	defer func() {
		if err != nil {
			metrics.FetchErrors.Add(1)
		}
	}()
	if timeout <= 0 {
		timeout = f.Timeout
	}
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	onProgress.Emit(ProgressEvent{Kind: ProgressFetchStart, URL: rawURL, TotalBytes: -1})
	resp, cancel, err := getWithTimeout(ctx, client, rawURL, acceptHTML, timeout)
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			return nil, err
		}
		var te *FetchTimeoutError
		if errors.As(err, &te) {
			return nil, err
		}
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer cancel()
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{URL: rawURL, Status: resp.StatusCode}
	}
	ct := resp.Header.Get("Content-Type")
	if !IsHTMLContentType(ct) {
		return nil, &UnsupportedContentTypeError{URL: rawURL, ContentType: ct}
	}

	body, err := readWithProgress(resp, f.maxBytes(), rawURL, ProgressFetchProgress, onProgress)
	if err != nil {
		return nil, asTimeout(resp.Request.Context(), rawURL, timeout, fmt.Errorf("read %s: %w", rawURL, err))
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	if finalURL != rawURL {
		slog.Debug("fetch redirected", slog.String("from", rawURL), slog.String("to", finalURL))
	}
	onProgress.Emit(ProgressEvent{Kind: ProgressFetchDone, URL: finalURL, BytesDownloaded: int64(len(body)), TotalBytes: resp.ContentLength})
	return &FetchedDocument{FinalURL: finalURL, HTML: string(body), ContentType: ct}, nil
}

func (f *HTMLFetcher) maxBytes() int64 {
	if f.MaxBytes > 0 {
		return f.MaxBytes
	}
	return MaxHTMLBytes
}

// readWithProgress reads up to limit bytes, emitting one event per chunk read.
func readWithProgress(resp *http.Response, limit int64, rawURL string, kind ProgressKind, onProgress ProgressFunc) ([]byte, error) {
	total := resp.ContentLength
	if total < 0 {
		total = -1
	}
	if onProgress == nil {
		return io.ReadAll(io.LimitReader(resp.Body, limit))
	}
	var sb strings.Builder
	buf := make([]byte, fetchChunkSize)
	var read int64
	r := io.LimitReader(resp.Body, limit)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			sb.Write(buf[:n])
			read += int64(n)
			onProgress.Emit(ProgressEvent{Kind: kind, URL: rawURL, BytesDownloaded: read, TotalBytes: total})
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return []byte(sb.String()), nil
}
