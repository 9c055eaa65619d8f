package sources

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/anatolykoptev/go_extract/internal/engine"
)

const (
	downloadChunkSize    = 64 << 10
	mediaDownloadTimeout = 10 * time.Minute
)

// Download is a media body bounded by a byte budget.
type Download struct {
	Data        []byte // nil for DownloadToFile
	Bytes       int64
	TotalBytes  int64 // declared length, -1 = unknown
	ContentType string
	Truncated   bool
}

// openMedia issues the GET and validates the status.
func openMedia(ctx context.Context, client *http.Client, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	engine.SetBrowserHeaders(req, "audio/*,video/*;q=0.9,*/*;q=0.8")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, &engine.DownloadFailedError{URL: rawURL, Status: resp.StatusCode}
	}
	return resp, nil
}

// copyCapped streams body into w until EOF or maxBytes. Zero-length reads are
// skipped; reaching the cap stops reading and reports truncation.
func copyCapped(ctx context.Context, w io.Writer, body io.Reader, maxBytes, total int64, rawURL string, onProgress engine.ProgressFunc) (int64, bool, error) {
	if maxBytes <= 0 {
		maxBytes = engine.DefaultMaxMediaBytes
	}
	buf := make([]byte, downloadChunkSize)
	var n int64
	for {
		if err := ctx.Err(); err != nil {
			return n, false, err
		}
		read, err := body.Read(buf)
		if read > 0 {
			chunk := buf[:read]
			truncated := false
			if remaining := maxBytes - n; int64(read) >= remaining {
				chunk = chunk[:remaining]
				truncated = int64(read) > remaining || total > maxBytes
			}
			if _, werr := w.Write(chunk); werr != nil {
				return n, false, fmt.Errorf("write media: %w", werr)
			}
			n += int64(len(chunk))
			onProgress.Emit(engine.ProgressEvent{
				Kind:            engine.ProgressMediaDownload,
				URL:             rawURL,
				BytesDownloaded: n,
				TotalBytes:      total,
			})
			if n >= maxBytes {
				if !truncated {
					truncated = !atEOF(body, err)
				}
				return n, truncated, nil
			}
		}
		if errors.Is(err, io.EOF) {
			return n, false, nil
		}
		if err != nil {
			return n, false, err
		}
	}
}

// atEOF peeks one byte to tell an exact-size body from a longer one.
func atEOF(body io.Reader, lastErr error) bool {
	if errors.Is(lastErr, io.EOF) {
		return true
	}
	var one [1]byte
	for range 3 {
		k, err := body.Read(one[:])
		if k > 0 {
			return false
		}
		if err != nil {
			return true
		}
	}
	return false
}

// DownloadCapped reads at most maxBytes of rawURL into memory.
func DownloadCapped(ctx context.Context, client *http.Client, rawURL string, maxBytes int64, timeout time.Duration, onProgress engine.ProgressFunc) (*Download, error) {
	if timeout <= 0 {
		timeout = mediaDownloadTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := openMedia(ctx, client, rawURL)
	if err != nil {
		return nil, engine.AsTimeout(ctx, rawURL, timeout, err)
	}
	// Closing after an early stop aborts the transfer; its error is irrelevant.
	defer func() { _ = resp.Body.Close() }()

	d := &Download{TotalBytes: resp.ContentLength, ContentType: resp.Header.Get("Content-Type")}
	var buf bytes.Buffer
	if d.TotalBytes > 0 && d.TotalBytes <= maxBytes {
		buf.Grow(int(d.TotalBytes))
	}
	n, truncated, err := copyCapped(ctx, &buf, resp.Body, maxBytes, d.TotalBytes, rawURL, onProgress)
	if err != nil {
		return nil, engine.AsTimeout(ctx, rawURL, timeout, err)
	}
	d.Data, d.Bytes, d.Truncated = buf.Bytes(), n, truncated
	engine.AddMediaDownload(n)
	if truncated {
		slog.Info("media download truncated at cap",
			slog.String("url", rawURL), slog.Int64("bytes", n), slog.Int64("declared", d.TotalBytes))
	}
	return d, nil
}

// DownloadToFile streams rawURL into path, stopping at maxBytes.
func DownloadToFile(ctx context.Context, client *http.Client, rawURL, path string, maxBytes int64, timeout time.Duration, onProgress engine.ProgressFunc) (*Download, error) {
	if timeout <= 0 {
		timeout = mediaDownloadTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := openMedia(ctx, client, rawURL)
	if err != nil {
		return nil, engine.AsTimeout(ctx, rawURL, timeout, err)
	}
	defer func() { _ = resp.Body.Close() }()

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	n, truncated, err := copyCapped(ctx, f, resp.Body, maxBytes, resp.ContentLength, rawURL, onProgress)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close %s: %w", path, cerr)
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, engine.AsTimeout(ctx, rawURL, timeout, err)
	}
	engine.AddMediaDownload(n)
	return &Download{
		Bytes:       n,
		TotalBytes:  resp.ContentLength,
		ContentType: resp.Header.Get("Content-Type"),
		Truncated:   truncated,
	}, nil
}
