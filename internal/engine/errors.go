package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoContent is returned when neither direct fetch nor any fallback produced text.
var ErrNoContent = errors.New("could not fetch any content for this URL")

// FetchError is a non-2xx response from a document fetch.
type FetchError struct {
	URL    string
	Status int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.Status)
}

// UnsupportedContentTypeError is returned for responses that are not HTML.
type UnsupportedContentTypeError struct {
	URL         string
	ContentType string
}

func (e *UnsupportedContentTypeError) Error() string {
	return fmt.Sprintf("unsupported content type %q for %s", e.ContentType, e.URL)
}

// FetchTimeoutError is a deadline expiry, distinct from network failures.
type FetchTimeoutError struct {
	URL     string
	Timeout time.Duration
}

func (e *FetchTimeoutError) Error() string {
	return fmt.Sprintf("fetch %s: timed out after %s", e.URL, e.Timeout)
}

// ProcessTimeoutError is an external tool (ffmpeg, yt-dlp) killed at its deadline.
type ProcessTimeoutError struct {
	Process string
	Timeout time.Duration
}

func (e *ProcessTimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %s", e.Process, e.Timeout)
}

// DownloadFailedError is a non-2xx response from a media download.
type DownloadFailedError struct {
	URL    string
	Status int
}

func (e *DownloadFailedError) Error() string {
	return fmt.Sprintf("download %s: HTTP %d", e.URL, e.Status)
}

// MissingCredentialsError is returned when transcription is needed but no key is configured.
type MissingCredentialsError struct {
	Reason string
}

func (e *MissingCredentialsError) Error() string {
	if e.Reason == "" {
		return "missing transcription credentials"
	}
	return "missing transcription credentials: " + e.Reason
}

// ProviderExhaustedError reports that every tier of a provider chain failed.
type ProviderExhaustedError struct {
	Provider  string
	Attempted []TranscriptSource
}

func (e *ProviderExhaustedError) Error() string {
	names := make([]string, len(e.Attempted))
	for i, s := range e.Attempted {
		names[i] = string(s)
	}
	return fmt.Sprintf("%s transcript unavailable (tried: %s)", e.Provider, strings.Join(names, ", "))
}

// ExtractError is a request-level failure carrying the accumulated diagnostics.
type ExtractError struct {
	URL         string
	Err         error
	Diagnostics Diagnostics
}

func (e *ExtractError) Error() string {
	var notes []string
	notes = append(notes, e.Diagnostics.Firecrawl.Notes...)
	notes = append(notes, e.Diagnostics.Transcript.Notes...)
	if len(notes) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s (%s)", e.Err.Error(), strings.Join(notes, "; "))
}

func (e *ExtractError) Unwrap() error { return e.Err }

// asTimeout converts a deadline expiry into *FetchTimeoutError; other errors pass through.
func asTimeout(ctx context.Context, rawURL string, timeout time.Duration, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &FetchTimeoutError{URL: rawURL, Timeout: timeout}
	}
	return err
}

// AsTimeout is asTimeout for sub-packages.
func AsTimeout(ctx context.Context, rawURL string, timeout time.Duration, err error) error {
	return asTimeout(ctx, rawURL, timeout, err)
}
