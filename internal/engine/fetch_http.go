package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	acceptHTML = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	acceptAny  = "*/*"
)

// NewHTTPClient creates an HTTP client with proper settings for web scraping.
// Per-call deadlines come from the request context; timeout is a hard ceiling.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 5,
			IdleConnTimeout:     60 * time.Second,
			TLSHandshakeTimeout: 15 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			return nil
		},
	}
}

// SetBrowserHeaders applies browser-like headers; accept may be empty.
func SetBrowserHeaders(req *http.Request, accept string) {
	if accept == "" {
		accept = acceptAny
	}
	req.Header.Set("User-Agent", RandomUserAgent())
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
}

// DoWithRetry sends the request built by build, retrying once on 429/5xx.
// Non-retryable statuses are returned to the caller with the body open.
func DoWithRetry(ctx context.Context, client *http.Client, build func(context.Context) (*http.Request, error)) (*http.Response, error) {
	operation := func() (*http.Response, error) {
		req, err := build(ctx)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if IsRetryableStatus(resp.StatusCode) {
			resp.Body.Close()
			return nil, &FetchError{URL: req.URL.String(), Status: resp.StatusCode}
		}
		return resp, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	resp, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(2))
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}
		return nil, err
	}
	return resp, nil
}

// getWithTimeout issues a GET bounded by timeout and converts deadline expiry into *FetchTimeoutError.
// The returned cancel func must be called once the body is consumed.
func getWithTimeout(ctx context.Context, client *http.Client, rawURL, accept string, timeout time.Duration) (*http.Response, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	resp, err := DoWithRetry(ctx, client, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		SetBrowserHeaders(req, accept)
		return req, nil
	})
	if err != nil {
		err = asTimeout(ctx, rawURL, timeout, err)
		cancel()
		return nil, func() {}, err
	}
	return resp, cancel, nil
}
