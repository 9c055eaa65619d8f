package engine

import (
	"fmt"
	"net/http"
	"time"

	fhttp "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
)

// BrowserTransport is an http.RoundTripper backed by tls-client with a Chrome
// TLS fingerprint. Requests appear as Chrome 131+ to JA3 fingerprinting.
type BrowserTransport struct {
	client tls_client.HttpClient
}

// NewBrowserTransport creates a transport that impersonates Chrome 131.
// Redirects are left to the wrapping http.Client.
func NewBrowserTransport(timeout time.Duration) (*BrowserTransport, error) {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	opts := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(int(timeout / time.Second)),
		tls_client.WithClientProfile(profiles.Chrome_131),
		tls_client.WithNotFollowRedirects(),
		tls_client.WithCookieJar(tls_client.NewCookieJar()),
	}
	client, err := tls_client.NewHttpClient(nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("tls-client init: %w", err)
	}
	return &BrowserTransport{client: client}, nil
}

// NewBrowserHTTPClient wraps a BrowserTransport in an *http.Client so every
// engine fetch goes through the fingerprinted stack.
func NewBrowserHTTPClient(timeout time.Duration) (*http.Client, error) {
	t, err := NewBrowserTransport(timeout)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: t}, nil
}

// RoundTrip implements http.RoundTripper.
func (t *BrowserTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	freq, err := toBrowserRequest(req)
	if err != nil {
		return nil, err
	}
	fresp, err := t.client.Do(freq)
	if err != nil {
		return nil, fmt.Errorf("tls request: %w", err)
	}
	return &http.Response{
		Status:        fresp.Status,
		StatusCode:    fresp.StatusCode,
		Proto:         fresp.Proto,
		ProtoMajor:    fresp.ProtoMajor,
		ProtoMinor:    fresp.ProtoMinor,
		Header:        http.Header(fresp.Header),
		Body:          fresp.Body,
		ContentLength: fresp.ContentLength,
		Request:       req,
	}, nil
}

// toBrowserRequest converts req, adding Chrome header order.
func toBrowserRequest(req *http.Request) (*fhttp.Request, error) {
	freq, err := fhttp.NewRequestWithContext(req.Context(), req.Method, req.URL.String(), req.Body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			freq.Header.Add(k, v)
		}
	}
	// Chrome-like header order matters for fingerprinting
	freq.Header[fhttp.HeaderOrderKey] = []string{
		"accept",
		"accept-language",
		"accept-encoding",
		"referer",
		"cookie",
		"user-agent",
	}
	return freq, nil
}
