package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/anatolykoptev/go_extract/internal/engine"
)

const apifyDefaultBaseURL = "https://api.apify.com"

// ApifyClient runs a YouTube transcript actor synchronously and reads its dataset.
type ApifyClient struct {
	Token   string
	Actor   string
	BaseURL string
	Client  *http.Client
}

// NewApifyClient returns nil when no token is configured.
func NewApifyClient(token, actor string, client *http.Client) *ApifyClient {
	if token == "" || actor == "" {
		return nil
	}
	if client == nil {
		client = engine.NewHTTPClient(0)
	}
	return &ApifyClient{Token: token, Actor: actor, BaseURL: apifyDefaultBaseURL, Client: client}
}

type apifySegment struct {
	Text string `json:"text"`
}

// apifyItem accepts the dataset shapes of the common transcript actors.
type apifyItem struct {
	Transcript json.RawMessage `json:"transcript"`
	Captions   json.RawMessage `json:"captions"`
	Data       json.RawMessage `json:"data"`
	Text       string          `json:"text"`
}

// Transcript returns the joined transcript text for a video URL.
func (c *ApifyClient) Transcript(ctx context.Context, videoURL string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = engine.DefaultFetchTimeout
	}
	// Actor runs are slower than a page fetch.
	timeout *= 4
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(map[string]any{"videoUrl": videoURL})
	if err != nil {
		return "", err
	}
	actor := strings.ReplaceAll(c.Actor, "/", "~")
	endpoint := fmt.Sprintf("%s/v2/acts/%s/run-sync-get-dataset-items?token=%s",
		strings.TrimRight(c.BaseURL, "/"), url.PathEscape(actor), url.QueryEscape(c.Token))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", engine.UserAgentBot)
	resp, err := c.Client.Do(req)
	if err != nil {
		return "", engine.AsTimeout(ctx, videoURL, timeout, fmt.Errorf("apify run: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("apify run: HTTP %d: %s", resp.StatusCode, snippet)
	}

	var items []apifyItem
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&items); err != nil {
		return "", fmt.Errorf("decode apify dataset: %w", err)
	}
	for _, item := range items {
		if text := item.text(); text != "" {
			return text, nil
		}
	}
	return "", errors.New("apify dataset carries no transcript")
}

func (it apifyItem) text() string {
	for _, raw := range []json.RawMessage{it.Transcript, it.Captions, it.Data} {
		if text := segmentsText(raw); text != "" {
			return text
		}
	}
	return engine.NormalizeTranscript(it.Text)
}

// segmentsText decodes a string, a list of strings, or a list of {text} objects.
func segmentsText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return engine.NormalizeTranscript(s)
	}
	var segs []apifySegment
	if err := json.Unmarshal(raw, &segs); err == nil {
		lines := make([]string, 0, len(segs))
		for _, seg := range segs {
			lines = append(lines, engine.DecodeEntities(seg.Text))
		}
		return engine.NormalizeTranscript(strings.Join(lines, "\n"))
	}
	var strs []string
	if err := json.Unmarshal(raw, &strs); err == nil {
		return engine.NormalizeTranscript(strings.Join(strs, "\n"))
	}
	return ""
}
