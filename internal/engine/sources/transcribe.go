package sources

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/anatolykoptev/go_extract/internal/engine"
)

const (
	transcribeTimeout = 5 * time.Minute
	falDefaultURL     = "https://fal.run/fal-ai/wizper"
)

// Transcriber turns one audio file into text.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, filename string, audio []byte) (string, error)
}

// NewTranscribers returns the configured transcribers in preference order:
// fal first, then OpenAI Whisper.
func NewTranscribers(cfg engine.Config) []Transcriber {
	var out []Transcriber
	if cfg.FalAPIKey != "" {
		out = append(out, NewFalTranscriber(cfg.FalAPIKey, cfg.HTTPClient))
	}
	if cfg.OpenAIAPIKey != "" {
		out = append(out, NewOpenAITranscriber(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.HTTPClient))
	}
	return out
}

// transcribeWith tries each transcriber in order until one returns text.
func transcribeWith(ctx context.Context, ts []Transcriber, filename string, audio []byte) (string, error) {
	if len(ts) == 0 {
		return "", &engine.MissingCredentialsError{Reason: "set FAL_KEY or OPENAI_API_KEY"}
	}
	var errs []error
	for _, t := range ts {
		text, err := t.Transcribe(ctx, filename, audio)
		if err == nil && strings.TrimSpace(text) != "" {
			engine.IncrTranscriptions()
			return text, nil
		}
		if err == nil {
			err = errors.New("empty transcript")
		}
		slog.Warn("transcription failed", slog.String("provider", t.Name()), slog.Any("err", err))
		errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	return "", errors.Join(errs...)
}

func audioContentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".m4a", ".mp4", ".aac":
		return "audio/mp4"
	case ".ogg", ".opus":
		return "audio/ogg"
	case ".wav":
		return "audio/wav"
	case ".webm":
		return "audio/webm"
	case ".flac":
		return "audio/flac"
	}
	return "audio/mpeg"
}

// --- OpenAI Whisper ---

// OpenAITranscriber calls the audio transcription endpoint via openai-go.
type OpenAITranscriber struct {
	client openai.Client
	model  openai.AudioModel
}

func NewOpenAITranscriber(apiKey, baseURL string, httpClient *http.Client) *OpenAITranscriber {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(transcribeTimeout),
		option.WithMaxRetries(1),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &OpenAITranscriber{client: openai.NewClient(opts...), model: openai.AudioModelWhisper1}
}

func (t *OpenAITranscriber) Name() string { return "openai" }

func (t *OpenAITranscriber) Transcribe(ctx context.Context, filename string, audio []byte) (string, error) {
	resp, err := t.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(audio), filepath.Base(filename), audioContentType(filename)),
		Model: t.model,
	})
	if err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// --- fal.ai Wizper ---

// FalTranscriber posts audio as a data URI to a fal.ai speech model.
type FalTranscriber struct {
	APIKey   string
	Endpoint string
	Client   *http.Client
}

func NewFalTranscriber(apiKey string, client *http.Client) *FalTranscriber {
	if client == nil {
		client = engine.NewHTTPClient(0)
	}
	return &FalTranscriber{APIKey: apiKey, Endpoint: falDefaultURL, Client: client}
}

func (t *FalTranscriber) Name() string { return "fal" }

type falRequest struct {
	AudioURL string `json:"audio_url"`
	Task     string `json:"task"`
	Version  string `json:"version,omitempty"`
}

type falResponse struct {
	Text   string `json:"text"`
	Chunks []struct {
		Text string `json:"text"`
	} `json:"chunks"`
}

func (t *FalTranscriber) Transcribe(ctx context.Context, filename string, audio []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, transcribeTimeout)
	defer cancel()

	dataURI := "data:" + audioContentType(filename) + ";base64," + base64.StdEncoding.EncodeToString(audio)
	payload, err := json.Marshal(falRequest{AudioURL: dataURI, Task: "transcribe", Version: "3"})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Key "+t.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", engine.UserAgentBot)

	resp, err := t.Client.Do(req)
	if err != nil {
		return "", engine.AsTimeout(ctx, t.Endpoint, transcribeTimeout, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", fmt.Errorf("read fal response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fal: HTTP %d: %s", resp.StatusCode, engine.Truncate(string(body), 200))
	}
	var out falResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode fal response: %w", err)
	}
	if text := strings.TrimSpace(out.Text); text != "" {
		return text, nil
	}
	parts := make([]string, 0, len(out.Chunks))
	for _, c := range out.Chunks {
		parts = append(parts, strings.TrimSpace(c.Text))
	}
	return strings.TrimSpace(strings.Join(parts, " ")), nil
}
