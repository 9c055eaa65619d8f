package sources

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anatolykoptev/go_extract/internal/engine"
)

func TestFalTranscriber(t *testing.T) {
	var got falRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"text":"","chunks":[{"text":"hello"},{"text":"world"}]}`))
	}))
	defer srv.Close()

	ft := NewFalTranscriber("secret", srv.Client())
	ft.Endpoint = srv.URL
	text, err := ft.Transcribe(context.Background(), "audio.m4a", []byte("abc"))
	if err != nil {
		t.Fatal(err)
	}
	if text != "hello world" {
		t.Errorf("text = %q", text)
	}
	if auth != "Key secret" {
		t.Errorf("auth = %q", auth)
	}
	if !strings.HasPrefix(got.AudioURL, "data:audio/mp4;base64,") {
		t.Errorf("audio_url = %q", got.AudioURL)
	}
}

func TestFalTranscriberHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusPaymentRequired)
	}))
	defer srv.Close()

	ft := NewFalTranscriber("k", srv.Client())
	ft.Endpoint = srv.URL
	_, err := ft.Transcribe(context.Background(), "a.mp3", []byte("abc"))
	if err == nil || !strings.Contains(err.Error(), "402") {
		t.Fatalf("err = %v", err)
	}
}

func TestTranscribeWithFallsBack(t *testing.T) {
	bad := &fakeTranscriber{name: "first", err: errors.New("boom")}
	empty := &fakeTranscriber{name: "second"}
	good := &fakeTranscriber{name: "third", text: "ok"}

	text, err := transcribeWith(context.Background(), []Transcriber{bad, empty, good}, "a.mp3", []byte("x"))
	if err != nil || text != "ok" {
		t.Fatalf("text=%q err=%v", text, err)
	}
	if len(bad.calls) != 1 || len(empty.calls) != 1 || len(good.calls) != 1 {
		t.Errorf("calls = %d %d %d", len(bad.calls), len(empty.calls), len(good.calls))
	}

	_, err = transcribeWith(context.Background(), []Transcriber{bad, empty}, "a.mp3", []byte("x"))
	if err == nil || !strings.Contains(err.Error(), "first: boom") || !strings.Contains(err.Error(), "second: empty transcript") {
		t.Errorf("joined err = %v", err)
	}
}

func TestTranscribeWithNoTranscribers(t *testing.T) {
	_, err := transcribeWith(context.Background(), nil, "a.mp3", []byte("x"))
	var mce *engine.MissingCredentialsError
	if !errors.As(err, &mce) {
		t.Fatalf("err = %v", err)
	}
}

func TestNewTranscribersOrder(t *testing.T) {
	ts := NewTranscribers(engine.Config{FalAPIKey: "f", OpenAIAPIKey: "o"})
	if len(ts) != 2 || ts[0].Name() != "fal" || ts[1].Name() != "openai" {
		names := make([]string, len(ts))
		for i, tr := range ts {
			names[i] = tr.Name()
		}
		t.Errorf("order = %v", names)
	}
	if got := NewTranscribers(engine.Config{}); len(got) != 0 {
		t.Errorf("expected none, got %d", len(got))
	}
}
