package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/anatolykoptev/go_extract/internal/engine"
)

func sampleContent() *engine.ExtractedContent {
	return &engine.ExtractedContent{
		URL:              "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		Title:            "Never",
		Content:          "Transcript:\nHello world.",
		TotalCharacters:  24,
		TranscriptSource: engine.SourceCaptionTracks,
		Diagnostics: engine.Diagnostics{
			Strategy:   "html",
			Transcript: engine.TranscriptDiagnostics{CacheStatus: engine.CacheHit},
		},
	}
}

func TestRenderText(t *testing.T) {
	var buf bytes.Buffer
	if err := render(&buf, "text", sampleContent()); err != nil {
		t.Fatal(err)
	}
	got := buf.String()
	for _, want := range []string{"# Never\n", "strategy=html", "transcript=captionTracks", "cache=hit", "Transcript:\nHello world.\n"} {
		if !strings.Contains(got, want) {
			t.Errorf("text output missing %q:\n%s", want, got)
		}
	}
}

func TestRenderJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := render(&buf, "json", sampleContent()); err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if out["transcriptSource"] != "captionTracks" {
		t.Errorf("transcriptSource = %v", out["transcriptSource"])
	}
}

func TestRenderYAML(t *testing.T) {
	var buf bytes.Buffer
	if err := render(&buf, "yaml", sampleContent()); err != nil {
		t.Fatal(err)
	}
	var out struct {
		Title       string `yaml:"title"`
		Diagnostics struct {
			Transcript struct {
				CacheStatus string `yaml:"cacheStatus"`
			} `yaml:"transcript"`
		} `yaml:"diagnostics"`
	}
	if err := yaml.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("invalid yaml: %v", err)
	}
	if out.Title != "Never" || out.Diagnostics.Transcript.CacheStatus != "hit" {
		t.Errorf("decoded = %+v", out)
	}
}

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := progressPrinter(&buf)
	p(engine.ProgressEvent{Kind: engine.ProgressMediaDownload, BytesDownloaded: 10, TotalBytes: 100})
	p(engine.ProgressEvent{Kind: engine.ProgressTranscribePart, Provider: engine.SourceWhisper, Part: 2, Parts: 3})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}
	if lines[0] != "media-download-progress 10/100 bytes" {
		t.Errorf("line 0 = %q", lines[0])
	}
	if lines[1] != "transcribe-part [whisper] part 2/3" {
		t.Errorf("line 1 = %q", lines[1])
	}
}
