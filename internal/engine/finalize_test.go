package engine

import (
	"strings"
	"testing"
)

func TestFinalizeContentTranscriptWins(t *testing.T) {
	out := FinalizeContent(FinalizeInput{
		URL:  "https://youtu.be/dQw4w9WgXcQ",
		Meta: PageMetadata{Title: "Video"},
		Body: "article body",
		Transcript: TranscriptResolution{
			Text:     "Hello   world.\n\n  Second line ",
			Source:   SourceCaptionTracks,
			Metadata: map[string]any{"language": "en"},
		},
	})
	want := "Transcript:\nHello world.\nSecond line"
	if out.Content != want {
		t.Errorf("Content = %q, want %q", out.Content, want)
	}
	if out.TranscriptLines != 2 || out.TranscriptWordCount != 4 {
		t.Errorf("transcript stats = %d lines / %d words", out.TranscriptLines, out.TranscriptWordCount)
	}
	if out.TranscriptCharacters != len("Hello world.\nSecond line") {
		t.Errorf("TranscriptCharacters = %d", out.TranscriptCharacters)
	}
	if out.TranscriptSource != SourceCaptionTracks || !out.Diagnostics.Transcript.TextProvided {
		t.Errorf("source = %q, textProvided = %v", out.TranscriptSource, out.Diagnostics.Transcript.TextProvided)
	}
	if out.WordCount != 5 || out.TotalCharacters != len([]rune(want)) {
		t.Errorf("WordCount = %d, TotalCharacters = %d", out.WordCount, out.TotalCharacters)
	}
}

func TestFinalizeContentBody(t *testing.T) {
	tests := []struct {
		name  string
		title string
		body  string
		want  string
	}{
		{"strips exact title line", "Real Title", "Real Title\n\nReal content.", "Real content."},
		{"keeps markdown heading", "Real Title", "# Real Title\n\nReal content.", "# Real Title\n\nReal content."},
		{"keeps non-matching first line", "Other", "Real Title\nReal content.", "Real Title\nReal content."},
		{"collapses blank lines", "", "a\r\n\r\n\r\n\r\nb  ", "a\n\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := FinalizeContent(FinalizeInput{Meta: PageMetadata{Title: tt.title}, Body: tt.body})
			if out.Content != tt.want {
				t.Errorf("Content = %q, want %q", out.Content, tt.want)
			}
			if out.TranscriptSource != "" || out.Diagnostics.Transcript.TextProvided {
				t.Error("no transcript expected")
			}
		})
	}
}

func TestFinalizeContentTruncation(t *testing.T) {
	body := strings.Repeat("word ", 100)
	out := FinalizeContent(FinalizeInput{Body: body, MaxCharacters: 50})
	if !out.Truncated {
		t.Fatal("expected truncation")
	}
	if out.TotalCharacters != len(strings.TrimSpace(body)) {
		t.Errorf("TotalCharacters = %d, want pre-truncation length", out.TotalCharacters)
	}
	if n := len([]rune(out.Content)); n > 50+len(truncationSuffix) {
		t.Errorf("content length %d exceeds limit", n)
	}
}
