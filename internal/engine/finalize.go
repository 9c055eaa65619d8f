package engine

import "strings"

const truncationSuffix = "\n\n[content truncated]"

// FinalizeInput is everything the finalizer merges.
type FinalizeInput struct {
	URL           string
	Meta          PageMetadata
	Body          string // article or markdown body
	Transcript    TranscriptResolution
	Diagnostics   Diagnostics
	MaxCharacters int // 0 = unlimited
}

// FinalizeContent builds the terminal ExtractedContent.
// A resolved transcript replaces the body. Otherwise a leading line equal to
// the title is dropped from the body.
func FinalizeContent(in FinalizeInput) *ExtractedContent {
	out := &ExtractedContent{
		URL:         in.URL,
		Title:       strings.TrimSpace(in.Meta.Title),
		Description: strings.TrimSpace(in.Meta.Description),
		SiteName:    strings.TrimSpace(in.Meta.SiteName),
		Diagnostics: in.Diagnostics,
	}

	var content string
	if in.Transcript.Resolved() {
		transcript := NormalizeTranscript(in.Transcript.Text)
		content = "Transcript:\n" + transcript
		out.TranscriptCharacters = len([]rune(transcript))
		out.TranscriptLines = CountLines(transcript)
		out.TranscriptWordCount = CountWords(transcript)
		out.TranscriptSource = in.Transcript.Source
		out.TranscriptMetadata = in.Transcript.Metadata
	} else {
		content = stripLeadingTitle(NormalizeContent(in.Body), out.Title)
	}
	out.Diagnostics.Transcript.TextProvided = in.Transcript.Resolved()

	out.TotalCharacters = len([]rune(content))
	out.WordCount = CountWords(content)
	if in.MaxCharacters > 0 && out.TotalCharacters > in.MaxCharacters {
		content = TruncateRunes(content, in.MaxCharacters, truncationSuffix)
		out.Truncated = true
	}
	out.Content = content
	return out
}

// stripLeadingTitle drops the first line when it is exactly the title.
func stripLeadingTitle(body, title string) string {
	if title == "" || body == "" {
		return body
	}
	first, rest, _ := strings.Cut(body, "\n")
	if strings.TrimSpace(first) != title {
		return body
	}
	return strings.TrimSpace(rest)
}
