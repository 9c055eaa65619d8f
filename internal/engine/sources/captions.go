package sources

import (
	"regexp"
	"strings"

	"github.com/anatolykoptev/go_extract/internal/engine"
)

// Cue-based caption parsing for WebVTT and SRT.

var (
	vttHeaderRe     = regexp.MustCompile(`^WEBVTT\b`)
	cueTimingRe     = regexp.MustCompile(`^(\d{1,2}:)?\d{2}:\d{2}[.,]\d{3}\s*-->\s*(\d{1,2}:)?\d{2}:\d{2}[.,]\d{3}`)
	cueIDRe         = regexp.MustCompile(`^\d+$`)
	vttMetadataRe   = regexp.MustCompile(`^(Kind|Language|NOTE|STYLE|REGION)\b`)
	captionMarkupRe = regexp.MustCompile(`<[^>]+>|\{\\[^}]*\}`)
)

// ParseCaptions converts VTT or SRT content into plain text, one line per
// cue. Rolling auto-caption repeats of the previous line are dropped.
func ParseCaptions(raw string) string {
	if raw == "" {
		return ""
	}
	raw = strings.TrimPrefix(raw, "\ufeff")

	var (
		out      []string
		cue      []string
		prevLine string
		inBlock  bool // inside a NOTE/STYLE/REGION block
	)
	flush := func() {
		if len(cue) == 0 {
			return
		}
		line := strings.Join(cue, " ")
		cue = cue[:0]
		if line != prevLine {
			out = append(out, line)
			prevLine = line
		}
	}

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(strings.TrimRight(line, "\r"))
		switch {
		case line == "":
			flush()
			inBlock = false
			continue
		case inBlock:
			continue
		case vttHeaderRe.MatchString(line):
			continue
		case vttMetadataRe.MatchString(line):
			inBlock = !strings.Contains(line, ":") || strings.HasPrefix(line, "NOTE")
			continue
		case cueTimingRe.MatchString(line):
			flush()
			continue
		case cueIDRe.MatchString(line):
			continue
		}
		line = strings.TrimSpace(captionMarkupRe.ReplaceAllString(line, ""))
		line = engine.DecodeEntities(line)
		if line == "" || line == prevLine {
			continue
		}
		cue = append(cue, line)
	}
	flush()
	return engine.NormalizeTranscript(strings.Join(out, "\n"))
}
