package sources

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/anatolykoptev/go_extract/internal/engine"
)

// needsPoToken reports whether a caption track URL requires a PoToken (browser-only).
// Tracks with &exp=xpe cannot be fetched server-side.
func needsPoToken(baseURL string) bool {
	return strings.Contains(baseURL, "&exp=xpe")
}

func isEnglish(lang string) bool {
	lang = strings.ToLower(lang)
	return lang == "en" || strings.HasPrefix(lang, "en-")
}

// orderTracks merges manual and automatic caption lists, keeps the first
// track per language code, drops PoToken-only tracks, and stable-sorts
// auto-generated tracks first with English first inside each group.
func orderTracks(manual, automatic []captionTrack) []captionTrack {
	seen := make(map[string]bool)
	out := make([]captionTrack, 0, len(manual)+len(automatic))
	for _, list := range [][]captionTrack{manual, automatic} {
		for _, t := range list {
			if t.BaseURL == "" || needsPoToken(t.BaseURL) {
				continue
			}
			lang := strings.ToLower(t.LanguageCode)
			if seen[lang] {
				continue
			}
			seen[lang] = true
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ai, aj := out[i].Kind == "asr", out[j].Kind == "asr"
		if ai != aj {
			return ai
		}
		return isEnglish(out[i].LanguageCode) && !isEnglish(out[j].LanguageCode)
	})
	return out
}

// --- caption payloads ---

type json3Captions struct {
	Events []struct {
		Segs []struct {
			UTF8 string `json:"utf8"`
		} `json:"segs"`
	} `json:"events"`
}

// ytTimedText covers both timedtext XML shapes: <transcript><text> and
// format 3 <timedtext><body><p>.
type ytTimedText struct {
	Lines []ytText `xml:"text"`
	Body  struct {
		Paragraphs []ytParagraph `xml:"p"`
	} `xml:"body"`
}

// ytText is a legacy cue; chardata arrives decoded once by the XML parser.
type ytText struct {
	Text string `xml:",chardata"`
}

// ytParagraph is a format 3 cue whose text may be split across <s> spans.
type ytParagraph struct {
	Inner string `xml:",innerxml"`
}

// parseJSON3 joins segments per event and events by newline.
func parseJSON3(data []byte) (string, error) {
	var c json3Captions
	if err := json.Unmarshal(data, &c); err != nil {
		return "", fmt.Errorf("parse json3: %w", err)
	}
	lines := make([]string, 0, len(c.Events))
	for _, ev := range c.Events {
		var sb strings.Builder
		for _, seg := range ev.Segs {
			sb.WriteString(seg.UTF8)
		}
		if line := strings.TrimSpace(sb.String()); line != "" {
			lines = append(lines, line)
		}
	}
	text := engine.NormalizeTranscript(strings.Join(lines, "\n"))
	if text == "" {
		return "", errors.New("json3 captions carry no text")
	}
	return text, nil
}

// parseTimedTextXML decodes XML captions. Timedtext payloads are escaped
// twice (it&amp;#39;s), so cue text is entity-decoded twice in total.
func parseTimedTextXML(data []byte) (string, error) {
	var tt ytTimedText
	if err := xml.Unmarshal(data, &tt); err != nil {
		return "", fmt.Errorf("parse timedtext XML: %w", err)
	}
	var out []string
	for _, line := range tt.Lines {
		if text := engine.CleanHTML(line.Text); text != "" {
			out = append(out, text)
		}
	}
	if len(out) == 0 {
		for _, p := range tt.Body.Paragraphs {
			// innerxml is raw markup: strip spans, then undo both escapes.
			if text := strings.TrimSpace(engine.DecodeEntities(engine.CleanHTML(p.Inner))); text != "" {
				out = append(out, text)
			}
		}
	}
	text := engine.NormalizeTranscript(strings.Join(out, "\n"))
	if text == "" {
		return "", errors.New("timedtext XML carries no text")
	}
	return text, nil
}

// withFormat returns the track URL with fmt set; empty format removes it.
func withFormat(baseURL, format string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return baseURL
	}
	q := u.Query()
	if format == "" {
		q.Del("fmt")
	} else {
		q.Set("fmt", format)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// downloadTrack fetches one track as json3, refetching it once as XML.
func (p *YouTubeProvider) downloadTrack(ctx context.Context, track captionTrack, timeout time.Duration) (string, error) {
	headers := map[string]string{"User-Agent": engine.UserAgentChrome}

	body, err := getBody(ctx, p.client, withFormat(track.BaseURL, "json3"), headers, timeout, ytMaxCaptionBytes)
	if err == nil {
		text, perr := parseJSON3(body)
		if perr == nil {
			return text, nil
		}
		err = perr
	}
	slog.Debug("youtube: json3 captions failed, refetching as XML",
		slog.String("lang", track.LanguageCode), slog.Any("err", err))

	body, err = getBody(ctx, p.client, withFormat(track.BaseURL, ""), headers, timeout, ytMaxCaptionBytes)
	if err != nil {
		return "", fmt.Errorf("fetch timedtext: %w", err)
	}
	return parseTimedTextXML(body)
}

// transcriptFromPlayer downloads the first working track of a player payload.
func (p *YouTubeProvider) transcriptFromPlayer(ctx context.Context, pr *playerResponse, res *engine.TranscriptResolution, timeout time.Duration) (string, error) {
	if reason := pr.unplayableReason(); reason != "" {
		res.Note("YouTube player status %s", reason)
	}
	tracks := orderTracks(pr.tracks())
	if len(tracks) == 0 {
		return "", errors.New("no usable caption tracks")
	}
	var lastErr error
	for _, t := range tracks {
		text, err := p.downloadTrack(ctx, t, timeout)
		if err != nil {
			lastErr = err
			res.Note("Caption track %s (%s) failed: %v", t.LanguageCode, trackKind(t), err)
			continue
		}
		res.SetMeta("language", t.LanguageCode)
		res.SetMeta("trackKind", trackKind(t))
		if d := pr.durationSeconds(); d > 0 {
			res.SetMeta("durationSeconds", d)
		}
		return text, nil
	}
	return "", fmt.Errorf("all %d caption tracks failed: %w", len(tracks), lastErr)
}

func trackKind(t captionTrack) string {
	if t.Kind == "asr" {
		return "asr"
	}
	return "manual"
}
