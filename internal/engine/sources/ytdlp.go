package sources

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/anatolykoptev/go_extract/internal/engine"
)

const (
	ytDlpSubtitleTimeout = 90 * time.Second
	ytDlpAudioTimeout    = 10 * time.Minute
)

// YtDlp runs the external yt-dlp downloader.
type YtDlp struct {
	Path string
}

// NewYtDlp returns nil when no binary path is configured.
func NewYtDlp(path string) *YtDlp {
	if path == "" {
		return nil
	}
	return &YtDlp{Path: path}
}

// run executes yt-dlp under ctx; timeout only labels a deadline expiry.
func (y *YtDlp) run(ctx context.Context, timeout time.Duration, args ...string) error {
	cmd := exec.CommandContext(ctx, y.Path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &engine.ProcessTimeoutError{Process: "yt-dlp", Timeout: timeout}
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		if len(msg) > 300 {
			msg = msg[:300]
		}
		return fmt.Errorf("yt-dlp: %s", msg)
	}
	return nil
}

// Subtitles downloads English subtitles, manual first then auto-generated,
// and returns the parsed text plus the language taken from the file name.
func (y *YtDlp) Subtitles(ctx context.Context, videoURL string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, ytDlpSubtitleTimeout)
	defer cancel()

	tmpDir, err := os.MkdirTemp("", "extract-subs-*")
	if err != nil {
		return "", "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	var lastErr error
	for _, subType := range []string{"--write-subs", "--write-auto-subs"} {
		err := y.run(ctx, ytDlpSubtitleTimeout,
			"--skip-download",
			subType,
			"--sub-langs", "en.*,en",
			"--sub-format", "vtt",
			"--output", filepath.Join(tmpDir, "%(id)s"),
			"--no-warnings",
			"--no-playlist",
			videoURL,
		)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		matches, _ := filepath.Glob(filepath.Join(tmpDir, "*.vtt"))
		if len(matches) == 0 {
			matches, _ = filepath.Glob(filepath.Join(tmpDir, "*.srt"))
		}
		for _, m := range matches {
			data, err := os.ReadFile(m)
			if err != nil {
				lastErr = err
				continue
			}
			if text := ParseCaptions(string(data)); text != "" {
				return text, subtitleLang(m), nil
			}
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no subtitles available")
	}
	return "", "", lastErr
}

// subtitleLang reads "en" from "<id>.en.vtt".
func subtitleLang(path string) string {
	parts := strings.Split(filepath.Base(path), ".")
	if len(parts) >= 3 {
		return parts[len(parts)-2]
	}
	return ""
}

// ExtractAudio downloads the audio track as mp3 into dir and returns its path.
func (y *YtDlp) ExtractAudio(ctx context.Context, mediaURL, dir string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, ytDlpAudioTimeout)
	defer cancel()

	err := y.run(ctx, ytDlpAudioTimeout,
		"--extract-audio",
		"--audio-format", "mp3",
		"--audio-quality", "5",
		"--output", filepath.Join(dir, "audio.%(ext)s"),
		"--no-playlist",
		"--quiet",
		mediaURL,
	)
	if err != nil {
		return "", err
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "audio.*"))
	if len(matches) == 0 {
		return "", errors.New("yt-dlp produced no audio file")
	}
	return matches[0], nil
}
