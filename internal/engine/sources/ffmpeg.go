package sources

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/anatolykoptev/go_extract/internal/engine"
)

const defaultTranscodeTimeout = 10 * time.Minute

var ffmpegDurationRe = regexp.MustCompile(`Duration:\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)

// Transcoder shells out to ffmpeg to shrink and split audio for upload.
type Transcoder struct {
	Path string
	// Timeout bounds each ffmpeg run; zero means 10 minutes.
	Timeout time.Duration
}

// NewTranscoder resolves ffmpeg from path or PATH; nil when unavailable.
func NewTranscoder(path string) *Transcoder {
	if path == "" {
		path = "ffmpeg"
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil
	}
	return &Transcoder{Path: resolved}
}

// encodeArgs are mono 16 kHz 48 kbps mp3, enough for speech recognition.
var encodeArgs = []string{"-vn", "-ac", "1", "-ar", "16000", "-b:a", "48k"}

func (t *Transcoder) run(ctx context.Context, args ...string) (string, error) {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = defaultTranscodeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, t.Path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return stderr.String(), &engine.ProcessTimeoutError{Process: "ffmpeg", Timeout: timeout}
	}
	return stderr.String(), err
}

// Duration reads the container duration from ffmpeg's stream summary.
// ffmpeg exits non-zero without an output file; only the banner matters.
func (t *Transcoder) Duration(ctx context.Context, in string) (time.Duration, error) {
	stderr, _ := t.run(ctx, "-hide_banner", "-i", in)
	d, ok := parseFFmpegDuration(stderr)
	if !ok {
		return 0, errors.New("ffmpeg reported no duration")
	}
	return d, nil
}

func parseFFmpegDuration(s string) (time.Duration, bool) {
	m := ffmpegDurationRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	h, _ := strconv.Atoi(m[1])
	mins, _ := strconv.Atoi(m[2])
	secs, _ := strconv.ParseFloat(m[3], 64)
	return time.Duration(h)*time.Hour + time.Duration(mins)*time.Minute +
		time.Duration(secs*float64(time.Second)), true
}

// Reencode writes a down-sampled copy of in to out.
func (t *Transcoder) Reencode(ctx context.Context, in, out string) error {
	args := append([]string{"-y", "-hide_banner", "-loglevel", "error", "-i", in}, encodeArgs...)
	args = append(args, "-f", "mp3", out)
	if stderr, err := t.run(ctx, args...); err != nil {
		return fmt.Errorf("ffmpeg re-encode: %w: %s", err, strings.TrimSpace(stderr))
	}
	return nil
}

// Segment re-encodes in into consecutive parts of at most segment each,
// returned in playback order.
func (t *Transcoder) Segment(ctx context.Context, in, dir string, segment time.Duration) ([]string, error) {
	pattern := filepath.Join(dir, "part-%03d.mp3")
	args := append([]string{"-y", "-hide_banner", "-loglevel", "error", "-i", in}, encodeArgs...)
	args = append(args,
		"-f", "segment",
		"-segment_time", strconv.Itoa(int(segment.Seconds())),
		"-reset_timestamps", "1",
		pattern,
	)
	if stderr, err := t.run(ctx, args...); err != nil {
		return nil, fmt.Errorf("ffmpeg segment: %w: %s", err, strings.TrimSpace(stderr))
	}
	parts, _ := filepath.Glob(filepath.Join(dir, "part-*.mp3"))
	if len(parts) == 0 {
		return nil, errors.New("ffmpeg produced no segments")
	}
	sort.Strings(parts)
	return parts, nil
}
