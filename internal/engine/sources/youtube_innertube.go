package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/anatolykoptev/go_extract/internal/engine"
	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
)

// YouTube Innertube API: constants, payload types, and the player call.
// Track selection and caption download live in youtube_transcript.go.

const (
	ytDefaultBaseURL  = "https://www.youtube.com"
	ytPlayerPath      = "/youtubei/v1/player"
	ytWebVersion      = "2.20250222.10.00"
	ytAndroidVersion  = "20.10.38"
	ytAndroidUA       = "com.google.android.youtube/" + ytAndroidVersion + " (Linux; U; Android 11) gzip"
	ytMaxPageBytes    = 6 << 20
	ytMaxPlayerBytes  = 3 << 20
	ytMaxCaptionBytes = 2 << 20
)

// Markers preceding the embedded JSON objects in the watch page.
var (
	ytPlayerResponseMarkers = []string{"ytInitialPlayerResponse = ", "var ytInitialPlayerResponse = ", `"playerResponse":`}
	ytBootstrapMarkers      = []string{"ytcfg.set(", "ytcfg.data_ = "}
)

// --- /player request ---

type innertubeReq struct {
	VideoID        string         `json:"videoId"`
	Context        map[string]any `json:"context"`
	RacyCheckOk    bool           `json:"racyCheckOk"`
	ContentCheckOk bool           `json:"contentCheckOk"`
}

type innertubeClient struct {
	ClientName        string `json:"clientName"`
	ClientVersion     string `json:"clientVersion"`
	AndroidSdkVersion int    `json:"androidSdkVersion,omitempty"`
	VisitorData       string `json:"visitorData,omitempty"`
	Hl                string `json:"hl,omitempty"`
	Gl                string `json:"gl,omitempty"`
}

// ytBootstrap is the subset of the page's ytcfg object needed to call /player.
type ytBootstrap struct {
	APIKey        string         `json:"INNERTUBE_API_KEY"`
	ClientName    string         `json:"INNERTUBE_CLIENT_NAME"`
	ClientVersion string         `json:"INNERTUBE_CLIENT_VERSION"`
	ContextName   int            `json:"INNERTUBE_CONTEXT_CLIENT_NAME"`
	VisitorData   string         `json:"VISITOR_DATA"`
	Context       map[string]any `json:"INNERTUBE_CONTEXT"`
}

// --- /player response ---

type playerResponse struct {
	Captions *struct {
		PlayerCaptionsTracklistRenderer struct {
			CaptionTracks     []captionTrack `json:"captionTracks"`
			AutomaticCaptions []captionTrack `json:"automaticCaptions"`
		} `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
	PlayabilityStatus *struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
	VideoDetails *struct {
		VideoID       string `json:"videoId"`
		Title         string `json:"title"`
		Author        string `json:"author"`
		LengthSeconds string `json:"lengthSeconds"`
	} `json:"videoDetails"`
}

type captionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"` // "asr" = auto-generated
}

func (p *playerResponse) tracks() (manual, automatic []captionTrack) {
	if p == nil || p.Captions == nil {
		return nil, nil
	}
	r := p.Captions.PlayerCaptionsTracklistRenderer
	return r.CaptionTracks, r.AutomaticCaptions
}

func (p *playerResponse) unplayableReason() string {
	if p == nil || p.PlayabilityStatus == nil {
		return ""
	}
	if p.PlayabilityStatus.Status == "" || p.PlayabilityStatus.Status == "OK" {
		return ""
	}
	if p.PlayabilityStatus.Reason != "" {
		return p.PlayabilityStatus.Status + ": " + p.PlayabilityStatus.Reason
	}
	return p.PlayabilityStatus.Status
}

func (p *playerResponse) durationSeconds() int {
	if p == nil || p.VideoDetails == nil {
		return 0
	}
	n, _ := strconv.Atoi(p.VideoDetails.LengthSeconds)
	return n
}

// parseLenient decodes a page-embedded object: strict JSON first, JSON5 for
// literals carrying unquoted keys or single-quoted strings.
func parseLenient(raw string, v any) error {
	if err := json.Unmarshal([]byte(raw), v); err == nil {
		return nil
	}
	if err := json5.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode embedded object: %w", err)
	}
	return nil
}

// parseInitialPlayerResponse extracts ytInitialPlayerResponse from watch page HTML.
func parseInitialPlayerResponse(html string) (*playerResponse, error) {
	raw, ok := FindJSONAfter(html, ytPlayerResponseMarkers...)
	if !ok {
		return nil, errors.New("ytInitialPlayerResponse not found")
	}
	var pr playerResponse
	if err := parseLenient(raw, &pr); err != nil {
		return nil, err
	}
	return &pr, nil
}

// parseBootstrap extracts the ytcfg object carrying the API key and client context.
func parseBootstrap(html string) (*ytBootstrap, error) {
	offset := 0
	for offset < len(html) {
		raw, ok := FindJSONAfter(html[offset:], ytBootstrapMarkers...)
		if !ok {
			break
		}
		offset += strings.Index(html[offset:], raw) + len(raw)
		var b ytBootstrap
		if err := parseLenient(raw, &b); err != nil {
			continue
		}
		if b.APIKey != "" {
			return &b, nil
		}
	}
	return nil, errors.New("ytcfg bootstrap with INNERTUBE_API_KEY not found")
}

// clientContext returns the client context for /player, building one from the
// flat ytcfg fields when INNERTUBE_CONTEXT is absent.
func (b *ytBootstrap) clientContext() map[string]any {
	if len(b.Context) > 0 {
		return b.Context
	}
	version := b.ClientVersion
	if version == "" {
		version = ytWebVersion
	}
	name := b.ClientName
	if name == "" {
		name = "WEB"
	}
	return map[string]any{"client": innertubeClient{
		ClientName:    name,
		ClientVersion: version,
		VisitorData:   b.VisitorData,
		Hl:            "en",
		Gl:            "US",
	}}
}

func (b *ytBootstrap) headers() map[string]string {
	h := map[string]string{
		"User-Agent": engine.UserAgentChrome,
		"Origin":     ytDefaultBaseURL,
		"Referer":    ytDefaultBaseURL + "/",
	}
	if b.ContextName > 0 {
		h["X-Youtube-Client-Name"] = strconv.Itoa(b.ContextName)
	} else {
		h["X-Youtube-Client-Name"] = "1"
	}
	if b.ClientVersion != "" {
		h["X-Youtube-Client-Version"] = b.ClientVersion
	} else {
		h["X-Youtube-Client-Version"] = ytWebVersion
	}
	if b.VisitorData != "" {
		h["X-Goog-Visitor-Id"] = b.VisitorData
	}
	return h
}

// androidContext is the fixed client identity used when no bootstrap is available.
func androidContext() (map[string]any, map[string]string) {
	ctx := map[string]any{"client": innertubeClient{
		ClientName:        "ANDROID",
		ClientVersion:     ytAndroidVersion,
		AndroidSdkVersion: 30,
		Hl:                "en",
		Gl:                "US",
	}}
	headers := map[string]string{
		"User-Agent":               ytAndroidUA,
		"X-Youtube-Client-Name":    "3",
		"X-Youtube-Client-Version": ytAndroidVersion,
	}
	return ctx, headers
}

// postPlayer calls the Innertube /player endpoint.
func (p *YouTubeProvider) postPlayer(ctx context.Context, videoID, apiKey string, clientCtx map[string]any, headers map[string]string, timeout time.Duration) (*playerResponse, error) {
	body, err := json.Marshal(innertubeReq{
		VideoID:        videoID,
		Context:        clientCtx,
		RacyCheckOk:    true,
		ContentCheckOk: true,
	})
	if err != nil {
		return nil, err
	}
	endpoint := p.baseURL + ytPlayerPath + "?prettyPrint=false"
	if apiKey != "" {
		endpoint += "&key=" + apiKey
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := engine.DoWithRetry(ctx, p.client, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "*/*")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return req, nil
	})
	if err != nil {
		return nil, engine.AsTimeout(ctx, endpoint, timeout, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("innertube player: HTTP %d: %s", resp.StatusCode, snippet)
	}

	var pr playerResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, ytMaxPlayerBytes)).Decode(&pr); err != nil {
		return nil, fmt.Errorf("decode player: %w", err)
	}
	return &pr, nil
}
