package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anatolykoptev/go_extract/internal/engine"
)

const testVideoID = "dQw4w9WgXcQ"

func TestOrderTracks(t *testing.T) {
	manual := []captionTrack{
		{BaseURL: "u1", LanguageCode: "fr", Kind: ""},
		{BaseURL: "u2", LanguageCode: "es", Kind: "asr"},
		{BaseURL: "u3", LanguageCode: "en", Kind: "asr"},
	}
	got := orderTracks(manual, nil)
	want := []string{"asr/en", "asr/es", "manual/fr"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, tr := range got {
		if s := trackKind(tr) + "/" + tr.LanguageCode; s != want[i] {
			t.Errorf("track[%d] = %s, want %s", i, s, want[i])
		}
	}
}

func TestOrderTracksDedupAndPoToken(t *testing.T) {
	manual := []captionTrack{
		{BaseURL: "https://x/tt?exp=1&exp=xpe", LanguageCode: "de"},
		{BaseURL: "m-en", LanguageCode: "en"},
		{BaseURL: "m-it", LanguageCode: "it"},
	}
	automatic := []captionTrack{
		{BaseURL: "a-en", LanguageCode: "en", Kind: "asr"},
		{BaseURL: "a-pt", LanguageCode: "pt", Kind: "asr"},
	}
	got := orderTracks(manual, automatic)
	var urls []string
	for _, tr := range got {
		urls = append(urls, tr.BaseURL)
	}
	// en keeps the first (manual) occurrence; de needs a PoToken.
	if strings.Join(urls, ",") != "a-pt,m-en,m-it" {
		t.Errorf("order = %v", urls)
	}
}

func TestParseJSON3(t *testing.T) {
	text, err := parseJSON3([]byte(`{"events":[{"segs":[{"utf8":"Hello "},{"utf8":"world."}]}]}`))
	if err != nil {
		t.Fatalf("parseJSON3: %v", err)
	}
	if text != "Hello world." {
		t.Errorf("text = %q", text)
	}

	text, _ = parseJSON3([]byte(`{"events":[{"tStartMs":0},{"segs":[{"utf8":"one"}]},{"segs":[{"utf8":"\n"}]},{"segs":[{"utf8":"two"}]}]}`))
	if text != "one\ntwo" {
		t.Errorf("multi-event text = %q", text)
	}

	if _, err := parseJSON3([]byte(`<transcript/>`)); err == nil {
		t.Error("expected error for non-JSON payload")
	}
}

func TestParseTimedTextXML(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"legacy", `<transcript><text start="0">Tom &amp;amp; Jerry</text><text start="1">it&amp;#39;s fine</text></transcript>`, "Tom & Jerry\nit's fine"},
		{"legacy quotes", `<transcript><text>it&amp;#39;s &amp;quot;fine&amp;quot;</text></transcript>`, `it's "fine"`},
		{"legacy single escape", `<transcript><text>fish &amp; chips</text></transcript>`, "fish & chips"},
		{"format3", `<timedtext format="3"><body><p t="0"><s>Hello</s><s> there</s></p><p t="5">bye</p></body></timedtext>`, "Hello there\nbye"},
		{"format3 entities", `<timedtext format="3"><body><p t="0"><s>it&amp;#39;s</s><s> Tom &amp;amp; Jerry</s></p></body></timedtext>`, "it's Tom & Jerry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTimedTextXML([]byte(tt.in))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

// ytServer fakes the watch page, /player, and timedtext endpoints.
type ytServer struct {
	*httptest.Server
	page        string
	player      string
	json3Status int
	playerCalls atomic.Int32
	lastKey     atomic.Value
}

func newYTServer(t *testing.T) *ytServer {
	t.Helper()
	s := &ytServer{json3Status: http.StatusOK}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/watch":
			_, _ = w.Write([]byte(s.page))
		case ytPlayerPath:
			s.playerCalls.Add(1)
			s.lastKey.Store(r.URL.Query().Get("key"))
			_, _ = w.Write([]byte(s.player))
		case "/api/timedtext":
			if r.URL.Query().Get("fmt") == "json3" {
				w.WriteHeader(s.json3Status)
				_, _ = w.Write([]byte(`{"events":[{"segs":[{"utf8":"Hello "},{"utf8":"world."}]}]}`))
				return
			}
			_, _ = w.Write([]byte(`<transcript><text>Hello from XML</text></transcript>`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *ytServer) playerJSON(kind string) string {
	return fmt.Sprintf(`{"videoDetails":{"videoId":%q,"title":"Never","lengthSeconds":"212"},`+
		`"captions":{"playerCaptionsTracklistRenderer":{"captionTracks":[`+
		`{"baseUrl":"%s/api/timedtext?v=%s&lang=en","languageCode":"en","kind":%q}]}}}`,
		testVideoID, s.URL, testVideoID, kind)
}

func (s *ytServer) provider() *YouTubeProvider {
	return NewYouTubeProvider(engine.Config{HTTPClient: s.Client(), YouTubeRPS: 1000}).WithBaseURL(s.URL)
}

func ytContext(html string) *ProviderContext {
	u := "https://www.youtube.com/watch?v=" + testVideoID
	return &ProviderContext{
		URL:            u,
		HTML:           html,
		Classification: engine.ClassifyURL(u),
		Request: engine.ExtractionRequest{
			URL:         u,
			YouTubeMode: engine.YouTubeWeb,
		}.Normalized(5 * time.Second),
	}
}

func TestYouTubeProviderCaptionTracks(t *testing.T) {
	srv := newYTServer(t)
	page := `<html><script>var ytInitialPlayerResponse = ` + srv.playerJSON("asr") + `;</script></html>`

	res := srv.provider().Fetch(context.Background(), ytContext(page))
	if res.Text != "Hello world." {
		t.Fatalf("Text = %q, notes = %v", res.Text, res.Notes)
	}
	if res.Source != engine.SourceCaptionTracks {
		t.Errorf("Source = %q", res.Source)
	}
	if res.Metadata["videoId"] != testVideoID || res.Metadata["trackKind"] != "asr" || res.Metadata["durationSeconds"] != 212 {
		t.Errorf("Metadata = %v", res.Metadata)
	}
	if srv.playerCalls.Load() != 0 {
		t.Errorf("player called %d times, want 0", srv.playerCalls.Load())
	}
}

func TestYouTubeProviderXMLRetry(t *testing.T) {
	srv := newYTServer(t)
	srv.json3Status = http.StatusNotFound
	page := `<script>ytInitialPlayerResponse = ` + srv.playerJSON("") + `;</script>`

	res := srv.provider().Fetch(context.Background(), ytContext(page))
	if res.Text != "Hello from XML" {
		t.Fatalf("Text = %q, notes = %v", res.Text, res.Notes)
	}
}

func TestYouTubeProviderBootstrapPlayer(t *testing.T) {
	srv := newYTServer(t)
	srv.player = srv.playerJSON("asr")
	page := `<script>ytcfg.set({"INNERTUBE_API_KEY":"AIzaTest","INNERTUBE_CLIENT_VERSION":"2.1","VISITOR_DATA":"vd","INNERTUBE_CONTEXT":{"client":{"clientName":"WEB","clientVersion":"2.1"}}});</script>` + testVideoID

	res := srv.provider().Fetch(context.Background(), ytContext(page))
	if res.Text != "Hello world." || res.Source != engine.SourceYoutubei {
		t.Fatalf("res = %q / %q, notes = %v", res.Text, res.Source, res.Notes)
	}
	if key, _ := srv.lastKey.Load().(string); key != "AIzaTest" {
		t.Errorf("player key = %q", key)
	}
	if srv.playerCalls.Load() != 1 {
		t.Errorf("player calls = %d, want 1", srv.playerCalls.Load())
	}
}

func TestYouTubeProviderNoCaptions(t *testing.T) {
	srv := newYTServer(t)
	srv.page = "<html>nothing embedded</html>"
	srv.player = `{"playabilityStatus":{"status":"LOGIN_REQUIRED","reason":"Sign in"}}`

	res := srv.provider().Fetch(context.Background(), ytContext(""))
	if res.Text != "" {
		t.Fatalf("Text = %q", res.Text)
	}
	if res.Source != engine.SourceYoutubei || !res.Unavailable() {
		t.Errorf("Source = %q", res.Source)
	}
	if srv.playerCalls.Load() != 1 {
		t.Errorf("ANDROID fallback calls = %d, want 1", srv.playerCalls.Load())
	}
	if len(res.Notes) == 0 {
		t.Error("expected diagnostic notes")
	}
}

func TestYouTubeProviderBadID(t *testing.T) {
	p := NewYouTubeProvider(engine.Config{})
	pc := ytContext("")
	pc.URL = "https://www.youtube.com/feed/trending"
	res := p.Fetch(context.Background(), pc)
	if res.Source != "" || res.Text != "" || len(res.Notes) == 0 {
		t.Errorf("res = %+v", res)
	}
}
