package extractor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anatolykoptev/go_extract/internal/engine"
	"github.com/anatolykoptev/go_extract/internal/engine/sources"
)

// rewriteTransport sends every request to target while keeping the original
// URL on the response, so code under test sees the real hostnames.
type rewriteTransport struct {
	target *url.URL
	base   http.RoundTripper
}

func (t rewriteTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	out := r.Clone(r.Context())
	out.URL.Scheme = t.target.Scheme
	out.URL.Host = t.target.Host
	out.Host = t.target.Host
	resp, err := t.base.RoundTrip(out)
	if resp != nil {
		resp.Request = r
	}
	return resp, err
}

func rewriteClient(srv *httptest.Server) *http.Client {
	u, _ := url.Parse(srv.URL)
	return &http.Client{Transport: rewriteTransport{target: u, base: srv.Client().Transport}}
}

const articleHTML = `<html><head><title>Field Notes</title>
<meta property="og:site_name" content="Example Blog">
<meta name="description" content="Notes from the field."></head>
<body><nav>Home | About</nav><article><h1>Field Notes</h1>
<p>The first paragraph has enough words to count as readable article text for the extractor, describing a long walk.</p>
<p>The second paragraph continues the story with further detail about the trail, the weather and the river crossing.</p>
<p>A third paragraph closes the piece with a reflection on what the walk taught about patience and preparation.</p>
</article><footer>Copyright</footer></body></html>`

func newSite(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		switch {
		case strings.HasSuffix(r.URL.Path, ".txt"):
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		case strings.HasSuffix(r.URL.Path, ".mp3"):
			w.Header().Set("Content-Type", "audio/mpeg")
		default:
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
		}
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func scrapeReturning(res *engine.ScrapeResult, calls *atomic.Int32) engine.ScrapeFunc {
	return func(_ context.Context, _ string, _ engine.ScrapeOptions) (*engine.ScrapeResult, error) {
		calls.Add(1)
		return res, nil
	}
}

func TestExtractArticle(t *testing.T) {
	srv := newSite(t, map[string]string{"/post": articleHTML})
	var calls atomic.Int32
	x := New(engine.Config{HTTPClient: srv.Client()}, WithScrape(scrapeReturning(nil, &calls)))

	out, err := x.Extract(context.Background(), engine.ExtractionRequest{URL: srv.URL + "/post"})
	require.NoError(t, err)
	assert.Equal(t, "Field Notes", out.Title)
	assert.Equal(t, "Example Blog", out.SiteName)
	assert.Contains(t, out.Content, "river crossing")
	assert.NotContains(t, out.Content, "Copyright")
	assert.Equal(t, StrategyHTML, out.Diagnostics.Strategy)
	assert.False(t, out.Diagnostics.Firecrawl.Attempted)
	assert.Zero(t, calls.Load())
	assert.Equal(t, len([]rune(out.Content)), out.TotalCharacters)
}

func TestExtractBlockedUsesFirecrawl(t *testing.T) {
	srv := newSite(t, map[string]string{
		"/blocked": `<html><body><p>Enable JavaScript to continue</p></body></html>`,
	})
	var calls atomic.Int32
	scrape := scrapeReturning(&engine.ScrapeResult{Markdown: "# Real Title\n\nReal content."}, &calls)
	x := New(engine.Config{HTTPClient: srv.Client()}, WithScrape(scrape))

	out, err := x.Extract(context.Background(), engine.ExtractionRequest{
		URL:           srv.URL + "/blocked",
		FirecrawlMode: engine.FirecrawlAuto,
	})
	require.NoError(t, err)
	assert.Equal(t, engine.NormalizeContent("# Real Title\n\nReal content."), out.Content)
	assert.Equal(t, StrategyFirecrawl, out.Diagnostics.Strategy)
	assert.True(t, out.Diagnostics.Firecrawl.Used)
	assert.True(t, out.Diagnostics.Firecrawl.Attempted)
	assert.Equal(t, int32(1), calls.Load())
}

func TestExtractFirecrawlOff(t *testing.T) {
	srv := newSite(t, map[string]string{
		"/blocked": `<html><body><p>Please verify you are human</p></body></html>`,
	})
	var calls atomic.Int32
	scrape := scrapeReturning(&engine.ScrapeResult{Markdown: "never used"}, &calls)
	x := New(engine.Config{HTTPClient: srv.Client()}, WithScrape(scrape))

	out, err := x.Extract(context.Background(), engine.ExtractionRequest{
		URL:           srv.URL + "/blocked",
		FirecrawlMode: engine.FirecrawlOff,
	})
	require.NoError(t, err)
	assert.Zero(t, calls.Load())
	assert.Equal(t, StrategyHTML, out.Diagnostics.Strategy)
	assert.NotEmpty(t, out.Diagnostics.Firecrawl.Notes)
}

func TestExtractFirecrawlAlways(t *testing.T) {
	srv := newSite(t, map[string]string{"/post": articleHTML})
	var calls atomic.Int32
	scrape := scrapeReturning(&engine.ScrapeResult{Markdown: "Scraped body."}, &calls)
	x := New(engine.Config{HTTPClient: srv.Client()}, WithScrape(scrape))

	out, err := x.Extract(context.Background(), engine.ExtractionRequest{
		URL:           srv.URL + "/post",
		FirecrawlMode: engine.FirecrawlAlways,
	})
	require.NoError(t, err)
	assert.Equal(t, "Scraped body.", out.Content)
	assert.Equal(t, int32(1), calls.Load())
}

func TestExtractFetchFailureNoFallback(t *testing.T) {
	srv := newSite(t, nil)
	x := New(engine.Config{HTTPClient: srv.Client()}, WithScrape(nil))

	_, err := x.Extract(context.Background(), engine.ExtractionRequest{URL: srv.URL + "/gone"})
	require.Error(t, err)
	var xe *engine.ExtractError
	require.True(t, errors.As(err, &xe))
	assert.True(t, errors.Is(err, engine.ErrNoContent))
	var fe *engine.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusNotFound, fe.Status)
	assert.NotEmpty(t, xe.Diagnostics.Firecrawl.Notes)
}

func TestExtractFetchFailureRecoveredByFirecrawl(t *testing.T) {
	srv := newSite(t, nil)
	var calls atomic.Int32
	scrape := scrapeReturning(&engine.ScrapeResult{
		Markdown: "Recovered text.",
		Metadata: map[string]any{"title": "Recovered"},
	}, &calls)
	x := New(engine.Config{HTTPClient: srv.Client()}, WithScrape(scrape))

	out, err := x.Extract(context.Background(), engine.ExtractionRequest{URL: srv.URL + "/gone"})
	require.NoError(t, err)
	assert.Equal(t, "Recovered text.", out.Content)
	assert.Equal(t, "Recovered", out.Title)
	assert.Equal(t, StrategyFirecrawl, out.Diagnostics.Strategy)
}

func TestExtractRemoteAsset(t *testing.T) {
	srv := newSite(t, map[string]string{"/notes.txt": "  plain text asset\nsecond line  "})
	x := New(engine.Config{HTTPClient: srv.Client()}, WithScrape(nil))

	out, err := x.Extract(context.Background(), engine.ExtractionRequest{URL: srv.URL + "/notes.txt"})
	require.NoError(t, err)
	assert.Equal(t, StrategyAsset, out.Diagnostics.Strategy)
	assert.Equal(t, "plain text asset\nsecond line", out.Content)
}

func TestExtractTruncatesToMaxCharacters(t *testing.T) {
	srv := newSite(t, map[string]string{"/post": articleHTML})
	x := New(engine.Config{HTTPClient: srv.Client(), MaxContentChars: 50}, WithScrape(nil))

	out, err := x.Extract(context.Background(), engine.ExtractionRequest{URL: srv.URL + "/post"})
	require.NoError(t, err)
	assert.True(t, out.Truncated)
	assert.Greater(t, out.TotalCharacters, 50)
}

const ytVideoID = "dQw4w9WgXcQ"

func youtubeSite(t *testing.T, timedtext *atomic.Int32) *httptest.Server {
	t.Helper()
	player := fmt.Sprintf(`{"videoDetails":{"videoId":%q,"title":"Never","author":"Rick","lengthSeconds":"212"},`+
		`"captions":{"playerCaptionsTracklistRenderer":{"captionTracks":[`+
		`{"baseUrl":"https://www.youtube.com/api/timedtext?v=%s&lang=en","languageCode":"en","kind":"asr"}]}}}`,
		ytVideoID, ytVideoID)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/watch":
			w.Header().Set("Content-Type", "text/html")
			_, _ = fmt.Fprintf(w, `<html><head><title>Never - YouTube</title></head><body>
<script>var ytInitialPlayerResponse = %s;</script></body></html>`, player)
		case "/api/timedtext":
			timedtext.Add(1)
			if r.URL.Query().Get("fmt") == "json3" {
				_, _ = w.Write([]byte(`{"events":[{"segs":[{"utf8":"Hello "},{"utf8":"world."}]}]}`))
				return
			}
			_, _ = w.Write([]byte(`<transcript><text>Hello world.</text></transcript>`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestExtractYouTubeCaptions(t *testing.T) {
	var timedtext atomic.Int32
	srv := youtubeSite(t, &timedtext)
	cfg := engine.Config{HTTPClient: rewriteClient(srv), YouTubeRPS: 100}
	cache := engine.NewMemoryCache("", 100, time.Hour)
	defer cache.Close()
	x := New(cfg, WithScrape(nil), WithCache(cache))

	var events []engine.ProgressKind
	req := engine.ExtractionRequest{
		URL:        "https://www.youtube.com/watch?v=" + ytVideoID,
		OnProgress: func(ev engine.ProgressEvent) { events = append(events, ev.Kind) },
	}
	out, err := x.Extract(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Transcript:\nHello world.", out.Content)
	assert.Equal(t, engine.SourceCaptionTracks, out.TranscriptSource)
	assert.Equal(t, engine.SourceCaptionTracks, out.Diagnostics.Transcript.Provider)
	assert.Equal(t, engine.CacheMiss, out.Diagnostics.Transcript.CacheStatus)
	assert.True(t, out.Diagnostics.Transcript.TextProvided)
	assert.Equal(t, ytVideoID, out.TranscriptMetadata["videoId"])
	assert.Equal(t, 2, out.TranscriptWordCount)
	assert.Contains(t, events, engine.ProgressTranscriptStart)
	assert.Contains(t, events, engine.ProgressTranscriptDone)

	out, err = x.Extract(context.Background(), engine.ExtractionRequest{URL: "https://youtu.be/" + ytVideoID})
	require.NoError(t, err)
	assert.Equal(t, engine.CacheHit, out.Diagnostics.Transcript.CacheStatus)
	assert.Equal(t, "Transcript:\nHello world.", out.Content)
	assert.Equal(t, int32(1), timedtext.Load())
}

type fakeTranscriber struct {
	text string
	got  int
}

func (f *fakeTranscriber) Name() string { return "fake" }

func (f *fakeTranscriber) Transcribe(_ context.Context, _ string, audio []byte) (string, error) {
	f.got = len(audio)
	return f.text, nil
}

func TestExtractDirectMedia(t *testing.T) {
	srv := newSite(t, map[string]string{"/show/episode-12.mp3": strings.Repeat("a", 2048)})
	cfg := engine.Config{HTTPClient: srv.Client()}
	ft := &fakeTranscriber{text: "spoken words here"}
	podcast := sources.NewPodcastProvider(cfg, nil, sources.WithTranscribers(ft), sources.WithTranscoder(nil))
	x := New(cfg, WithScrape(nil), WithProviders(podcast))

	out, err := x.Extract(context.Background(), engine.ExtractionRequest{URL: srv.URL + "/show/episode-12.mp3"})
	require.NoError(t, err)
	assert.Equal(t, StrategyMedia, out.Diagnostics.Strategy)
	assert.Equal(t, "Transcript:\nspoken words here", out.Content)
	assert.Equal(t, "episode-12", out.Title)
	assert.Equal(t, engine.SourceWhisper, out.TranscriptSource)
	assert.Equal(t, 2048, ft.got)
}

func TestExtractDirectMediaMissingCredentials(t *testing.T) {
	srv := newSite(t, map[string]string{"/a.mp3": "abc"})
	cfg := engine.Config{HTTPClient: srv.Client()}
	podcast := sources.NewPodcastProvider(cfg, nil, sources.WithTranscribers(), sources.WithTranscoder(nil))
	x := New(cfg, WithScrape(nil), WithProviders(podcast))

	_, err := x.Extract(context.Background(), engine.ExtractionRequest{URL: srv.URL + "/a.mp3"})
	var mce *engine.MissingCredentialsError
	require.True(t, errors.As(err, &mce), "err = %v", err)
	var xe *engine.ExtractError
	require.True(t, errors.As(err, &xe))
	assert.NotEmpty(t, xe.Diagnostics.Transcript.Notes)
}

func TestFallbackReason(t *testing.T) {
	req := engine.ExtractionRequest{FirecrawlMode: engine.FirecrawlAuto}
	web := engine.Classification{Kind: engine.KindWebpage}
	long := strings.Repeat("word ", 100)

	assert.Empty(t, fallbackReason(req, web, page{body: long}))
	assert.Equal(t, "thin content", fallbackReason(req, web, page{body: "short"}))
	assert.Equal(t, "direct fetch failed", fallbackReason(req, web, page{fetchErr: errors.New("x")}))
	assert.Contains(t, fallbackReason(req, web, page{html: "Access Denied", body: "Access Denied"}), "blocked")
	assert.Empty(t, fallbackReason(req, engine.Classification{Kind: engine.KindYouTube}, page{}))
	// A block phrase only inside structured data is not a block page.
	ld := `<script type="application/ld+json">{"name":"captcha solver review"}</script>`
	assert.Equal(t, "thin content", fallbackReason(req, web, page{html: ld, body: "short"}))

	always := engine.ExtractionRequest{FirecrawlMode: engine.FirecrawlAlways}
	assert.Equal(t, "forced by request", fallbackReason(always, web, page{body: long}))
}

func TestExtractHeadProbeUsesRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	x := New(engine.Config{HTTPClient: srv.Client(), FetchTimeout: 30 * time.Second}, WithScrape(nil))
	start := time.Now()
	out, err := x.Extract(context.Background(), engine.ExtractionRequest{
		URL:     srv.URL + "/slow-head",
		Timeout: 300 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Contains(t, out.Content, "river crossing")
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestExtractPodcastScrapeReportsFirecrawl(t *testing.T) {
	srv := newSite(t, map[string]string{
		"/+ep9":    `<html><head><title>Access Denied</title></head><body>Access Denied</body></html>`,
		"/ep9.mp3": strings.Repeat("a", 512),
	})
	client := rewriteClient(srv)
	var calls atomic.Int32
	scrape := func(_ context.Context, _ string, _ engine.ScrapeOptions) (*engine.ScrapeResult, error) {
		// The page-level fallback gets nothing; only the provider's scrape finds audio.
		if calls.Add(1) == 1 {
			return nil, nil
		}
		return &engine.ScrapeResult{HTML: `<html><body><audio src="/ep9.mp3"></audio></body></html>`}, nil
	}
	cfg := engine.Config{HTTPClient: client}
	ft := &fakeTranscriber{text: "episode nine"}
	podcast := sources.NewPodcastProvider(cfg, scrape, sources.WithTranscribers(ft), sources.WithTranscoder(nil))
	x := New(cfg, WithScrape(scrape), WithProviders(podcast))

	out, err := x.Extract(context.Background(), engine.ExtractionRequest{URL: "https://overcast.fm/+ep9"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, engine.SourceWhisper, out.TranscriptSource)
	assert.True(t, out.Diagnostics.Firecrawl.Attempted)
	assert.True(t, out.Diagnostics.Firecrawl.Used)
	assert.Contains(t, strings.Join(out.Diagnostics.Firecrawl.Notes, "\n"), "podcast page blocked")
}
