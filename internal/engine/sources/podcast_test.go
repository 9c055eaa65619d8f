package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/anatolykoptev/go_extract/internal/engine"
)

type fakeTranscriber struct {
	mu    sync.Mutex
	name  string
	text  string
	err   error
	calls []string
	sizes []int
}

func (f *fakeTranscriber) Name() string { return f.name }

func (f *fakeTranscriber) Transcribe(_ context.Context, filename string, audio []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, filename)
	f.sizes = append(f.sizes, len(audio))
	return f.text, f.err
}

const testFeed = `<?xml version="1.0"?>
<rss version="2.0" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd">
<channel>
<title>Test Show</title>
<item>
  <title>Episode 1: Beginnings</title>
  <pubDate>Mon, 01 Jan 2024 10:00:00 GMT</pubDate>
  <enclosure url="%[1]s/ep1.mp3" type="audio/mpeg" length="10"/>
  <itunes:duration>12:30</itunes:duration>
</item>
<item>
  <title>Episode 2: The Middle</title>
  <pubDate>Mon, 08 Jan 2024 10:00:00 GMT</pubDate>
  <enclosure url="%[1]s/ep2.mp3" type="audio/mpeg" length="10"/>
  <itunes:duration>1:02:03</itunes:duration>
</item>
<item>
  <title>Bonus notes</title>
  <pubDate>Tue, 09 Jan 2024 10:00:00 GMT</pubDate>
</item>
</channel>
</rss>`

func podcastServer(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/feed.xml":
			w.Header().Set("Content-Type", "application/rss+xml")
			fmt.Fprintf(w, testFeed, srv.URL)
		case "/ep1.mp3", "/ep2.mp3", "/direct.mp3":
			w.Header().Set("Content-Type", "audio/mpeg")
			if r.Method == http.MethodHead {
				return
			}
			_, _ = w.Write([]byte(strings.Repeat("a", 4096)))
		case "/lookup":
			_, _ = w.Write([]byte(`{"results":[
				{"wrapperType":"track","kind":"podcast","collectionId":42,"feedUrl":"` + srv.URL + `/feed.xml"},
				{"wrapperType":"podcastEpisode","trackId":1,"trackName":"Old","episodeUrl":"` + srv.URL + `/ep1.mp3","releaseDate":"2024-01-01T10:00:00Z","trackTimeMillis":60000},
				{"wrapperType":"podcastEpisode","trackId":2,"trackName":"New","episodeUrl":"` + srv.URL + `/ep2.mp3","releaseDate":"2024-02-01T10:00:00Z","trackTimeMillis":120000}
			]}`))
		case "/search":
			if r.URL.Query().Get("term") != "Test Show" {
				_, _ = w.Write([]byte(`{"results":[]}`))
				return
			}
			_, _ = w.Write([]byte(`{"results":[{"collectionName":"Test Show","feedUrl":"` + srv.URL + `/feed.xml"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testPodcastProvider(srv *httptest.Server, ft *fakeTranscriber) *PodcastProvider {
	cfg := engine.Config{HTTPClient: srv.Client(), MaxUploadBytes: 1024}
	return NewPodcastProvider(cfg, nil,
		WithTranscribers(ft),
		WithTranscoder(nil),
		WithITunesBaseURL(srv.URL),
	)
}

func podcastContext(pageURL, html string, cl engine.Classification) *ProviderContext {
	return &ProviderContext{
		URL:            pageURL,
		HTML:           html,
		Meta:           engine.ExtractMetadataFromHTML(html, pageURL),
		Classification: cl,
		Request:        engine.ExtractionRequest{URL: pageURL, FirecrawlMode: engine.FirecrawlOff}.Normalized(5 * time.Second),
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"1:02:03", time.Hour + 2*time.Minute + 3*time.Second},
		{"12:30", 12*time.Minute + 30*time.Second},
		{"95", 95 * time.Second},
		{"", 0},
		{"abc", 0},
		{"1:2:3:4", 0},
	}
	for _, tt := range tests {
		if got := ParseDuration(tt.in); got != tt.want {
			t.Errorf("ParseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestMatchEpisode(t *testing.T) {
	feed, err := gofeed.NewParser().ParseString(fmt.Sprintf(testFeed, "https://cdn.example.com"))
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		title string
		want  string
	}{
		{"Episode 1: Beginnings", "Episode 1: Beginnings"},
		{"episode 2  the middle", "Episode 2: The Middle"},
		{"Test Show - Episode 1: Beginnings", "Episode 1: Beginnings"},
		{"", "Episode 2: The Middle"}, // newest with audio
	}
	for _, tt := range tests {
		got := matchEpisode(feed.Items, tt.title)
		if got == nil {
			t.Errorf("matchEpisode(%q) = nil", tt.title)
			continue
		}
		if got.Title != tt.want {
			t.Errorf("matchEpisode(%q) = %q, want %q", tt.title, got.Title, tt.want)
		}
	}
	if got := matchEpisode(feed.Items, "Something else entirely"); got != nil {
		t.Errorf("unmatched title returned %q", got.Title)
	}
}

func TestPodcastMissingCredentials(t *testing.T) {
	srv := podcastServer(t)
	p := NewPodcastProvider(engine.Config{HTTPClient: srv.Client()}, nil, WithTranscribers(), WithTranscoder(nil))
	pc := podcastContext(srv.URL+"/direct.mp3", "", engine.Classification{Kind: engine.KindPodcast, DirectMedia: true})

	res := p.Fetch(context.Background(), pc)
	var mce *engine.MissingCredentialsError
	if !errors.As(res.Err, &mce) {
		t.Fatalf("Err = %v, want MissingCredentialsError", res.Err)
	}
	if res.Source != "" || res.Text != "" {
		t.Errorf("got source=%q text=%q, want empty", res.Source, res.Text)
	}
	if len(res.AttemptedProviders) != 0 {
		t.Errorf("attempted = %v, want none", res.AttemptedProviders)
	}
}

func TestPodcastMediaOff(t *testing.T) {
	srv := podcastServer(t)
	ft := &fakeTranscriber{name: "fake", text: "hello"}
	p := testPodcastProvider(srv, ft)
	pc := podcastContext(srv.URL+"/direct.mp3", "", engine.Classification{Kind: engine.KindPodcast, DirectMedia: true})
	pc.Request.MediaTranscriptMode = engine.MediaOff

	res := p.Fetch(context.Background(), pc)
	if res.Source != "" || len(ft.calls) != 0 {
		t.Errorf("media off still transcribed: source=%q calls=%d", res.Source, len(ft.calls))
	}
}

func TestPodcastDirectMediaTruncated(t *testing.T) {
	srv := podcastServer(t)
	ft := &fakeTranscriber{name: "fake", text: "spoken words"}
	p := testPodcastProvider(srv, ft)
	pc := podcastContext(srv.URL+"/direct.mp3", "", engine.Classification{Kind: engine.KindPodcast, DirectMedia: true})

	res := p.Fetch(context.Background(), pc)
	if res.Text != "spoken words" {
		t.Fatalf("Text = %q, notes = %v", res.Text, res.Notes)
	}
	if res.Source != engine.SourceWhisper {
		t.Errorf("Source = %q, want whisper", res.Source)
	}
	if len(ft.sizes) != 1 || ft.sizes[0] != 1024 {
		t.Errorf("uploaded sizes = %v, want [1024]", ft.sizes)
	}
	if ft.calls[0] != "audio.mp3" {
		t.Errorf("filename = %q", ft.calls[0])
	}
	if res.Metadata["truncated"] != true {
		t.Errorf("truncated meta = %v", res.Metadata["truncated"])
	}
}

func TestPodcastFeedFromPage(t *testing.T) {
	srv := podcastServer(t)
	ft := &fakeTranscriber{name: "fake", text: "middle transcript"}
	p := testPodcastProvider(srv, ft)
	html := `<html><head><title>Episode 2: The Middle</title>
<link rel="alternate" type="application/rss+xml" href="/feed.xml"></head><body>show notes</body></html>`
	pc := podcastContext(srv.URL+"/episodes/2", html, engine.Classification{Kind: engine.KindPodcast})

	res := p.Fetch(context.Background(), pc)
	if res.Text != "middle transcript" {
		t.Fatalf("Text = %q, notes = %v", res.Text, res.Notes)
	}
	if got := res.Metadata["audioUrl"]; got != srv.URL+"/ep2.mp3" {
		t.Errorf("audioUrl = %v", got)
	}
	if got := res.Metadata["durationSeconds"]; got != 3723 {
		t.Errorf("durationSeconds = %v, want 3723", got)
	}
}

func TestPodcastAppleEpisode(t *testing.T) {
	srv := podcastServer(t)
	p := testPodcastProvider(srv, &fakeTranscriber{name: "fake", text: "x"})

	c, err := p.fromApple(context.Background(), "https://podcasts.apple.com/us/podcast/test/id42?i=1", 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if c.Title != "Old" || c.URL != srv.URL+"/ep1.mp3" {
		t.Errorf("?i= pick = %+v", c)
	}

	c, err = p.fromApple(context.Background(), "https://podcasts.apple.com/us/podcast/test/id42", 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if c.Title != "New" || c.Duration != 2*time.Minute {
		t.Errorf("newest pick = %+v", c)
	}

	if _, err := p.fromApple(context.Background(), "https://podcasts.apple.com/us/browse", 5*time.Second); err == nil {
		t.Error("expected error without podcast id")
	}
}

func TestPodcastSpotify(t *testing.T) {
	srv := podcastServer(t)
	p := testPodcastProvider(srv, &fakeTranscriber{name: "fake", text: "x"})
	html := `<html><head>
<meta property="og:title" content="Episode 1: Beginnings">
<meta property="og:description" content="Listen to this episode from Test Show on Spotify. Intro.">
</head><body></body></html>`
	meta := engine.ExtractMetadataFromHTML(html, "https://open.spotify.com/episode/abc")

	c, err := p.fromSpotify(context.Background(), html, meta, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if c.URL != srv.URL+"/ep1.mp3" || c.Origin != "spotify" {
		t.Errorf("candidate = %+v", c)
	}
}

func TestSpotifyEmbedURL(t *testing.T) {
	if got := spotifyEmbedURL("https://open.spotify.com/episode/4rOoJ6Egrf8K2IrywzwOMk?si=x"); got != spotifyEmbedBase+"4rOoJ6Egrf8K2IrywzwOMk" {
		t.Errorf("embed = %q", got)
	}
	if got := spotifyEmbedURL("https://open.spotify.com/show/abc"); got != "" {
		t.Errorf("show embed = %q, want empty", got)
	}
}

func TestAudioFromPage(t *testing.T) {
	html := `<html><body>
<audio src="/media/a.mp3"></audio>
<script>window.__DATA__={"audioUrl":"https:\/\/cdn.example.com\/b.m4a?x=1&y=2"}</script>
</body></html>`
	got := audioFromPage(html, "https://example.com/ep", engine.PageMetadata{})
	want := []string{"https://example.com/media/a.mp3", "https://cdn.example.com/b.m4a?x=1&y=2"}
	if len(got) < len(want) {
		t.Fatalf("got %v, want prefix %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("url[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPodcastNoAudio(t *testing.T) {
	srv := podcastServer(t)
	ft := &fakeTranscriber{name: "fake", text: "x"}
	p := testPodcastProvider(srv, ft)
	pc := podcastContext(srv.URL+"/episodes/9", "<html><body>nothing here</body></html>", engine.Classification{Kind: engine.KindPodcast})

	res := p.Fetch(context.Background(), pc)
	if res.Text != "" || res.Source != "" || len(ft.calls) != 0 {
		t.Errorf("res = %+v, calls = %d", res, len(ft.calls))
	}
	if len(res.Notes) == 0 {
		t.Error("expected a note about unresolved audio")
	}
}

func TestAudioFilename(t *testing.T) {
	tests := []struct{ url, ct, want string }{
		{"https://x/ep.M4A", "", "audio.m4a"},
		{"https://x/stream", "audio/ogg", "audio.ogg"},
		{"https://x/stream?id=1", "", "audio.mp3"},
	}
	for _, tt := range tests {
		if got := audioFilename(tt.url, tt.ct); got != tt.want {
			t.Errorf("audioFilename(%q, %q) = %q, want %q", tt.url, tt.ct, got, tt.want)
		}
	}
}

func TestPodcastBlockedPageScrapeDiagnostics(t *testing.T) {
	srv := podcastServer(t)
	ft := &fakeTranscriber{name: "fake", text: "scraped episode"}
	scrape := func(_ context.Context, _ string, _ engine.ScrapeOptions) (*engine.ScrapeResult, error) {
		return &engine.ScrapeResult{HTML: `<html><body><audio src="/ep1.mp3"></audio></body></html>`}, nil
	}
	p := NewPodcastProvider(engine.Config{HTTPClient: srv.Client(), MaxUploadBytes: 1024}, scrape,
		WithTranscribers(ft),
		WithTranscoder(nil),
		WithITunesBaseURL(srv.URL),
	)
	pc := podcastContext(srv.URL+"/episodes/9", "", engine.Classification{Kind: engine.KindPodcast})
	pc.Request.FirecrawlMode = engine.FirecrawlAuto

	res := p.Fetch(context.Background(), pc)
	if res.Text != "scraped episode" {
		t.Fatalf("Text = %q, notes = %v", res.Text, res.Notes)
	}
	if res.Firecrawl == nil || !res.Firecrawl.Attempted || !res.Firecrawl.Used {
		t.Fatalf("Firecrawl = %+v, want attempted and used", res.Firecrawl)
	}
	if got := res.Metadata["audioUrl"]; got != srv.URL+"/ep1.mp3" {
		t.Errorf("audioUrl = %v", got)
	}
}
