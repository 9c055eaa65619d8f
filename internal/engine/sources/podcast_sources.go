package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/anatolykoptev/go_extract/internal/engine"
)

// AudioCandidate is a playable audio URL and what is known about it.
type AudioCandidate struct {
	URL      string
	Title    string
	Duration time.Duration
	Origin   string // direct, page, feed, apple, spotify
}

const (
	itunesDefaultBaseURL = "https://itunes.apple.com"
	spotifyEmbedBase     = "https://open.spotify.com/embed/episode/"
	maxFeedBytes         = 16 << 20
)

var (
	audioURLRe       = regexp.MustCompile(`https?:(?:\\?/){2}[^\s"'<>]+?\.(?:mp3|m4a|aac|ogg|oga|opus|wav|flac)(?:\?[^\s"'<>\\]*)?`)
	// audioKeyRe matches JSON keys platforms use for episode streams.
	audioKeyRe       = regexp.MustCompile(`"(?:contentUrl|audioUrl|audio_url|enclosureUrl|enclosure_url|streamUrl|stream_url|episodeUrl|mediaUrl|playbackUrl)"\s*:\s*"(https?:[^"]+)"`)
	spotifyListenRe  = regexp.MustCompile(`Listen to this episode from (.+?) on Spotify`)
	appleEpisodeIDRe = regexp.MustCompile(`^\d+$`)
	applePodcastIDRe = regexp.MustCompile(`/id(\d+)`)
)

// --- (a) page-embedded audio ---

// audioFromPage collects audio URLs from og:audio, <audio>/<source> tags,
// typed links, and JSON blobs in page scripts, in that order.
func audioFromPage(html, pageURL string, meta engine.PageMetadata) []string {
	base, _ := url.Parse(pageURL)
	seen := make(map[string]bool)
	var out []string
	add := func(raw string) {
		raw = strings.ReplaceAll(raw, `\/`, "/")
		raw = strings.ReplaceAll(raw, `\u0026`, "&")
		abs := resolveRef(base, engine.DecodeEntities(raw))
		if abs == "" || seen[abs] {
			return
		}
		seen[abs] = true
		out = append(out, abs)
	}

	for _, u := range meta.AudioURLs {
		add(u)
	}
	if html == "" {
		return out
	}
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
		doc.Find("audio[src], audio source[src], video source[type^='audio']").Each(func(_ int, s *goquery.Selection) {
			add(s.AttrOr("src", ""))
		})
		doc.Find("a[type^='audio'], link[type^='audio'], enclosure[url]").Each(func(_ int, s *goquery.Selection) {
			add(s.AttrOr("href", s.AttrOr("url", "")))
		})
	}
	for _, m := range audioKeyRe.FindAllStringSubmatch(html, -1) {
		add(m[1])
	}
	for _, m := range audioURLRe.FindAllString(html, -1) {
		add(m)
	}
	return out
}

// feedLinks returns RSS/Atom feeds advertised by the page.
func feedLinks(html, pageURL string) []string {
	if html == "" {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	base, _ := url.Parse(pageURL)
	var out []string
	doc.Find(`link[rel=alternate][type="application/rss+xml"], link[rel=alternate][type="application/atom+xml"]`).Each(func(_ int, s *goquery.Selection) {
		if abs := resolveRef(base, s.AttrOr("href", "")); abs != "" {
			out = append(out, abs)
		}
	})
	return out
}

// --- (b) RSS/Atom feeds ---

// ParseDuration reads HH:MM:SS, M:SS, or plain seconds. Unparsable input is 0.
func ParseDuration(s string) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0
	}
	var total float64
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || v < 0 {
			return 0
		}
		total = total*60 + v
	}
	return time.Duration(total * float64(time.Second))
}

func (p *PodcastProvider) parseFeed(ctx context.Context, feedURL string, timeout time.Duration) (*gofeed.Feed, error) {
	body, err := getBody(ctx, p.client, feedURL, map[string]string{
		"Accept": "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8",
	}, timeout, maxFeedBytes)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

// fromFeed picks the enclosure matching title, or the newest item when title is empty.
func (p *PodcastProvider) fromFeed(ctx context.Context, feedURL, title string, timeout time.Duration) (*AudioCandidate, error) {
	feed, err := p.parseFeed(ctx, feedURL, timeout)
	if err != nil {
		return nil, err
	}
	item := matchEpisode(feed.Items, title)
	if item == nil {
		if title != "" {
			return nil, fmt.Errorf("no feed item matches %q", title)
		}
		return nil, errors.New("feed has no episodes with audio")
	}
	c := &AudioCandidate{URL: enclosureURL(item), Title: item.Title, Origin: "feed"}
	if item.ITunesExt != nil {
		c.Duration = ParseDuration(item.ITunesExt.Duration)
	}
	return c, nil
}

func enclosureURL(item *gofeed.Item) string {
	for _, e := range item.Enclosures {
		if e == nil || e.URL == "" {
			continue
		}
		if e.Type == "" || strings.HasPrefix(e.Type, "audio/") || strings.HasPrefix(e.Type, "video/") {
			return e.URL
		}
	}
	return ""
}

// matchEpisode compares normalized titles: exact match first, then containment.
// An empty title selects the newest item carrying audio.
func matchEpisode(items []*gofeed.Item, title string) *gofeed.Item {
	var withAudio []*gofeed.Item
	for _, it := range items {
		if it != nil && enclosureURL(it) != "" {
			withAudio = append(withAudio, it)
		}
	}
	if len(withAudio) == 0 {
		return nil
	}
	want := engine.NormalizeTitle(title)
	if want == "" {
		return newestItem(withAudio)
	}
	for _, it := range withAudio {
		if engine.NormalizeTitle(it.Title) == want {
			return it
		}
	}
	for _, it := range withAudio {
		got := engine.NormalizeTitle(it.Title)
		if got != "" && (strings.Contains(want, got) || strings.Contains(got, want)) {
			return it
		}
	}
	return nil
}

func newestItem(items []*gofeed.Item) *gofeed.Item {
	best := items[0]
	for _, it := range items[1:] {
		if it.PublishedParsed != nil && (best.PublishedParsed == nil || it.PublishedParsed.After(*best.PublishedParsed)) {
			best = it
		}
	}
	return best
}

// --- (c) platform lookups ---

type itunesResponse struct {
	Results []itunesResult `json:"results"`
}

type itunesResult struct {
	WrapperType     string `json:"wrapperType"`
	Kind            string `json:"kind"`
	CollectionID    int64  `json:"collectionId"`
	CollectionName  string `json:"collectionName"`
	FeedURL         string `json:"feedUrl"`
	TrackID         int64  `json:"trackId"`
	TrackName       string `json:"trackName"`
	EpisodeURL      string `json:"episodeUrl"`
	ReleaseDate     string `json:"releaseDate"`
	TrackTimeMillis int64  `json:"trackTimeMillis"`
}

func (r itunesResult) released() time.Time {
	t, _ := time.Parse(time.RFC3339, r.ReleaseDate)
	return t
}

func (p *PodcastProvider) itunes(ctx context.Context, endpoint string, params url.Values, timeout time.Duration) (*itunesResponse, error) {
	body, err := getBody(ctx, p.client, p.itunesBaseURL+endpoint+"?"+params.Encode(), nil, timeout, 4<<20)
	if err != nil {
		return nil, fmt.Errorf("itunes %s: %w", endpoint, err)
	}
	var out itunesResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode itunes %s: %w", endpoint, err)
	}
	return &out, nil
}

// appleIDs reads the podcast id from /id123 and the episode id from ?i=.
func appleIDs(pageURL string) (podcastID, episodeID string) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", ""
	}
	if m := applePodcastIDRe.FindStringSubmatch(u.Path); m != nil {
		podcastID = m[1]
	}
	if i := u.Query().Get("i"); appleEpisodeIDRe.MatchString(i) {
		episodeID = i
	}
	return podcastID, episodeID
}

// fromApple looks the podcast up by numeric id. The episode named by ?i= wins;
// otherwise the newest episode by release date.
func (p *PodcastProvider) fromApple(ctx context.Context, pageURL string, timeout time.Duration) (*AudioCandidate, error) {
	podcastID, episodeID := appleIDs(pageURL)
	if podcastID == "" {
		return nil, errors.New("no Apple Podcasts id in URL")
	}
	resp, err := p.itunes(ctx, "/lookup", url.Values{
		"id":     {podcastID},
		"media":  {"podcast"},
		"entity": {"podcastEpisode"},
		"limit":  {"200"},
	}, timeout)
	if err != nil {
		return nil, err
	}

	var episodes []itunesResult
	for _, r := range resp.Results {
		if r.EpisodeURL != "" {
			episodes = append(episodes, r)
		}
	}
	if len(episodes) == 0 {
		return nil, errors.New("itunes lookup returned no episodes")
	}
	pick := -1
	if episodeID != "" {
		for i, e := range episodes {
			if strconv.FormatInt(e.TrackID, 10) == episodeID {
				pick = i
				break
			}
		}
	}
	if pick < 0 {
		sort.SliceStable(episodes, func(i, j int) bool { return episodes[i].released().After(episodes[j].released()) })
		pick = 0
	}
	e := episodes[pick]
	return &AudioCandidate{
		URL:      e.EpisodeURL,
		Title:    e.TrackName,
		Duration: time.Duration(e.TrackTimeMillis) * time.Millisecond,
		Origin:   "apple",
	}, nil
}

type spotifyNextData struct {
	Props struct {
		PageProps struct {
			State struct {
				Data struct {
					Entity spotifyEntity `json:"entity"`
				} `json:"data"`
			} `json:"state"`
		} `json:"pageProps"`
	} `json:"props"`
}

type spotifyEntity struct {
	Name     string `json:"name"`
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
	Duration int64  `json:"duration"`
}

// spotifyEpisode reads episode and show titles from __NEXT_DATA__ or Open Graph tags.
func spotifyEpisode(html string, meta engine.PageMetadata) (title, show string, duration time.Duration) {
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
		if raw := strings.TrimSpace(doc.Find("script#__NEXT_DATA__").First().Text()); raw != "" {
			var nd spotifyNextData
			if json.Unmarshal([]byte(raw), &nd) == nil {
				e := nd.Props.PageProps.State.Data.Entity
				title = firstNonEmptyString(e.Name, e.Title)
				show = e.Subtitle
				duration = time.Duration(e.Duration) * time.Millisecond
			}
		}
	}
	if title == "" {
		title = strings.TrimSuffix(meta.Title, " | Podcast on Spotify")
	}
	if show == "" {
		if m := spotifyListenRe.FindStringSubmatch(meta.Description); m != nil {
			show = m[1]
		}
	}
	return title, show, duration
}

// spotifyEmbedURL maps an episode page onto its embed page.
func spotifyEmbedURL(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	id := path.Base(u.Path)
	if !strings.Contains(u.Path, "/episode/") || id == "" || id == "/" {
		return ""
	}
	return spotifyEmbedBase + id
}

// fromSpotify resolves the public RSS enclosure of a Spotify episode via an
// iTunes show search, since Spotify streams are DRM-wrapped.
func (p *PodcastProvider) fromSpotify(ctx context.Context, html string, meta engine.PageMetadata, timeout time.Duration) (*AudioCandidate, error) {
	title, show, duration := spotifyEpisode(html, meta)
	if title == "" || show == "" {
		return nil, errors.New("spotify page carries no episode or show title")
	}
	resp, err := p.itunes(ctx, "/search", url.Values{
		"term":   {show},
		"media":  {"podcast"},
		"entity": {"podcast"},
		"limit":  {"5"},
	}, timeout)
	if err != nil {
		return nil, err
	}
	want := engine.NormalizeTitle(show)
	var lastErr error = fmt.Errorf("no iTunes podcast matches %q", show)
	for _, r := range resp.Results {
		if r.FeedURL == "" || engine.NormalizeTitle(r.CollectionName) != want {
			continue
		}
		c, err := p.fromFeed(ctx, r.FeedURL, title, timeout)
		if err != nil {
			lastErr = err
			continue
		}
		c.Origin = "spotify"
		if c.Duration == 0 {
			c.Duration = duration
		}
		return c, nil
	}
	return nil, lastErr
}

func firstNonEmptyString(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
