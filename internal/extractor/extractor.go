// Package extractor wires URL classification, fetching, the scrape fallback,
// article extraction, transcript resolution and finalization into one call.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/anatolykoptev/go_extract/internal/engine"
	"github.com/anatolykoptev/go_extract/internal/engine/sources"
)

// Strategy names reported in Diagnostics.Strategy.
const (
	StrategyHTML      = "html"
	StrategyFirecrawl = "firecrawl"
	StrategyMedia     = "media"
	StrategyAsset     = "asset"
)

// Extractor is safe for concurrent use; the only shared state is the cache.
type Extractor struct {
	cfg        engine.Config
	classifier *engine.Classifier
	fetcher    *engine.HTMLFetcher
	scrape     engine.ScrapeFunc
	resolver   *sources.Resolver
}

type options struct {
	cache     engine.TranscriptCache
	scrape    engine.ScrapeFunc
	scrapeSet bool
	providers []sources.TranscriptProvider
}

// Option customizes an Extractor.
type Option func(*options)

// WithCache sets the transcript cache. Without it every read is a miss.
func WithCache(c engine.TranscriptCache) Option {
	return func(o *options) { o.cache = c }
}

// WithScrape replaces the Firecrawl client built from the config; nil
// disables the scrape fallback.
func WithScrape(fn engine.ScrapeFunc) Option {
	return func(o *options) { o.scrape, o.scrapeSet = fn, true }
}

// WithProviders replaces the default transcript providers.
func WithProviders(ps ...sources.TranscriptProvider) Option {
	return func(o *options) { o.providers = ps }
}

// New builds an Extractor from cfg.
func New(cfg engine.Config, opts ...Option) *Extractor {
	cfg = cfg.WithDefaults()
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if !o.scrapeSet {
		o.scrape = engine.NewFirecrawlClient(cfg.FirecrawlAPIKey, cfg.FirecrawlBaseURL, cfg.HTTPClient).ScrapeFunc()
	}
	if o.providers == nil {
		o.providers = sources.DefaultProviders(cfg, o.scrape)
	}
	return &Extractor{
		cfg:        cfg,
		classifier: &engine.Classifier{Client: cfg.HTTPClient, Timeout: cfg.FetchTimeout},
		fetcher:    engine.NewHTMLFetcher(cfg),
		scrape:     o.scrape,
		resolver:   sources.NewResolver(cfg, o.cache, o.providers...),
	}
}

// page is what the fetch stage hands to resolution and finalization.
type page struct {
	url      string
	html     string
	body     string
	meta     engine.PageMetadata
	fetchErr error
}

// Extract resolves req.URL into normalized text. Failures carry the
// accumulated diagnostics as *engine.ExtractError.
func (e *Extractor) Extract(ctx context.Context, req engine.ExtractionRequest) (out *engine.ExtractedContent, err error) {
	engine.IncrExtractRequests()
	_ = engine.TrackOperation(ctx, "extract:"+req.URL, func(ctx context.Context) error {
		out, err = e.extract(ctx, req)
		return err
	})
	if err != nil {
		engine.IncrExtractErrors()
		slog.Warn("extract failed", slog.String("url", req.URL), slog.Any("err", err))
	}
	return out, err
}

func (e *Extractor) extract(ctx context.Context, req engine.ExtractionRequest) (*engine.ExtractedContent, error) {
	req = req.Normalized(e.cfg.FetchTimeout)
	if req.MaxCharacters <= 0 {
		req.MaxCharacters = e.cfg.MaxContentChars
	}
	req.URL = strings.TrimSpace(req.URL)

	diag := engine.Diagnostics{Strategy: StrategyHTML}
	diag.Firecrawl.CacheMode = req.CacheMode
	diag.Transcript.CacheMode = req.CacheMode

	cl := e.classifier.Classify(ctx, req.URL, req.Timeout)
	slog.Debug("classified", slog.String("url", req.URL), slog.String("kind", string(cl.Kind)), slog.Bool("media", cl.DirectMedia))

	var pg page
	switch {
	case cl.Kind == engine.KindRemoteAsset:
		return e.extractAsset(ctx, req, diag)
	case cl.DirectMedia:
		diag.Strategy = StrategyMedia
		pg = page{url: req.URL, meta: mediaMeta(req.URL)}
	default:
		pg = e.loadPage(ctx, req, cl, &diag)
		var ute *engine.UnsupportedContentTypeError
		if errors.As(pg.fetchErr, &ute) {
			switch {
			case engine.IsMediaContentType(ute.ContentType):
				cl.Kind, cl.DirectMedia = engine.KindPodcast, true
				diag.Strategy = StrategyMedia
				pg = page{url: req.URL, meta: mediaMeta(req.URL)}
			case engine.IsTextAssetContentType(ute.ContentType):
				return e.extractAsset(ctx, req, diag)
			}
		}
	}

	if req.MediaTranscriptMode == engine.MediaPrefer && cl.Kind == engine.KindWebpage && hasAudio(pg) {
		cl.Kind = engine.KindPodcast
		diag.Transcript.Note("Page embeds audio; transcribing because media transcripts are preferred")
	}

	pc := &sources.ProviderContext{
		URL:            pg.url,
		HTML:           pg.html,
		Meta:           pg.meta,
		Classification: cl,
		Request:        req,
	}
	res := e.resolver.Resolve(ctx, pc, &diag.Transcript)
	if res.Firecrawl != nil {
		diag.Firecrawl.Merge(*res.Firecrawl)
	}

	var mce *engine.MissingCredentialsError
	if errors.As(res.Err, &mce) {
		if cl.DirectMedia || req.MediaTranscriptMode == engine.MediaPrefer || strings.TrimSpace(pg.body) == "" {
			return nil, &engine.ExtractError{URL: req.URL, Err: mce, Diagnostics: diag}
		}
	}
	if !res.Resolved() && strings.TrimSpace(pg.body) == "" {
		return nil, &engine.ExtractError{URL: req.URL, Err: noContent(pg.fetchErr, res.Err), Diagnostics: diag}
	}
	if !res.Resolved() && res.Err != nil {
		slog.Debug("transcript unavailable, using article text", slog.String("url", pg.url), slog.Any("err", res.Err))
	}

	return engine.FinalizeContent(engine.FinalizeInput{
		URL:           pg.url,
		Meta:          pg.meta,
		Body:          pg.body,
		Transcript:    res,
		Diagnostics:   diag,
		MaxCharacters: req.MaxCharacters,
	}), nil
}

// loadPage fetches the page directly and falls back to the scrape adapter
// when the fetch failed, the page looks blocked or thin, or policy forces it.
func (e *Extractor) loadPage(ctx context.Context, req engine.ExtractionRequest, cl engine.Classification, diag *engine.Diagnostics) page {
	pg := page{url: req.URL}
	doc, err := e.fetcher.Fetch(ctx, req.URL, req.Timeout, req.OnProgress)
	if err != nil {
		pg.fetchErr = err
		slog.Warn("direct fetch failed", slog.String("url", req.URL), slog.Any("err", err))
		diag.Firecrawl.Note("Direct fetch failed: %v", err)
	} else {
		pg.url = doc.FinalURL
		pg.html = doc.HTML
		pg.meta = engine.ExtractMetadataFromHTML(doc.HTML, doc.FinalURL)
		pg.body = engine.ExtractArticleContent(doc.HTML, doc.FinalURL)
	}
	var ute *engine.UnsupportedContentTypeError
	if errors.As(err, &ute) {
		return pg
	}

	reason := fallbackReason(req, cl, pg)
	if reason == "" {
		return pg
	}
	if req.FirecrawlMode == engine.FirecrawlOff {
		diag.Firecrawl.Note("Firecrawl disabled for this request (%s)", reason)
		return pg
	}

	scraped, fd := engine.FetchWithFirecrawl(ctx, pg.url, e.scrape, engine.ScrapeOptions{
		CacheMode: req.CacheMode,
		Timeout:   req.Timeout,
	}, reason, req.OnProgress)
	fd.Notes = append(diag.Firecrawl.Notes, fd.Notes...)
	diag.Firecrawl = fd
	if scraped == nil {
		return pg
	}

	body := engine.NormalizeContent(scraped.Markdown)
	if body == "" && scraped.HTML != "" {
		body = engine.ExtractArticleContent(scraped.HTML, pg.url)
	}
	if body != "" {
		pg.body = body
		diag.Strategy = StrategyFirecrawl
	}
	if scraped.HTML != "" && (pg.html == "" || engine.LooksBlocked(pg.html)) {
		pg.html = scraped.HTML
		pg.meta = engine.ExtractMetadataFromHTML(scraped.HTML, pg.url)
	}
	mergeScrapeMeta(&pg.meta, scraped)
	return pg
}

// fallbackReason names why the scrape fallback should run, or "".
func fallbackReason(req engine.ExtractionRequest, cl engine.Classification, pg page) string {
	if cl.Kind == engine.KindYouTube {
		return ""
	}
	switch {
	case req.FirecrawlMode == engine.FirecrawlAlways:
		return "forced by request"
	case pg.fetchErr != nil:
		return "direct fetch failed"
	}
	if phrase, ok := engine.BlockPhrase(pg.html); ok && engine.IsThinContent(pg.body) {
		return fmt.Sprintf("page looks blocked (%q)", phrase)
	}
	if cl.Kind == engine.KindWebpage && engine.IsThinContent(pg.body) {
		return "thin content"
	}
	return ""
}

// mergeScrapeMeta fills metadata the page itself did not provide.
func mergeScrapeMeta(meta *engine.PageMetadata, r *engine.ScrapeResult) {
	if meta.Title == "" {
		meta.Title = firstOf(r.MetaString("title"), r.MetaString("ogTitle"))
	}
	if meta.Description == "" {
		meta.Description = firstOf(r.MetaString("description"), r.MetaString("ogDescription"))
	}
	if meta.SiteName == "" {
		meta.SiteName = r.MetaString("ogSiteName")
	}
}

// extractAsset returns a text asset verbatim.
func (e *Extractor) extractAsset(ctx context.Context, req engine.ExtractionRequest, diag engine.Diagnostics) (*engine.ExtractedContent, error) {
	diag.Strategy = StrategyAsset
	doc, err := engine.FetchRawContent(ctx, e.cfg.HTTPClient, engine.GithubRawURL(req.URL), req.Timeout, req.OnProgress)
	if err != nil {
		return nil, &engine.ExtractError{URL: req.URL, Err: err, Diagnostics: diag}
	}
	if doc.HTML == "" {
		return nil, &engine.ExtractError{URL: req.URL, Err: engine.ErrNoContent, Diagnostics: diag}
	}
	return engine.FinalizeContent(engine.FinalizeInput{
		URL:           doc.FinalURL,
		Meta:          engine.PageMetadata{Title: path.Base(doc.FinalURL), SiteName: hostname(doc.FinalURL)},
		Body:          doc.HTML,
		Diagnostics:   diag,
		MaxCharacters: req.MaxCharacters,
	}), nil
}

func noContent(fetchErr, transcriptErr error) error {
	var ute *engine.UnsupportedContentTypeError
	if errors.As(fetchErr, &ute) {
		return fetchErr
	}
	err := engine.ErrNoContent
	if fetchErr != nil {
		err = fmt.Errorf("%w: %w", err, fetchErr)
	}
	if transcriptErr != nil {
		err = fmt.Errorf("%w; %w", err, transcriptErr)
	}
	return err
}

func hasAudio(pg page) bool {
	return len(pg.meta.AudioURLs) > 0 || strings.Contains(strings.ToLower(pg.html), "<audio")
}

// mediaMeta derives a title from the file name of a media URL.
func mediaMeta(rawURL string) engine.PageMetadata {
	meta := engine.PageMetadata{SiteName: hostname(rawURL)}
	if u, err := url.Parse(rawURL); err == nil {
		if name, err := url.PathUnescape(path.Base(u.Path)); err == nil && name != "/" && name != "." {
			meta.Title = strings.TrimSuffix(name, path.Ext(name))
		}
	}
	return meta
}

func hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

func firstOf(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
