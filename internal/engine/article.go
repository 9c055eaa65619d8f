package engine

import (
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/dyatlov/go-opengraph/opengraph"
	"github.com/go-shiori/go-readability"
)

var (
	collapseSpaceRe = regexp.MustCompile(`[ \t]+`)
	scriptBlockRe   = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
)

// boilerplateSelectors are removed before the goquery fallback reads body text.
var boilerplateSelectors = []string{
	"script", "style", "noscript", "iframe", "svg", "template",
	"header", "footer", "nav", "aside", "form",
	".advertisement", ".ad", ".ads", ".sidebar", ".comments", ".cookie-banner",
	"[role=navigation]", "[role=banner]", "[role=contentinfo]", "[aria-hidden=true]",
}

// PageMetadata is what the page says about itself.
type PageMetadata struct {
	Title       string
	Description string
	SiteName    string
	VideoURLs   []string // og:video
	AudioURLs   []string // og:audio
}

// ExtractArticleContent returns the main readable text of html as markdown.
// Readability runs first; the goquery fallback strips boilerplate and reads the
// main container. Malformed input yields "".
func ExtractArticleContent(html, pageURL string) (text string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("article extraction panicked", slog.String("url", pageURL), slog.Any("panic", r))
			text = ""
		}
	}()
	if strings.TrimSpace(html) == "" {
		return ""
	}

	parsedURL, _ := url.Parse(pageURL)
	article, err := readability.FromReader(strings.NewReader(html), parsedURL)
	if err == nil && strings.TrimSpace(article.Content) != "" {
		md, mdErr := htmltomarkdown.ConvertString(article.Content)
		if mdErr != nil || strings.TrimSpace(md) == "" {
			md = article.TextContent
		}
		if md = NormalizeContent(md); md != "" {
			return md
		}
	}
	if err != nil {
		slog.Debug("readability failed, using goquery", slog.String("url", pageURL), slog.Any("error", err))
	}
	return extractWithGoquery(html)
}

func extractWithGoquery(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return stripTags(html)
	}
	doc.Find(strings.Join(boilerplateSelectors, ", ")).Remove()

	sel := doc.Find("article, main, [role=main], .content, .post-content, .article-content, #content").First()
	if sel.Length() == 0 {
		sel = doc.Find("body")
	}

	var lines []string
	sel.Find("h1, h2, h3, h4, p, li, pre, blockquote, td").Each(func(_ int, s *goquery.Selection) {
		if line := strings.TrimSpace(collapseSpaceRe.ReplaceAllString(s.Text(), " ")); line != "" {
			lines = append(lines, line)
		}
	})
	if len(lines) == 0 {
		return NormalizeTranscript(sel.Text())
	}
	return NormalizeContent(strings.Join(lines, "\n\n"))
}

// stripTags is the last resort when the document cannot be parsed at all.
func stripTags(html string) string {
	html = scriptBlockRe.ReplaceAllString(html, "")
	return NormalizeTranscript(DecodeEntities(htmlTagRe.ReplaceAllString(html, "\n")))
}

// ExtractMetadataFromHTML reads title, description and site name.
// Open Graph wins, then <title>/<meta name=description>, then the hostname.
func ExtractMetadataFromHTML(html, pageURL string) PageMetadata {
	var meta PageMetadata

	og := opengraph.NewOpenGraph()
	if err := og.ProcessHTML(strings.NewReader(html)); err == nil {
		meta.Title = strings.TrimSpace(og.Title)
		meta.Description = strings.TrimSpace(og.Description)
		meta.SiteName = strings.TrimSpace(og.SiteName)
		for _, v := range og.Videos {
			if u := firstNonEmpty(v.SecureURL, v.URL); u != "" {
				meta.VideoURLs = append(meta.VideoURLs, u)
			}
		}
		for _, a := range og.Audios {
			if u := firstNonEmpty(a.SecureURL, a.URL); u != "" {
				meta.AudioURLs = append(meta.AudioURLs, u)
			}
		}
	}

	if meta.Title == "" || meta.Description == "" || meta.SiteName == "" {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
			if meta.Title == "" {
				meta.Title = strings.TrimSpace(doc.Find("title").First().Text())
			}
			if meta.Title == "" {
				meta.Title = strings.TrimSpace(doc.Find("h1").First().Text())
			}
			if meta.Description == "" {
				meta.Description = metaContent(doc, `meta[name="description"]`, `meta[name="twitter:description"]`)
			}
			if meta.SiteName == "" {
				meta.SiteName = metaContent(doc, `meta[name="application-name"]`, `meta[name="apple-mobile-web-app-title"]`)
			}
		}
	}
	if meta.SiteName == "" {
		if u, err := url.Parse(pageURL); err == nil {
			meta.SiteName = strings.TrimPrefix(u.Hostname(), "www.")
		}
	}
	meta.Title = collapseSpaceRe.ReplaceAllString(strings.TrimSpace(meta.Title), " ")
	return meta
}

func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
