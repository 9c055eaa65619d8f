package engine

import (
	"strings"
	"testing"
)

const articleHTML = `<!doctype html>
<html><head>
<title>Fallback Title</title>
<meta property="og:title" content="How Caches Fail">
<meta property="og:description" content="A field guide.">
<meta property="og:site_name" content="Example Blog">
<meta property="og:video" content="https://www.youtube.com/embed/dQw4w9WgXcQ">
</head><body>
<nav><a href="/">Home</a> <a href="/about">About</a></nav>
<article>
<h1>How Caches Fail</h1>
<p>Caches fail in three interesting ways, and each of them is worth a careful look before you ship a new layer in front of your database.</p>
<p>The first is stampedes: many requests miss at the same moment and all of them go to the origin, which then falls over under the load.</p>
<p>The second is poisoning, where a transient error is cached for far longer than the error itself lasted, so users keep seeing it.</p>
</article>
<footer>Copyright 2026</footer>
</body></html>`

func TestExtractArticleContent(t *testing.T) {
	text := ExtractArticleContent(articleHTML, "https://blog.example.com/caches")
	if !strings.Contains(text, "stampedes") || !strings.Contains(text, "poisoning") {
		t.Errorf("article text missing body paragraphs: %q", text)
	}
}

func TestExtractArticleContentMalformed(t *testing.T) {
	tests := []string{
		"",
		"<<<>>>",
		"<html><body><p>unclosed",
		"\x00\x01\x02",
	}
	for _, html := range tests {
		// must not panic; content may be empty
		_ = ExtractArticleContent(html, "https://example.com")
	}
	if got := ExtractArticleContent("", "https://example.com"); got != "" {
		t.Errorf("empty html = %q, want empty", got)
	}
}

func TestExtractWithGoqueryStripsBoilerplate(t *testing.T) {
	text := extractWithGoquery(articleHTML)
	if strings.Contains(text, "About") {
		t.Errorf("nav survived: %q", text)
	}
	if !strings.Contains(text, "The first is stampedes") {
		t.Errorf("body missing: %q", text)
	}
}

func TestExtractMetadataFromHTML(t *testing.T) {
	meta := ExtractMetadataFromHTML(articleHTML, "https://blog.example.com/caches")
	if meta.Title != "How Caches Fail" {
		t.Errorf("Title = %q", meta.Title)
	}
	if meta.Description != "A field guide." {
		t.Errorf("Description = %q", meta.Description)
	}
	if meta.SiteName != "Example Blog" {
		t.Errorf("SiteName = %q", meta.SiteName)
	}
	if len(meta.VideoURLs) != 1 || !strings.Contains(meta.VideoURLs[0], "dQw4w9WgXcQ") {
		t.Errorf("VideoURLs = %v", meta.VideoURLs)
	}
}

func TestExtractMetadataFallbacks(t *testing.T) {
	html := `<html><head><title> Plain   Page </title><meta name="description" content="desc"></head><body></body></html>`
	meta := ExtractMetadataFromHTML(html, "https://www.plain.example.org/x")
	if meta.Title != "Plain Page" {
		t.Errorf("Title = %q", meta.Title)
	}
	if meta.Description != "desc" {
		t.Errorf("Description = %q", meta.Description)
	}
	if meta.SiteName != "plain.example.org" {
		t.Errorf("SiteName = %q, want hostname", meta.SiteName)
	}
}
