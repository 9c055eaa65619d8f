package engine

import (
	"regexp"
	"strings"
)

// blockPhrases mark bot walls and interstitials. Matched case-insensitively.
var blockPhrases = []string{
	"captcha",
	"access denied",
	"enable javascript",
	"please enable cookies",
	"verify you are human",
	"are you a robot",
	"attention required",
	"just a moment",
	"checking your browser",
	"unusual traffic",
	"request blocked",
}

var (
	structuredDataRe = regexp.MustCompile(`(?is)<script[^>]*type=["']?application/(ld\+json|json)["']?[^>]*>.*?</script>`)
	otherScriptRe    = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
)

// BlockPhrase returns the first block-page phrase found in html.
// Structured-data scripts (ld+json, application/json) are ignored: pages that
// only embed such a blob containing a phrase are not treated as blocked.
func BlockPhrase(html string) (string, bool) {
	if html == "" {
		return "", false
	}
	s := structuredDataRe.ReplaceAllString(html, " ")
	s = otherScriptRe.ReplaceAllString(s, " ")
	s = strings.ToLower(s)
	for _, p := range blockPhrases {
		if strings.Contains(s, p) {
			return p, true
		}
	}
	return "", false
}

// LooksBlocked reports whether html matches a block-page phrase.
func LooksBlocked(html string) bool {
	_, ok := BlockPhrase(html)
	return ok
}

// IsThinContent reports extracted text below MinHTMLContentChars.
func IsThinContent(text string) bool {
	return len([]rune(strings.TrimSpace(text))) < MinHTMLContentChars
}
