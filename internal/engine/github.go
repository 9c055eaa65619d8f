package engine

import (
	"fmt"
	"regexp"
)

// githubBlobRe matches github.com/:owner/:repo/blob/:ref/:path
var githubBlobRe = regexp.MustCompile(`^https?://github\.com/([^/]+/[^/]+)/blob/([^/]+)/(.+)$`)

// rawGitHubRe matches raw.githubusercontent.com/:owner/:repo/:ref/:path
var rawGitHubRe = regexp.MustCompile(`^https?://raw\.githubusercontent\.com/([^/]+)/([^/]+)/([^/]+)/(.+)$`)

// binaryExtensions are never returned as text assets even from GitHub.
var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".ico": true,
	".pdf": true, ".zip": true, ".gz": true, ".tar": true, ".exe": true, ".bin": true,
}

// GithubRawURL converts a GitHub blob URL to raw.githubusercontent.com.
// Non-GitHub URLs are returned unchanged.
func GithubRawURL(u string) string {
	m := githubBlobRe.FindStringSubmatch(u)
	if m == nil {
		return u
	}
	return fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s", m[1], m[2], m[3])
}

// IsRawGitHubURL returns true for raw.githubusercontent.com URLs.
func IsRawGitHubURL(u string) bool {
	return rawGitHubRe.MatchString(u)
}

// isGitHubSourceFile reports blob or raw GitHub URLs of text files.
func isGitHubSourceFile(u, ext string) bool {
	if mediaExtensions[ext] || binaryExtensions[ext] {
		return false
	}
	return githubBlobRe.MatchString(u) || IsRawGitHubURL(u)
}
