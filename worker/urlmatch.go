// vidvault/worker/urlmatch.go
package worker

import (
	"regexp"
	"strings"
)

var videoIDPatterns = []*regexp.Regexp{
	// YouTube
	regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/|youtube\.com/embed/)([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`youtube\.com/v/([a-zA-Z0-9_-]+)`),
	// TikTok
	regexp.MustCompile(`tiktok\.com/@[^/]+/video/(\d+)`),
	regexp.MustCompile(`tiktok\.com/t/([a-zA-Z0-9]+)`),
}

var domainPattern = regexp.MustCompile(`://([^/]+)`)
var domainPrefixPattern = regexp.MustCompile(`^(www\.|m\.)`)

// urlsMatch checks that the URL the extractor resolved corresponds to the
// one that was requested: by video ID when one can be extracted from
// both, by domain otherwise. A mismatch is reported as a warning, never
// as a failure.
func urlsMatch(originalURL, processedURL string) bool {
	if originalURL == "" || processedURL == "" {
		return false
	}
	original := strings.ToLower(strings.TrimSpace(originalURL))
	processed := strings.ToLower(strings.TrimSpace(processedURL))

	if a, b := extractVideoID(original), extractVideoID(processed); a != "" && b != "" {
		return a == b
	}
	return extractDomain(original) == extractDomain(processed)
}

func extractVideoID(url string) string {
	for _, pattern := range videoIDPatterns {
		if m := pattern.FindStringSubmatch(url); m != nil {
			return m[1]
		}
	}
	return ""
}

func extractDomain(url string) string {
	m := domainPattern.FindStringSubmatch(url)
	if m == nil {
		return url
	}
	return domainPrefixPattern.ReplaceAllString(m[1], "")
}
