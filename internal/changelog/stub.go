// Package changelog detects release bodies that only point at a changelog elsewhere and
// replaces them with the matching section of that changelog.
package changelog

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// StubThreshold is the body length (in characters) at or above which a body is always
// treated as real release notes.
const StubThreshold = 300

var stubKeywords = []string{
	"changelog", "changes", "history", "release notes", "release-notes", "notes", "what's changed",
}

var (
	markdownLinkRE = regexp.MustCompile(`\[([^\]]*)\]\(\s*([^)\s]+)[^)]*\)`)
	bareURLRE      = regexp.MustCompile(`https?://[^\s<>()\[\]"']+`)

	stubProseREs = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bsee\s+(?:the\s+)?(?:full\s+)?(?:changelog|changes|history|release\s+notes)\b`),
		regexp.MustCompile(`(?i)\bsee\s+\S*(?:changelog|changes|history)\.(?:md|txt|rst)\b`),
		regexp.MustCompile(`(?i)full\s+change\s*log\W*:?\s*https?://`),
		regexp.MustCompile(`(?i)\b(?:changelog|changes|history)\.md\b`),
		regexp.MustCompile(`(?i)\b(?:details|notes)\s+(?:are\s+)?(?:available\s+)?(?:in|at)\s+(?:the\s+)?changelog\b`),
	}
)

// IsStubReference reports whether body is a short pointer to release notes kept elsewhere
// rather than the notes themselves.
func IsStubReference(body string) bool {
	if utf8.RuneCountInString(body) >= StubThreshold {
		return false
	}
	if strings.TrimSpace(body) == "" {
		return false
	}

	for _, m := range markdownLinkRE.FindAllStringSubmatch(body, -1) {
		if hasStubKeyword(m[1]) || hasStubKeyword(m[2]) {
			return true
		}
	}
	for _, u := range bareURLRE.FindAllString(body, -1) {
		if hasStubKeyword(u) {
			return true
		}
	}
	for _, re := range stubProseREs {
		if re.MatchString(body) {
			return true
		}
	}
	return false
}

func hasStubKeyword(s string) bool {
	s = strings.ToLower(s)
	for _, kw := range stubKeywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
