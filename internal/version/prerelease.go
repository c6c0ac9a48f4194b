package version

import "strings"

// prereleaseKeywords mark a tag as pre-release even when it has no "-identifier" suffix.
var prereleaseKeywords = []string{
	"alpha", "beta", "canary", "preview", "rc", "next", "nightly",
	"dev", "experimental", "snapshot", "pre", "insiders",
}

// LooksPrerelease reports whether the version part of p contains one of the pre-release
// keywords (case-insensitive substring match). Unversioned tags never look pre-release.
func LooksPrerelease(p Parsed) bool {
	if !p.IsVersioned() {
		return false
	}
	text := strings.ToLower(p.versionText)
	for _, kw := range prereleaseKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// Classify parses tag and reports the pre-release flag used for grouping and storage:
// either a captured identifier or a keyword in the version part marks it pre-release.
func Classify(tag string) (Parsed, bool) {
	p := Parse(tag)
	return p, p.IsPrerelease() || LooksPrerelease(p)
}
