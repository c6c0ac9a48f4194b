// Package version turns release tag strings into structured version values.
//
// Tags in the wild follow many conventions: plain semver ("v1.2.3-rc.1"), monorepo tags
// ("@scope/pkg@2.3.4", "packages/cli/v1.0.0"), branch-style tags ("release-1.4.0") and
// two-part versions ("v2.1"). Parse tries an ordered list of strategies and never fails:
// anything it cannot read is reported as unversioned (Major == Unversioned).
package version

import (
	"regexp"
	"strconv"
	"strings"
)

// Unversioned is the Major value assigned to tags that do not carry a recognisable version.
const Unversioned = -1

// Parsed is the structured form of a release tag.
type Parsed struct {
	Major int
	Minor int
	Patch int
	// Prerelease is the identifier after the first "-" of the version, e.g. "rc.1".
	Prerelease *string
	// Build is the metadata after "+", e.g. "build.5".
	Build *string
	// MonorepoPackage is the package path of a monorepo tag, e.g. "@my-scope/pkg".
	MonorepoPackage *string
	Tag             string

	// versionText is the tag from the start of the major component onwards. Keyword
	// heuristics look only at this part so package paths cannot leak into them.
	versionText string
}

// IsVersioned reports whether the tag carried a recognisable version.
func (p Parsed) IsVersioned() bool {
	return p.Major != Unversioned
}

// IsPrerelease reports whether the matched pattern captured a non-empty pre-release identifier.
func (p Parsed) IsPrerelease() bool {
	return p.Prerelease != nil && *p.Prerelease != ""
}

// PrereleaseType returns the first alphabetic run of the pre-release identifier ("rc" for
// "rc.1"), "prerelease" when the identifier has no letters, and "stable" when there is none.
func (p Parsed) PrereleaseType() string {
	if !p.IsPrerelease() {
		return "stable"
	}
	if m := alphaRunRE.FindString(*p.Prerelease); m != "" {
		return strings.ToLower(m)
	}
	return "prerelease"
}

var alphaRunRE = regexp.MustCompile(`[A-Za-z]+`)

// unversioned builds the result for a tag that no strategy could read.
func unversioned(tag string) Parsed {
	return Parsed{Major: Unversioned, Tag: tag}
}

// strategy is one tag convention: a pattern and the capture-group layout used to read it.
// Group indexes of 0 mean the convention has no such component.
type strategy struct {
	name    string
	pattern *regexp.Regexp
	pkg     int
	major   int
	minor   int
	patch   int
	pre     int
	build   int
	// accept can veto a match so that a later strategy gets the tag instead.
	accept func(groups []string) bool
}

// Patterns are anchored at the start only: trailing text that is not a conformant
// pre-release or build suffix ("1.0.0beta1") is ignored by the strict parse and left to
// the keyword heuristic.
var strategies = []strategy{
	{
		name:    "monorepo",
		pattern: regexp.MustCompile(`^((?:@[\w.-]+/)?[\w.-]+(?:/[\w.-]+)*)[@/]v?(\d+)\.(\d+)\.(\d+)(?:-([0-9A-Za-z.-]+))?(?:\+([0-9A-Za-z.-]+))?`),
		pkg:     1, major: 2, minor: 3, patch: 4, pre: 5, build: 6,
		// "release/v1.2.3" is a branch-style tag, not a package called "release".
		accept: func(groups []string) bool {
			return !strings.EqualFold(groups[1], "release")
		},
	},
	{
		name:    "release",
		pattern: regexp.MustCompile(`(?i)^release[-/]v?(\d+)\.(\d+)\.(\d+)(?:-([0-9A-Za-z.-]+))?`),
		major:   1, minor: 2, patch: 3, pre: 4,
	},
	{
		name:    "semver",
		pattern: regexp.MustCompile(`^v?(\d+)\.(\d+)\.(\d+)(?:-([0-9A-Za-z.-]+))?(?:\+([0-9A-Za-z.-]+))?`),
		major:   1, minor: 2, patch: 3, pre: 4, build: 5,
	},
	{
		name:    "two-part",
		pattern: regexp.MustCompile(`^v?(\d+)\.(\d+)(?:-([0-9A-Za-z.-]+))?`),
		major:   1, minor: 2, pre: 3,
	},
}

// Parse reads a release tag. It never fails: tags that match no strategy, or whose numeric
// components do not fit in an int, are returned with Major == Unversioned.
func Parse(tag string) Parsed {
	trimmed := strings.TrimSpace(tag)
	for _, s := range strategies {
		idx := s.pattern.FindStringSubmatchIndex(trimmed)
		if idx == nil {
			continue
		}
		groups := submatches(trimmed, idx)
		if s.accept != nil && !s.accept(groups) {
			continue
		}
		p, ok := s.extract(trimmed, groups, idx)
		if !ok {
			return unversioned(tag)
		}
		p.Tag = tag
		return p
	}
	return unversioned(tag)
}

func (s strategy) extract(tag string, groups []string, idx []int) (Parsed, bool) {
	var p Parsed
	var err error

	if p.Major, err = strconv.Atoi(groups[s.major]); err != nil {
		return Parsed{}, false
	}
	if p.Minor, err = strconv.Atoi(groups[s.minor]); err != nil {
		return Parsed{}, false
	}
	if s.patch > 0 {
		if p.Patch, err = strconv.Atoi(groups[s.patch]); err != nil {
			return Parsed{}, false
		}
	}
	p.Prerelease = optional(groups, s.pre)
	p.Build = optional(groups, s.build)
	p.MonorepoPackage = optional(groups, s.pkg)

	// Major is always a participating group, so its start offset is valid.
	p.versionText = tag[idx[2*s.major]:]
	return p, true
}

func submatches(s string, idx []int) []string {
	groups := make([]string, len(idx)/2)
	for i := range groups {
		if idx[2*i] >= 0 {
			groups[i] = s[idx[2*i]:idx[2*i+1]]
		}
	}
	return groups
}

func optional(groups []string, i int) *string {
	if i <= 0 || i >= len(groups) || groups[i] == "" {
		return nil
	}
	v := groups[i]
	return &v
}
