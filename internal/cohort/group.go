// Package cohort groups a package's releases into version cohorts (same major version and
// pre-release status) and selects which cohorts the feed shows.
package cohort

import (
	"sort"

	"github.com/google/uuid"

	"github.com/changefeed/changefeed/internal/db/models"
	"github.com/changefeed/changefeed/internal/version"
)

// Key identifies a cohort and the cached summary that belongs to it.
type Key struct {
	PackageID    uuid.UUID
	MajorVersion int
	IsPrerelease bool
}

// Cohort is the set of releases of one package sharing a major version and pre-release
// status. Releases are ordered newest first.
type Cohort struct {
	Key
	Releases []*models.Release
}

// Latest returns the newest release of the cohort.
func (c *Cohort) Latest() *models.Release {
	if len(c.Releases) == 0 {
		return nil
	}
	return c.Releases[0]
}

// IsVersioned reports whether the cohort holds releases with a readable version.
func (c *Cohort) IsVersioned() bool {
	return c.MajorVersion != version.Unversioned
}

type releaseKey struct {
	packageID uuid.UUID
	tag       string
}

// Group buckets releases by (package, major version, pre-release). Releases repeating an
// earlier (package, tag) pair are dropped, so grouping overlapping batches gives the same
// result as grouping their union. Cohorts are returned in order of first appearance.
func Group(releases []*models.Release) []*Cohort {
	seen := make(map[releaseKey]struct{}, len(releases))
	byKey := make(map[Key]*Cohort)
	var out []*Cohort

	for _, rel := range releases {
		if rel == nil {
			continue
		}
		rk := releaseKey{rel.PackageID, rel.TagName}
		if _, dup := seen[rk]; dup {
			continue
		}
		seen[rk] = struct{}{}

		parsed, pre := version.Classify(rel.TagName)
		key := Key{PackageID: rel.PackageID, MajorVersion: parsed.Major, IsPrerelease: pre}

		c, ok := byKey[key]
		if !ok {
			c = &Cohort{Key: key}
			byKey[key] = c
			out = append(out, c)
		}
		c.Releases = append(c.Releases, rel)
	}

	for _, c := range out {
		SortNewestFirst(c.Releases)
	}
	return out
}

// SortNewestFirst orders releases by publish time, newest first. Releases published at the
// same instant are ordered by version precedence, then by tag.
func SortNewestFirst(releases []*models.Release) {
	sort.SliceStable(releases, func(i, j int) bool {
		a, b := releases[i], releases[j]
		if !a.PublishedAt.Equal(b.PublishedAt) {
			return a.PublishedAt.After(b.PublishedAt)
		}
		if c := version.Compare(a.TagName, b.TagName); c != 0 {
			return c > 0
		}
		return a.TagName > b.TagName
	})
}
