package cohort

import (
	"sort"
	"time"

	"github.com/changefeed/changefeed/internal/db/models"
)

// DefaultWindow is the trailing window of releases shown for a cohort and fed to the
// summarizer, measured back from the cohort's newest release.
const DefaultWindow = 7 * 24 * time.Hour

// SelectFeedCohorts picks the cohorts of one package shown in the feed: the current stable
// line (highest stable major) plus pre-release lines with a strictly greater major. A package
// without any stable cohort shows only its highest pre-release line. The result is ordered by
// major version descending, stable before pre-release within a major.
func SelectFeedCohorts(cohorts []*Cohort) []*Cohort {
	stable := currentStable(cohorts)

	var kept []*Cohort
	if stable == nil {
		var best *Cohort
		for _, c := range cohorts {
			if c.IsPrerelease && (best == nil || c.MajorVersion > best.MajorVersion) {
				best = c
			}
		}
		if best != nil {
			kept = append(kept, best)
		}
		return kept
	}

	kept = append(kept, stable)
	for _, c := range cohorts {
		if c.IsPrerelease && c.MajorVersion > stable.MajorVersion {
			kept = append(kept, c)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].MajorVersion != kept[j].MajorVersion {
			return kept[i].MajorVersion > kept[j].MajorVersion
		}
		return !kept[i].IsPrerelease && kept[j].IsPrerelease
	})
	return kept
}

// currentStable returns the stable cohort with the highest major version. The unversioned
// bucket only counts when there is no versioned stable cohort.
func currentStable(cohorts []*Cohort) *Cohort {
	var best *Cohort
	for _, c := range cohorts {
		if c.IsPrerelease || len(c.Releases) == 0 {
			continue
		}
		if best == nil || c.MajorVersion > best.MajorVersion {
			best = c
		}
	}
	return best
}

// WindowReleases returns the releases published within window of the newest one, newest
// first. If none qualify, the newest release alone is returned. The summarizer uses the same
// window so that displayed releases and summary text agree.
func WindowReleases(releases []*models.Release, window time.Duration) []*models.Release {
	if len(releases) == 0 {
		return nil
	}
	sorted := make([]*models.Release, len(releases))
	copy(sorted, releases)
	SortNewestFirst(sorted)

	cutoff := sorted[0].PublishedAt.Add(-window)
	var out []*models.Release
	for _, rel := range sorted {
		if rel.PublishedAt.Before(cutoff) {
			break
		}
		out = append(out, rel)
	}
	if len(out) == 0 {
		return sorted[:1]
	}
	return out
}
