package main

import (
	"context"
	"fmt"
	"io"

	"github.com/changefeed/changefeed/internal/cohort"
	"github.com/changefeed/changefeed/internal/config"
	"github.com/changefeed/changefeed/internal/summary"
)

// printFeed writes the feed cohorts of a package to w. Stale summaries are regenerated and
// streamed to w as they are produced when summaries are enabled.
func printFeed(ctx context.Context, cfg *config.Config, name string, w io.Writer) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	pkg, err := a.packages.GetByName(ctx, name)
	if err != nil {
		return err
	}
	if pkg == nil {
		return fmt.Errorf("package %q is not tracked", name)
	}

	feed, err := a.cohorts.SelectFeedCohorts(ctx, pkg.ID)
	if err != nil {
		return err
	}
	if len(feed) == 0 {
		fmt.Fprintf(w, "%s has no releases yet\n", pkg.Name)
		return nil
	}

	for _, fc := range feed {
		fmt.Fprintf(w, "== %s\n", cohortHeading(fc.Cohort))
		if err := writeSummary(ctx, a.summaries, pkg.Name, fc, w); err != nil {
			return err
		}
		for _, rel := range fc.Releases {
			fmt.Fprintf(w, "   %-30s %s\n", rel.TagName, rel.PublishedAt.Format("2006-01-02"))
		}
		fmt.Fprintln(w)
	}
	return nil
}

func writeSummary(ctx context.Context, svc *summary.Service, pkgName string, fc *cohort.FeedCohort, w io.Writer) error {
	switch {
	case svc != nil && summary.IsStale(fc.Summary, fc.Cohort):
		if _, err := svc.StreamSummary(ctx, pkgName, fc.Cohort, w); err != nil {
			return err
		}
		fmt.Fprintln(w)
	case fc.Summary != nil:
		fmt.Fprintln(w, fc.Summary.Summary)
	default:
		fmt.Fprintln(w, "(no summary)")
	}
	return nil
}

func cohortHeading(c *cohort.Cohort) string {
	if !c.IsVersioned() {
		return "unversioned"
	}
	if c.IsPrerelease {
		return fmt.Sprintf("v%d (pre-release)", c.MajorVersion)
	}
	return fmt.Sprintf("v%d", c.MajorVersion)
}
