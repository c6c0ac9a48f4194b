package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/changefeed/changefeed/internal/cohort"
	"github.com/changefeed/changefeed/internal/db/models"
	"github.com/changefeed/changefeed/internal/safego"
	"github.com/changefeed/changefeed/internal/summary"
)

// PackageLister lists the tracked packages.
type PackageLister interface {
	List(ctx context.Context) ([]*models.Package, error)
}

// FeedSelector picks the cohorts a package's feed shows.
type FeedSelector interface {
	SelectFeedCohorts(ctx context.Context, packageID uuid.UUID) ([]*cohort.FeedCohort, error)
}

// SummaryEnsurer regenerates a cohort summary when it is stale.
type SummaryEnsurer interface {
	EnsureSummary(ctx context.Context, packageName string, c *cohort.Cohort) (*models.CohortSummary, error)
}

// SummaryRefreshJob keeps the summaries of feed cohorts current.
type SummaryRefreshJob struct {
	packages  PackageLister
	cohorts   FeedSelector
	summaries SummaryEnsurer

	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// NewSummaryRefreshJob creates a summary refresh job.
func NewSummaryRefreshJob(packages PackageLister, cohorts FeedSelector, summaries SummaryEnsurer) *SummaryRefreshJob {
	return &SummaryRefreshJob{
		packages:  packages,
		cohorts:   cohorts,
		summaries: summaries,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the periodic refresh job
func (j *SummaryRefreshJob) Start(ctx context.Context, interval time.Duration) {
	slog.Info("starting summary refresh job", "interval", interval)

	j.wg.Add(1)
	safego.Go("summary-refresh", func() {
		defer j.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				j.RunOnce(ctx)
			case <-j.stopCh:
				slog.Info("summary refresh job stopped")
				return
			case <-ctx.Done():
				slog.Info("summary refresh job context cancelled")
				return
			}
		}
	})
}

// Stop stops the refresh job
func (j *SummaryRefreshJob) Stop() {
	j.stopped.Do(func() { close(j.stopCh) })
	j.wg.Wait()
}

// RunOnce refreshes every package and returns the number of summaries regenerated.
func (j *SummaryRefreshJob) RunOnce(ctx context.Context) int {
	pkgs, err := j.packages.List(ctx)
	if err != nil {
		slog.Error("failed to list packages for summary refresh", "error", err)
		return 0
	}

	total := 0
	for _, pkg := range pkgs {
		if ctx.Err() != nil {
			break
		}
		n, err := j.RefreshPackage(ctx, pkg)
		total += n
		if err != nil {
			slog.Error("summary refresh failed", "package", pkg.Name, "error", err)
		}
	}
	if total > 0 {
		slog.Info("summary refresh finished", "packages", len(pkgs), "regenerated", total)
	}
	return total
}

// RefreshPackage regenerates the stale summaries of pkg's feed cohorts. A failing cohort does
// not stop the others; the first error is returned.
func (j *SummaryRefreshJob) RefreshPackage(ctx context.Context, pkg *models.Package) (int, error) {
	feed, err := j.cohorts.SelectFeedCohorts(ctx, pkg.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to select feed cohorts: %w", err)
	}

	var firstErr error
	n := 0
	for _, fc := range feed {
		if !summary.IsStale(fc.Summary, fc.Cohort) {
			continue
		}
		if _, err := j.summaries.EnsureSummary(ctx, pkg.Name, fc.Cohort); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		n++
	}
	return n, firstErr
}
