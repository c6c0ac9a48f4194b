// Package jobs contains the background workers that run on a schedule.
// The release sync job ingests new releases for every tracked package; the summary refresh
// job regenerates cohort summaries that no longer cover their cohort's newest release.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/changefeed/changefeed/internal/db/models"
	"github.com/changefeed/changefeed/internal/ingest"
	"github.com/changefeed/changefeed/internal/safego"
	"github.com/changefeed/changefeed/internal/telemetry"
)

// BatchSyncer runs one sync pass over all tracked packages.
type BatchSyncer interface {
	SyncAll(ctx context.Context) (*ingest.BatchResult, error)
}

// SyncDisabler switches automatic syncing off for a package.
type SyncDisabler interface {
	SetSyncDisabled(ctx context.Context, id uuid.UUID, disabled bool) error
}

// PackageRefresher regenerates stale summaries for one package.
type PackageRefresher interface {
	RefreshPackage(ctx context.Context, pkg *models.Package) (int, error)
}

// ReleaseSyncJob periodically syncs all tracked packages.
type ReleaseSyncJob struct {
	engine       BatchSyncer
	packages     SyncDisabler
	disableAfter int
	refresher    PackageRefresher

	runMu   sync.Mutex
	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// NewReleaseSyncJob creates a release sync job. disableAfter is the number of consecutive
// failures after which a package stops being synced; 0 never disables.
func NewReleaseSyncJob(engine BatchSyncer, packages SyncDisabler, disableAfter int) *ReleaseSyncJob {
	if disableAfter < 0 {
		disableAfter = 0
	}
	return &ReleaseSyncJob{
		engine:       engine,
		packages:     packages,
		disableAfter: disableAfter,
		stopCh:       make(chan struct{}),
	}
}

// WithRefresher makes the job refresh summaries of packages that gained releases.
func (j *ReleaseSyncJob) WithRefresher(r PackageRefresher) *ReleaseSyncJob {
	j.refresher = r
	return j
}

// Start begins the periodic sync job
func (j *ReleaseSyncJob) Start(ctx context.Context, interval time.Duration) {
	slog.Info("starting release sync job", "interval", interval)

	j.wg.Add(1)
	safego.Go("release-sync", func() {
		defer j.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		// Run initial sync immediately
		j.RunOnce(ctx)

		for {
			select {
			case <-ticker.C:
				j.RunOnce(ctx)
			case <-j.stopCh:
				slog.Info("release sync job stopped")
				return
			case <-ctx.Done():
				slog.Info("release sync job context cancelled")
				return
			}
		}
	})
}

// Stop stops the sync job and waits for a running pass to finish.
func (j *ReleaseSyncJob) Stop() {
	j.stopped.Do(func() { close(j.stopCh) })
	j.wg.Wait()
}

// RunOnce performs one sync pass. Overlapping passes are skipped.
func (j *ReleaseSyncJob) RunOnce(ctx context.Context) *ingest.BatchResult {
	if !j.runMu.TryLock() {
		slog.Warn("release sync pass already running, skipping")
		return nil
	}
	defer j.runMu.Unlock()

	batch, err := j.engine.SyncAll(ctx)
	if err != nil {
		slog.Error("release sync pass failed", "error", err)
		return nil
	}

	for _, perr := range batch.Errors {
		j.maybeDisable(ctx, perr)
	}

	if j.refresher != nil {
		for _, synced := range batch.Synced {
			if len(synced.ReleasesNeedingSummary) == 0 {
				continue
			}
			if _, err := j.refresher.RefreshPackage(ctx, synced.Package); err != nil {
				slog.Error("summary refresh after sync failed", "package", synced.Package.Name, "error", err)
			}
		}
	}
	return batch
}

func (j *ReleaseSyncJob) maybeDisable(ctx context.Context, perr ingest.PackageError) {
	if j.disableAfter == 0 || perr.Removed || perr.PackageRef == nil {
		return
	}
	if perr.ConsecutiveFailures < j.disableAfter {
		return
	}
	if err := j.packages.SetSyncDisabled(ctx, perr.PackageRef.ID, true); err != nil {
		slog.Error("failed to disable failing package", "package", perr.Package, "error", err)
		return
	}
	telemetry.PackagesDisabledTotal.Inc()
	slog.Warn("package sync disabled after repeated failures",
		"package", perr.Package, "failures", perr.ConsecutiveFailures, "last_error", perr.Message)
}
