package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/changefeed/changefeed/internal/db/models"
	"github.com/changefeed/changefeed/internal/telemetry"
)

// PackageError is one package's failure within a batch.
type PackageError struct {
	Package string
	Message string
	// ConsecutiveFailures is the package's failure counter after this failure. It is 0 for
	// packages that were removed because their first sync failed.
	ConsecutiveFailures int
	// Removed is set when the package was pending its first sync and has been deleted.
	Removed bool
	// PackageRef is the failed package as loaded at the start of the batch.
	PackageRef *models.Package
}

func (e PackageError) Error() string {
	return fmt.Sprintf("%s: %s", e.Package, e.Message)
}

// PackageResult is one package's successful sync within a batch.
type PackageResult struct {
	Package *models.Package
	*Result
}

// BatchResult aggregates a SyncAll run.
type BatchResult struct {
	Synced []PackageResult
	Errors []PackageError
}

// ReleasesAdded is the total number of releases stored across the batch.
func (b *BatchResult) ReleasesAdded() int {
	n := 0
	for _, s := range b.Synced {
		n += len(s.ReleasesAdded)
	}
	return n
}

// SyncAll syncs every package enabled for sync. A failing package never stops the others;
// its error is recorded in the result and its failure counter is incremented. The returned
// error is only set when the package list itself cannot be loaded.
func (e *Engine) SyncAll(ctx context.Context) (*BatchResult, error) {
	pkgs, err := e.packages.ListForSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list packages for sync: %w", err)
	}

	// File reads are shared within a batch, never across batches.
	if r, ok := e.resolver.(interface{ Reset() }); ok {
		r.Reset()
	}

	var (
		mu    sync.Mutex
		batch = &BatchResult{}
	)
	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)

	for _, pkg := range pkgs {
		if ctx.Err() != nil {
			break
		}
		pkg := pkg
		g.Go(func() error {
			res, perr := e.SyncTracked(ctx, pkg)
			mu.Lock()
			defer mu.Unlock()
			if perr != nil {
				batch.Errors = append(batch.Errors, *perr)
				return nil
			}
			batch.Synced = append(batch.Synced, PackageResult{Package: pkg, Result: res})
			return nil
		})
	}
	_ = g.Wait()

	slog.Info("release sync batch finished",
		"packages", len(pkgs), "synced", len(batch.Synced), "failed", len(batch.Errors),
		"releases_added", batch.ReleasesAdded())
	return batch, nil
}

// SyncTracked syncs one package and records the outcome on it: success clears the failure
// counter, failure increments it. A package still pending its first sync is deleted when
// that sync fails. Syncs cut short by ctx are reported but not recorded.
func (e *Engine) SyncTracked(ctx context.Context, pkg *models.Package) (*Result, *PackageError) {
	res, err := e.SyncPackage(ctx, pkg)
	if err == nil {
		if rerr := e.packages.RecordSyncSuccess(ctx, pkg.ID); rerr != nil {
			slog.Error("failed to record sync success", "package", pkg.Name, "error", rerr)
		}
		return res, nil
	}

	telemetry.ReleaseSyncErrorsTotal.WithLabelValues(pkg.Name).Inc()
	perr := &PackageError{Package: pkg.Name, Message: err.Error(), PackageRef: pkg}
	// Overlapping and interrupted syncs say nothing about the package itself.
	if errors.Is(err, ErrSyncInProgress) || ctx.Err() != nil {
		return nil, perr
	}

	if pkg.PendingFirstSync {
		if derr := e.packages.Delete(context.WithoutCancel(ctx), pkg.ID); derr != nil {
			slog.Error("failed to remove package after failed first sync", "package", pkg.Name, "error", derr)
		} else {
			perr.Removed = true
			slog.Warn("removed package after failed first sync", "package", pkg.Name, "error", err)
		}
		return nil, perr
	}

	failures, rerr := e.packages.RecordSyncFailure(context.WithoutCancel(ctx), pkg.ID, err.Error())
	if rerr != nil {
		slog.Error("failed to record sync failure", "package", pkg.Name, "error", rerr)
	}
	perr.ConsecutiveFailures = failures
	slog.Warn("package sync failed", "package", pkg.Name, "failures", failures, "error", err)
	return nil, perr
}
