// Package ingest is the release sync engine: it pulls new releases of tracked packages from
// GitHub, newest first, and stores them together with the advanced watermark.
//
// A sync stops paging as soon as it reaches a release published at or before the stored
// watermark. Tags that are already stored are skipped individually, so releases with
// backdated publish times are never stored twice.
//
// Paging is capped at MaxPages. When the cap is hit the watermark still advances, so
// releases older than the last fetched page are never ingested. Such syncs report
// Result.Truncated; raise sync.max_pages before the first sync of a long-lived repository
// when its full history is wanted.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/changefeed/changefeed/internal/db/models"
	"github.com/changefeed/changefeed/internal/github"
	"github.com/changefeed/changefeed/internal/telemetry"
	"github.com/changefeed/changefeed/internal/version"
)

const (
	// DefaultPerPage is the GitHub page size used while streaming releases.
	DefaultPerPage = github.MaxPerPage
	// DefaultMaxPages bounds a first sync of a package with a long release history:
	// 1000 releases at the default page size.
	DefaultMaxPages = 10
)

// ErrSyncInProgress is returned when the same package is already being synced by this engine.
var ErrSyncInProgress = errors.New("sync already in progress for this package")

// ReleaseSource lists a repository's releases, newest first.
type ReleaseSource interface {
	ListReleases(ctx context.Context, owner, repo string, page, perPage int) ([]github.Release, error)
}

// BodyResolver turns a raw release body into the body to store (release link following and
// stub resolution). It never fails.
type BodyResolver interface {
	ResolveBody(ctx context.Context, owner, repo, tag, body string) string
}

// ReleaseStore persists releases.
type ReleaseStore interface {
	ExistingTags(ctx context.Context, packageID uuid.UUID, tags []string) (map[string]bool, error)
	CommitSync(ctx context.Context, packageID uuid.UUID, releases []*models.Release, fetchedAt time.Time) ([]*models.Release, error)
}

// PackageStore reads packages and records per-package sync outcomes.
type PackageStore interface {
	ListForSync(ctx context.Context) ([]*models.Package, error)
	RecordSyncSuccess(ctx context.Context, id uuid.UUID) error
	RecordSyncFailure(ctx context.Context, id uuid.UUID, message string) (int, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Result is the outcome of one package sync.
type Result struct {
	ReleasesAdded []*models.Release
	// ReleasesNeedingSummary are the added releases whose cohorts need a fresh summary.
	ReleasesNeedingSummary []*models.Release
	// Truncated is set when paging stopped at MaxPages before reaching the watermark or
	// the end of the history. Older releases were skipped for good.
	Truncated bool
}

// Options tunes an Engine. Zero values select the defaults.
type Options struct {
	PerPage     int
	MaxPages    int
	Concurrency int
}

// Engine syncs packages against a ReleaseSource.
type Engine struct {
	source   ReleaseSource
	resolver BodyResolver
	releases ReleaseStore
	packages PackageStore

	perPage     int
	maxPages    int
	concurrency int
	now         func() time.Time

	activeMu sync.Mutex
	active   map[uuid.UUID]bool
}

// NewEngine creates a sync engine.
func NewEngine(source ReleaseSource, resolver BodyResolver, releases ReleaseStore, packages PackageStore, opts Options) *Engine {
	e := &Engine{
		source:      source,
		resolver:    resolver,
		releases:    releases,
		packages:    packages,
		perPage:     opts.PerPage,
		maxPages:    opts.MaxPages,
		concurrency: opts.Concurrency,
		now:         time.Now,
		active:      make(map[uuid.UUID]bool),
	}
	if e.perPage <= 0 || e.perPage > github.MaxPerPage {
		e.perPage = DefaultPerPage
	}
	if e.maxPages <= 0 {
		e.maxPages = DefaultMaxPages
	}
	if e.concurrency <= 0 {
		e.concurrency = 1
	}
	return e
}

// SyncPackage ingests the releases of pkg published after its watermark. All accepted
// releases and the new watermark are committed together; on any error nothing is stored and
// the watermark stays where it was.
func (e *Engine) SyncPackage(ctx context.Context, pkg *models.Package) (*Result, error) {
	if !e.acquire(pkg.ID) {
		return nil, ErrSyncInProgress
	}
	defer e.release(pkg.ID)

	start := e.now()
	defer func() { telemetry.ReleaseSyncDuration.Observe(time.Since(start).Seconds()) }()

	candidates, truncated, err := e.collect(ctx, pkg)
	if err != nil {
		return nil, err
	}

	accepted := make([]*models.Release, 0, len(candidates))
	for _, gh := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		accepted = append(accepted, e.buildRelease(ctx, pkg, gh))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inserted, err := e.releases.CommitSync(ctx, pkg.ID, accepted, start)
	if err != nil {
		return nil, fmt.Errorf("failed to store releases for %s: %w", pkg.Name, err)
	}
	if len(inserted) > 0 {
		telemetry.ReleasesIngestedTotal.WithLabelValues(pkg.Name).Add(float64(len(inserted)))
	}

	if truncated {
		telemetry.ReleaseSyncTruncatedTotal.WithLabelValues(pkg.Name).Inc()
	}

	slog.Info("package synced", "package", pkg.Name, "added", len(inserted), "truncated", truncated, "duration", time.Since(start))
	return &Result{ReleasesAdded: inserted, ReleasesNeedingSummary: inserted, Truncated: truncated}, nil
}

// collect streams releases newest first and returns those not yet stored, stopping at the
// first release published at or before the watermark. It reports whether the page cap cut
// the history short.
func (e *Engine) collect(ctx context.Context, pkg *models.Package) ([]github.Release, bool, error) {
	watermark := pkg.Watermark()
	seen := make(map[string]bool)
	var out []github.Release

	for page := 1; page <= e.maxPages; page++ {
		list, err := e.source.ListReleases(ctx, pkg.Owner, pkg.Repo, page, e.perPage)
		if err != nil {
			return nil, false, fmt.Errorf("failed to list releases for %s: %w", pkg.Name, err)
		}

		var pending []github.Release
		stop := false
		for _, r := range list {
			if r.Draft || r.PublishedAt == nil || !pkg.MatchesTag(r.TagName) {
				continue
			}
			if !watermark.IsZero() && !r.PublishedAt.After(watermark) {
				stop = true
				break
			}
			if seen[r.TagName] {
				continue
			}
			seen[r.TagName] = true
			pending = append(pending, r)
		}

		fresh, err := e.dropStored(ctx, pkg.ID, pending)
		if err != nil {
			return nil, false, err
		}
		out = append(out, fresh...)

		if stop || len(list) < e.perPage {
			return out, false, nil
		}
	}

	slog.Warn("release paging limit reached, older releases will not be ingested",
		"package", pkg.Name, "pages", e.maxPages, "per_page", e.perPage)
	return out, true, nil
}

func (e *Engine) dropStored(ctx context.Context, packageID uuid.UUID, releases []github.Release) ([]github.Release, error) {
	if len(releases) == 0 {
		return nil, nil
	}
	tags := make([]string, len(releases))
	for i, r := range releases {
		tags[i] = r.TagName
	}
	existing, err := e.releases.ExistingTags(ctx, packageID, tags)
	if err != nil {
		return nil, fmt.Errorf("failed to check stored tags: %w", err)
	}

	fresh := releases[:0]
	for _, r := range releases {
		if !existing[r.TagName] {
			fresh = append(fresh, r)
		}
	}
	return fresh, nil
}

func (e *Engine) buildRelease(ctx context.Context, pkg *models.Package, gh github.Release) *models.Release {
	body := gh.Body
	if e.resolver != nil {
		body = e.resolver.ResolveBody(ctx, pkg.Owner, pkg.Repo, gh.TagName, body)
	}
	parsed, pre := version.Classify(gh.TagName)

	return &models.Release{
		ID:           uuid.New(),
		PackageID:    pkg.ID,
		TagName:      gh.TagName,
		Title:        optional(gh.Name),
		Body:         optional(body),
		PublishedAt:  *gh.PublishedAt,
		MajorVersion: parsed.Major,
		MinorVersion: parsed.Minor,
		PatchVersion: parsed.Patch,
		IsPrerelease: pre,
	}
}

func (e *Engine) acquire(id uuid.UUID) bool {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	if e.active[id] {
		return false
	}
	e.active[id] = true
	return true
}

func (e *Engine) release(id uuid.UUID) {
	e.activeMu.Lock()
	delete(e.active, id)
	e.activeMu.Unlock()
}

func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
