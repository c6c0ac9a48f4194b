// release_repository.go implements ReleaseRepository: ingested releases, the atomic
// "insert releases + advance watermark" sync commit, and the version backfill pass.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/changefeed/changefeed/internal/db/models"
)

const releaseColumns = `
	id, package_id, tag_name, title, body, published_at, fetched_at,
	major_version, minor_version, patch_version, is_prerelease`

// VersionFields are the denormalized version columns of a release.
type VersionFields struct {
	Major        int
	Minor        int
	Patch        int
	IsPrerelease bool
}

// ReleaseRepository handles database operations for releases
type ReleaseRepository struct {
	db *sqlx.DB
}

// NewReleaseRepository creates a new release repository
func NewReleaseRepository(db *sqlx.DB) *ReleaseRepository {
	return &ReleaseRepository{db: db}
}

// ExistingTags returns the subset of tags already stored for the package.
func (r *ReleaseRepository) ExistingTags(ctx context.Context, packageID uuid.UUID, tags []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(tags))
	if len(tags) == 0 {
		return existing, nil
	}

	var found []string
	query := `SELECT tag_name FROM releases WHERE package_id = $1 AND tag_name = ANY($2)`
	if err := r.db.SelectContext(ctx, &found, query, packageID, pq.Array(tags)); err != nil {
		return nil, fmt.Errorf("failed to look up existing tags: %w", err)
	}
	for _, tag := range found {
		existing[tag] = true
	}
	return existing, nil
}

// CommitSync stores the releases accepted by one sync run and moves the package watermark to
// fetchedAt, all in one transaction. Tags that were stored concurrently by another run are
// skipped. It returns the releases actually inserted.
func (r *ReleaseRepository) CommitSync(ctx context.Context, packageID uuid.UUID, releases []*models.Release, fetchedAt time.Time) ([]*models.Release, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin sync transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	insert := `
		INSERT INTO releases (` + releaseColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (package_id, tag_name) DO NOTHING
		RETURNING id
	`
	inserted := make([]*models.Release, 0, len(releases))
	for _, rel := range releases {
		if rel.ID == uuid.Nil {
			rel.ID = uuid.New()
		}
		rel.PackageID = packageID
		rel.FetchedAt = fetchedAt

		var id uuid.UUID
		err := tx.QueryRowxContext(ctx, insert,
			rel.ID, rel.PackageID, rel.TagName, rel.Title, rel.Body, rel.PublishedAt, rel.FetchedAt,
			rel.MajorVersion, rel.MinorVersion, rel.PatchVersion, rel.IsPrerelease,
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to insert release %s: %w", rel.TagName, err)
		}
		inserted = append(inserted, rel)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE packages SET last_fetched_at = $2, updated_at = $2 WHERE id = $1`,
		packageID, fetchedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to advance watermark: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit sync: %w", err)
	}
	return inserted, nil
}

// ListByPackage returns every release of a package, newest first.
func (r *ReleaseRepository) ListByPackage(ctx context.Context, packageID uuid.UUID) ([]*models.Release, error) {
	query := `SELECT ` + releaseColumns + `
		FROM releases
		WHERE package_id = $1
		ORDER BY published_at DESC, tag_name DESC
	`
	var releases []*models.Release
	if err := r.db.SelectContext(ctx, &releases, query, packageID); err != nil {
		return nil, fmt.Errorf("failed to list releases: %w", err)
	}
	return releases, nil
}

// GetByTag retrieves one release of a package by tag
func (r *ReleaseRepository) GetByTag(ctx context.Context, packageID uuid.UUID, tag string) (*models.Release, error) {
	var rel models.Release
	err := r.db.GetContext(ctx, &rel,
		`SELECT `+releaseColumns+` FROM releases WHERE package_id = $1 AND tag_name = $2`, packageID, tag)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get release: %w", err)
	}
	return &rel, nil
}

// BackfillVersions recomputes the version columns of every release with derive and writes
// back the rows whose values changed, in a single transaction. It returns the number of
// rows updated.
func (r *ReleaseRepository) BackfillVersions(ctx context.Context, derive func(tag string) VersionFields) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin backfill transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var rows []struct {
		ID           uuid.UUID `db:"id"`
		TagName      string    `db:"tag_name"`
		MajorVersion int       `db:"major_version"`
		MinorVersion int       `db:"minor_version"`
		PatchVersion int       `db:"patch_version"`
		IsPrerelease bool      `db:"is_prerelease"`
	}
	if err := tx.SelectContext(ctx, &rows, `
		SELECT id, tag_name, major_version, minor_version, patch_version, is_prerelease
		FROM releases
		FOR UPDATE
	`); err != nil {
		return 0, fmt.Errorf("failed to read releases for backfill: %w", err)
	}

	updated := 0
	for _, row := range rows {
		want := derive(row.TagName)
		have := VersionFields{row.MajorVersion, row.MinorVersion, row.PatchVersion, row.IsPrerelease}
		if want == have {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE releases
			SET major_version = $2, minor_version = $3, patch_version = $4, is_prerelease = $5
			WHERE id = $1
		`, row.ID, want.Major, want.Minor, want.Patch, want.IsPrerelease); err != nil {
			return 0, fmt.Errorf("failed to backfill release %s: %w", row.TagName, err)
		}
		updated++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit backfill: %w", err)
	}
	return updated, nil
}
