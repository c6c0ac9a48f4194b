// package_repository.go implements PackageRepository: tracked packages and the sync state
// columns (watermark, failure counter, disable flag) owned by the ingest engine.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/changefeed/changefeed/internal/db/models"
)

const packageColumns = `
	id, name, owner, repo, tag_prefix, last_fetched_at, consecutive_failures, sync_disabled,
	last_sync_error, pending_first_sync, created_at, updated_at`

// PackageRepository handles database operations for tracked packages
type PackageRepository struct {
	db *sqlx.DB
}

// NewPackageRepository creates a new package repository
func NewPackageRepository(db *sqlx.DB) *PackageRepository {
	return &PackageRepository{db: db}
}

// Create inserts a new package. ID and timestamps are filled in when unset.
func (r *PackageRepository) Create(ctx context.Context, pkg *models.Package) error {
	if pkg.ID == uuid.Nil {
		pkg.ID = uuid.New()
	}
	now := time.Now()
	if pkg.CreatedAt.IsZero() {
		pkg.CreatedAt = now
	}
	pkg.UpdatedAt = now

	query := `
		INSERT INTO packages (id, name, owner, repo, tag_prefix, pending_first_sync, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		pkg.ID, pkg.Name, pkg.Owner, pkg.Repo, pkg.TagPrefix, pkg.PendingFirstSync, pkg.CreatedAt, pkg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create package: %w", err)
	}
	return nil
}

// Upsert inserts pkg or, when a package with the same name exists, updates its repository
// coordinates and tag prefix. Sync state is never touched. pkg.ID is set to the stored ID.
func (r *PackageRepository) Upsert(ctx context.Context, pkg *models.Package) (created bool, err error) {
	if pkg.ID == uuid.Nil {
		pkg.ID = uuid.New()
	}
	now := time.Now()

	query := `
		INSERT INTO packages (id, name, owner, repo, tag_prefix, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (name) DO UPDATE
		SET owner = EXCLUDED.owner, repo = EXCLUDED.repo, tag_prefix = EXCLUDED.tag_prefix, updated_at = EXCLUDED.updated_at
		RETURNING id, (xmax = 0) AS inserted
	`
	var row struct {
		ID       uuid.UUID `db:"id"`
		Inserted bool      `db:"inserted"`
	}
	if err := r.db.QueryRowxContext(ctx, query,
		pkg.ID, pkg.Name, pkg.Owner, pkg.Repo, pkg.TagPrefix, now,
	).StructScan(&row); err != nil {
		return false, fmt.Errorf("failed to upsert package %s: %w", pkg.Name, err)
	}
	pkg.ID = row.ID
	pkg.UpdatedAt = now
	return row.Inserted, nil
}

// GetByID retrieves a package by ID
func (r *PackageRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Package, error) {
	var pkg models.Package
	err := r.db.GetContext(ctx, &pkg, `SELECT `+packageColumns+` FROM packages WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get package: %w", err)
	}
	return &pkg, nil
}

// GetByName retrieves a package by its display name
func (r *PackageRepository) GetByName(ctx context.Context, name string) (*models.Package, error) {
	var pkg models.Package
	err := r.db.GetContext(ctx, &pkg, `SELECT `+packageColumns+` FROM packages WHERE name = $1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get package by name: %w", err)
	}
	return &pkg, nil
}

// List retrieves all packages ordered by name
func (r *PackageRepository) List(ctx context.Context) ([]*models.Package, error) {
	var pkgs []*models.Package
	if err := r.db.SelectContext(ctx, &pkgs, `SELECT `+packageColumns+` FROM packages ORDER BY name`); err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}
	return pkgs, nil
}

// ListForSync returns the packages whose scheduled sync is enabled, least recently fetched first.
func (r *PackageRepository) ListForSync(ctx context.Context) ([]*models.Package, error) {
	query := `SELECT ` + packageColumns + `
		FROM packages
		WHERE sync_disabled = false
		ORDER BY last_fetched_at ASC NULLS FIRST, name
	`
	var pkgs []*models.Package
	if err := r.db.SelectContext(ctx, &pkgs, query); err != nil {
		return nil, fmt.Errorf("failed to list packages for sync: %w", err)
	}
	return pkgs, nil
}

// RecordSyncSuccess clears the failure counter, the last error and the pending flag.
func (r *PackageRepository) RecordSyncSuccess(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE packages
		SET consecutive_failures = 0, last_sync_error = NULL, pending_first_sync = false, updated_at = $2
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now()); err != nil {
		return fmt.Errorf("failed to record sync success: %w", err)
	}
	return nil
}

// RecordSyncFailure increments the consecutive failure counter and stores the error message.
// It returns the new counter value.
func (r *PackageRepository) RecordSyncFailure(ctx context.Context, id uuid.UUID, message string) (int, error) {
	query := `
		UPDATE packages
		SET consecutive_failures = consecutive_failures + 1, last_sync_error = $2, updated_at = $3
		WHERE id = $1
		RETURNING consecutive_failures
	`
	var failures int
	if err := r.db.QueryRowxContext(ctx, query, id, message, time.Now()).Scan(&failures); err != nil {
		return 0, fmt.Errorf("failed to record sync failure: %w", err)
	}
	return failures, nil
}

// SetSyncDisabled turns scheduled sync off or back on. Re-enabling also resets the failure counter.
func (r *PackageRepository) SetSyncDisabled(ctx context.Context, id uuid.UUID, disabled bool) error {
	query := `
		UPDATE packages
		SET sync_disabled = $2,
		    consecutive_failures = CASE WHEN $2 THEN consecutive_failures ELSE 0 END,
		    updated_at = $3
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id, disabled, time.Now()); err != nil {
		return fmt.Errorf("failed to set sync disabled: %w", err)
	}
	return nil
}

// Delete removes a package together with its releases and summaries.
func (r *PackageRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM packages WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete package: %w", err)
	}
	return nil
}
