// summary_repository.go implements SummaryRepository: the cohort summary cache with
// optimistic-concurrency writes.
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

// ErrVersionConflict is returned by CompareAndSwap when the stored row no longer has the
// expected version (or already exists when an insert was expected).
var ErrVersionConflict = errors.New("cohort summary version conflict")

const summaryColumns = `
	id, package_id, major_version, is_prerelease, summary, generated_at, updated_at,
	version, latest_release_id`

// SummaryRepository handles database operations for cached cohort summaries
type SummaryRepository struct {
	db *sqlx.DB
}

// NewSummaryRepository creates a new summary repository
func NewSummaryRepository(db *sqlx.DB) *SummaryRepository {
	return &SummaryRepository{db: db}
}

// Get returns the cached summary for a cohort, or nil when none exists.
func (r *SummaryRepository) Get(ctx context.Context, packageID uuid.UUID, major int, prerelease bool) (*models.CohortSummary, error) {
	query := `SELECT ` + summaryColumns + `
		FROM cohort_summaries
		WHERE package_id = $1 AND major_version = $2 AND is_prerelease = $3
	`
	var s models.CohortSummary
	err := r.db.GetContext(ctx, &s, query, packageID, major, prerelease)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cohort summary: %w", err)
	}
	return &s, nil
}

// ListByPackage returns every cached summary of a package.
func (r *SummaryRepository) ListByPackage(ctx context.Context, packageID uuid.UUID) ([]*models.CohortSummary, error) {
	query := `SELECT ` + summaryColumns + `
		FROM cohort_summaries
		WHERE package_id = $1
		ORDER BY major_version DESC, is_prerelease
	`
	var out []*models.CohortSummary
	if err := r.db.SelectContext(ctx, &out, query, packageID); err != nil {
		return nil, fmt.Errorf("failed to list cohort summaries: %w", err)
	}
	return out, nil
}

// CompareAndSwap writes s if the stored row still has expectedVersion. An expectedVersion of
// 0 means the row must not exist yet. On success s.Version holds the new version; when another
// writer got there first ErrVersionConflict is returned and nothing is written.
func (r *SummaryRepository) CompareAndSwap(ctx context.Context, s *models.CohortSummary, expectedVersion int) error {
	now := time.Now()
	if s.GeneratedAt.IsZero() {
		s.GeneratedAt = now
	}

	var (
		newVersion int
		err        error
	)
	if expectedVersion == 0 {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		err = r.db.QueryRowxContext(ctx, `
			INSERT INTO cohort_summaries (
				id, package_id, major_version, is_prerelease, summary, generated_at, updated_at, version, latest_release_id
			) VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8)
			ON CONFLICT (package_id, major_version, is_prerelease) DO NOTHING
			RETURNING version
		`, s.ID, s.PackageID, s.MajorVersion, s.IsPrerelease, s.Summary, s.GeneratedAt, now, s.LatestReleaseID,
		).Scan(&newVersion)
	} else {
		err = r.db.QueryRowxContext(ctx, `
			UPDATE cohort_summaries
			SET summary = $5, generated_at = $6, updated_at = $7, latest_release_id = $8, version = version + 1
			WHERE package_id = $1 AND major_version = $2 AND is_prerelease = $3 AND version = $4
			RETURNING version
		`, s.PackageID, s.MajorVersion, s.IsPrerelease, expectedVersion, s.Summary, s.GeneratedAt, now, s.LatestReleaseID,
		).Scan(&newVersion)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("failed to write cohort summary: %w", err)
	}

	s.Version = newVersion
	s.UpdatedAt = now
	return nil
}
