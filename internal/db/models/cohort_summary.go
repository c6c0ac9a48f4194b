package models

import (
	"time"

	"github.com/google/uuid"
)

// CohortSummary is the cached summary for one (package, major version, pre-release) cohort.
// Version is the optimistic-concurrency token: every successful write increments it.
type CohortSummary struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	PackageID       uuid.UUID  `json:"package_id" db:"package_id"`
	MajorVersion    int        `json:"major_version" db:"major_version"`
	IsPrerelease    bool       `json:"is_prerelease" db:"is_prerelease"`
	Summary         string     `json:"summary" db:"summary"`
	GeneratedAt     time.Time  `json:"generated_at" db:"generated_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
	Version         int        `json:"version" db:"version"`
	LatestReleaseID *uuid.UUID `json:"latest_release_id,omitempty" db:"latest_release_id"`
}

// Covers reports whether the summary was generated with releaseID as the cohort's newest
// release.
func (s *CohortSummary) Covers(releaseID uuid.UUID) bool {
	return s.LatestReleaseID != nil && *s.LatestReleaseID == releaseID
}
