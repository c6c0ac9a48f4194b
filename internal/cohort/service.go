package cohort

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/changefeed/changefeed/internal/db/models"
)

// ReleaseLister reads the stored releases of a package.
type ReleaseLister interface {
	ListByPackage(ctx context.Context, packageID uuid.UUID) ([]*models.Release, error)
}

// SummaryLister reads the cached cohort summaries of a package.
type SummaryLister interface {
	ListByPackage(ctx context.Context, packageID uuid.UUID) ([]*models.CohortSummary, error)
}

// FeedCohort is a cohort selected for the feed with its cached summary (nil when none has
// been generated yet) and the windowed releases shown alongside it.
type FeedCohort struct {
	*Cohort
	Summary  *models.CohortSummary
	Releases []*models.Release
}

// Service builds cohorts from stored releases.
type Service struct {
	releases  ReleaseLister
	summaries SummaryLister
	Window    time.Duration
}

// NewService creates a cohort service using DefaultWindow.
func NewService(releases ReleaseLister, summaries SummaryLister) *Service {
	return &Service{releases: releases, summaries: summaries, Window: DefaultWindow}
}

// GetCohorts returns every cohort of a package.
func (s *Service) GetCohorts(ctx context.Context, packageID uuid.UUID) ([]*Cohort, error) {
	releases, err := s.releases.ListByPackage(ctx, packageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load releases for cohorts: %w", err)
	}
	return Group(releases), nil
}

// SelectFeedCohorts returns the feed cohorts of a package with summaries attached.
func (s *Service) SelectFeedCohorts(ctx context.Context, packageID uuid.UUID) ([]*FeedCohort, error) {
	cohorts, err := s.GetCohorts(ctx, packageID)
	if err != nil {
		return nil, err
	}
	selected := SelectFeedCohorts(cohorts)
	if len(selected) == 0 {
		return nil, nil
	}

	summaries, err := s.summaries.ListByPackage(ctx, packageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cohort summaries: %w", err)
	}
	byKey := make(map[Key]*models.CohortSummary, len(summaries))
	for _, sum := range summaries {
		byKey[Key{PackageID: sum.PackageID, MajorVersion: sum.MajorVersion, IsPrerelease: sum.IsPrerelease}] = sum
	}

	out := make([]*FeedCohort, 0, len(selected))
	for _, c := range selected {
		out = append(out, &FeedCohort{
			Cohort:   c,
			Summary:  byKey[c.Key],
			Releases: WindowReleases(c.Releases, s.Window),
		})
	}
	return out, nil
}
