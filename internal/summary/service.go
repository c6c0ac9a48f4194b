package summary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/changefeed/changefeed/internal/cohort"
	"github.com/changefeed/changefeed/internal/db/models"
	"github.com/changefeed/changefeed/internal/db/repositories"
	"github.com/changefeed/changefeed/internal/telemetry"
)

// DefaultMaxInputChars caps the release notes sent to the summarizer for one cohort.
const DefaultMaxInputChars = 24000

// Store is the cohort summary cache.
type Store interface {
	Get(ctx context.Context, packageID uuid.UUID, major int, prerelease bool) (*models.CohortSummary, error)
	CompareAndSwap(ctx context.Context, s *models.CohortSummary, expectedVersion int) error
}

// Service generates cohort summaries and stores them with optimistic concurrency: a writer
// that loses the race discards its own text and returns the stored winner.
type Service struct {
	store         Store
	summarizer    Summarizer
	Window        time.Duration
	MaxInputChars int
}

// NewService creates a summary service using cohort.DefaultWindow.
func NewService(store Store, summarizer Summarizer) *Service {
	return &Service{
		store:         store,
		summarizer:    summarizer,
		Window:        cohort.DefaultWindow,
		MaxInputChars: DefaultMaxInputChars,
	}
}

// IsStale reports whether cached no longer describes c: it is missing or was generated
// before c's newest release arrived.
func IsStale(cached *models.CohortSummary, c *cohort.Cohort) bool {
	latest := c.Latest()
	if latest == nil {
		return false
	}
	return cached == nil || !cached.Covers(latest.ID)
}

// EnsureSummary returns the cached summary of c, regenerating it when stale.
func (s *Service) EnsureSummary(ctx context.Context, packageName string, c *cohort.Cohort) (*models.CohortSummary, error) {
	return s.ensure(ctx, packageName, c, func(title, body string) (string, error) {
		return s.summarizer.Summarize(ctx, title, body)
	}, nil)
}

// StreamSummary is EnsureSummary for a streaming client. A fresh cached summary is written
// to w in one piece; otherwise the generated text is forwarded to w as it arrives. Text
// already sent is never retracted, even when another writer's summary ends up stored.
func (s *Service) StreamSummary(ctx context.Context, packageName string, c *cohort.Cohort, w io.Writer) (*models.CohortSummary, error) {
	return s.ensure(ctx, packageName, c, func(title, body string) (string, error) {
		return s.summarizer.SummarizeStream(ctx, title, body, w)
	}, w)
}

func (s *Service) ensure(ctx context.Context, packageName string, c *cohort.Cohort, generate func(title, body string) (string, error), cachedOut io.Writer) (*models.CohortSummary, error) {
	latest := c.Latest()
	if latest == nil {
		return nil, nil
	}

	cached, err := s.store.Get(ctx, c.PackageID, c.MajorVersion, c.IsPrerelease)
	if err != nil {
		return nil, err
	}
	if !IsStale(cached, c) {
		if cachedOut != nil {
			if _, err := io.WriteString(cachedOut, cached.Summary); err != nil {
				return nil, fmt.Errorf("failed to write cached summary: %w", err)
			}
		}
		return cached, nil
	}

	title, body := s.prompt(packageName, c)
	text, err := generate(title, body)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize %s: %w", title, err)
	}

	expected := 0
	if cached != nil {
		expected = cached.Version
	}
	latestID := latest.ID
	next := &models.CohortSummary{
		PackageID:       c.PackageID,
		MajorVersion:    c.MajorVersion,
		IsPrerelease:    c.IsPrerelease,
		Summary:         text,
		GeneratedAt:     time.Now(),
		LatestReleaseID: &latestID,
	}
	if cached != nil {
		next.ID = cached.ID
	}

	err = s.store.CompareAndSwap(ctx, next, expected)
	if errors.Is(err, repositories.ErrVersionConflict) {
		telemetry.SummaryCacheConflictsTotal.Inc()
		winner, gerr := s.store.Get(ctx, c.PackageID, c.MajorVersion, c.IsPrerelease)
		if gerr != nil {
			return nil, gerr
		}
		if winner == nil {
			return nil, fmt.Errorf("cohort summary for %s vanished after a write conflict", title)
		}
		slog.Debug("summary write lost race, adopting stored value", "cohort", title, "version", winner.Version)
		return winner, nil
	}
	if err != nil {
		return nil, err
	}

	telemetry.SummariesGeneratedTotal.Inc()
	return next, nil
}

// prompt builds the summarizer input from the cohort's windowed releases, the same releases
// the feed displays next to the summary.
func (s *Service) prompt(packageName string, c *cohort.Cohort) (title, body string) {
	line := "stable"
	if c.IsPrerelease {
		line = "pre-release"
	}
	if c.IsVersioned() {
		title = fmt.Sprintf("%s v%d (%s)", packageName, c.MajorVersion, line)
	} else {
		title = fmt.Sprintf("%s (unversioned releases)", packageName)
	}

	limit := s.MaxInputChars
	if limit <= 0 {
		limit = DefaultMaxInputChars
	}
	var b strings.Builder
	for _, rel := range cohort.WindowReleases(c.Releases, s.Window) {
		section := fmt.Sprintf("## %s (%s)\n%s\n\n",
			rel.TitleOrTag(), rel.PublishedAt.Format("2006-01-02"), strings.TrimSpace(rel.BodyText()))
		if b.Len()+len(section) > limit {
			if b.Len() == 0 {
				b.WriteString(strings.ToValidUTF8(section[:limit], ""))
			}
			break
		}
		b.WriteString(section)
	}
	return title, strings.TrimSpace(b.String())
}
