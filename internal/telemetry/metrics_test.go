package telemetry

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// ---------------------------------------------------------------------------
// Registration: every exported metric carries its fully-qualified name.
//
// Describe() is used rather than Gather() because *Vec metrics with no label
// combinations observed yet are absent from Gather output.
// ---------------------------------------------------------------------------

func TestMetrics_AllRegistered(t *testing.T) {
	cases := []struct {
		name string
		c    prometheus.Collector
	}{
		{"release_sync_duration_seconds", ReleaseSyncDuration},
		{"release_sync_errors_total", ReleaseSyncErrorsTotal},
		{"release_sync_truncated_total", ReleaseSyncTruncatedTotal},
		{"releases_ingested_total", ReleasesIngestedTotal},
		{"packages_sync_disabled_total", PackagesDisabledTotal},
		{"github_rate_limit_remaining", GitHubRateRemaining},
		{"rate_guard_waits_total", RateGuardWaitsTotal},
		{"github_request_retries_total", GitHubRetriesTotal},
		{"changelog_resolutions_total", ChangelogResolutionsTotal},
		{"cohort_summaries_generated_total", SummariesGeneratedTotal},
		{"cohort_summary_cache_conflicts_total", SummaryCacheConflictsTotal},
		{"db_open_connections", DBOpenConnections},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ch := make(chan *prometheus.Desc, 10)
			tc.c.Describe(ch)
			close(ch)
			for desc := range ch {
				if strings.Contains(desc.String(), `"`+tc.name+`"`) {
					return
				}
			}
			t.Errorf("metric %q not described by its collector", tc.name)
		})
	}
}

// ---------------------------------------------------------------------------
// Counters move when incremented
// ---------------------------------------------------------------------------

func TestReleasesIngestedTotal_PerPackage(t *testing.T) {
	before := testutil.ToFloat64(ReleasesIngestedTotal.WithLabelValues("acme/widgets"))
	ReleasesIngestedTotal.WithLabelValues("acme/widgets").Add(3)
	after := testutil.ToFloat64(ReleasesIngestedTotal.WithLabelValues("acme/widgets"))
	if after-before != 3 {
		t.Errorf("releases_ingested_total delta = %v, want 3", after-before)
	}
}

func TestGitHubRateRemaining_Set(t *testing.T) {
	GitHubRateRemaining.Set(42)
	if got := testutil.ToFloat64(GitHubRateRemaining); got != 42 {
		t.Errorf("github_rate_limit_remaining = %v, want 42", got)
	}
}
