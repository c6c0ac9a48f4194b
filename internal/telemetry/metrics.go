// Package telemetry provides logging setup and Prometheus metrics for changefeed.
//
// All metrics are registered against the default Prometheus registry and exposed by the
// side-channel HTTP server started from cmd/server:
//
//	GET http://<host>:<CF_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// # Metric Groups
//
//   - Release sync duration, outcome and ingestion counters (per package name)
//   - GitHub API budget: last seen remaining count, guard waits, reactive retries
//   - Changelog resolution outcomes
//   - Cohort summary generation and cache write conflicts
//   - Database connection pool gauge (polled every 30 s)
//
// Package labels use the package display name.
package telemetry

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Release sync metrics.
//
// Example PromQL queries:
//   - p95 sync duration:        histogram_quantile(0.95, rate(release_sync_duration_seconds_bucket[1h]))
//   - Failing packages:         increase(release_sync_errors_total[1h]) > 0
//   - Ingestion rate:           sum(rate(releases_ingested_total[1h]))
var (
	ReleaseSyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "release_sync_duration_seconds",
			Help:    "Duration of a single package release sync.",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReleaseSyncErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "release_sync_errors_total",
			Help: "Total number of failed package syncs, by package name.",
		},
		[]string{"package"},
	)

	ReleasesIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "releases_ingested_total",
			Help: "Total number of new releases stored, by package name.",
		},
		[]string{"package"},
	)

	ReleaseSyncTruncatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "release_sync_truncated_total",
			Help: "Total number of package syncs that hit the page cap before reaching the watermark.",
		},
		[]string{"package"},
	)

	PackagesDisabledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "packages_sync_disabled_total",
			Help: "Total number of packages whose scheduled sync was disabled after repeated failures.",
		},
	)
)

// GitHub API budget metrics, maintained by the rate limit guard.
//
// GitHubRateRemaining is the last X-RateLimit-Remaining value observed on any response.
// Alert expression: github_rate_limit_remaining < 50
var (
	GitHubRateRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "github_rate_limit_remaining",
			Help: "Last observed remaining GitHub API request budget.",
		},
	)

	RateGuardWaitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_guard_waits_total",
			Help: "Times the rate guard delayed (outcome=waited) or skipped waiting past the ceiling (outcome=ceiling).",
		},
		[]string{"outcome"},
	)

	GitHubRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "github_request_retries_total",
			Help: "Retries of GitHub API requests, by triggering status code (0 for network errors).",
		},
		[]string{"status"},
	)
)

// ChangelogResolutionsTotal counts stub release bodies by resolution outcome:
// "followed" (cross-repo release link), "resolved" (changelog section found),
// "unresolved" (fallback to the original body).
var ChangelogResolutionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "changelog_resolutions_total",
		Help: "Release body resolution attempts, by outcome.",
	},
	[]string{"outcome"},
)

// Cohort summary cache metrics.
var (
	SummariesGeneratedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cohort_summaries_generated_total",
			Help: "Total number of cohort summaries generated.",
		},
	)

	SummaryCacheConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cohort_summary_cache_conflicts_total",
			Help: "Summary writes that lost an optimistic-concurrency race and adopted the stored value.",
		},
	)
)

// DBOpenConnections tracks the number of open connections held by the sql.DB pool,
// sampled by StartDBStatsCollector.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector samples db pool statistics every 30 seconds until ctx is done
// or the database stops answering pings.
func StartDBStatsCollector(ctx context.Context, db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := db.PingContext(ctx); err != nil {
					slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
					return
				}
				DBOpenConnections.Set(float64(db.Stats().OpenConnections))
			}
		}
	}()
}
