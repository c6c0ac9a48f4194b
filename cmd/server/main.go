// Package main is the entry point for the changefeed binary.
// The serve command migrates the schema on startup when server.migrate_on_start is set.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/changefeed/changefeed/internal/config"
	"github.com/changefeed/changefeed/internal/db"
	"github.com/changefeed/changefeed/internal/db/models"
	"github.com/changefeed/changefeed/internal/db/repositories"
	"github.com/changefeed/changefeed/internal/github"
	"github.com/changefeed/changefeed/internal/jobs"
	"github.com/changefeed/changefeed/internal/safego"
	"github.com/changefeed/changefeed/internal/telemetry"
	"github.com/changefeed/changefeed/internal/version"
)

const (
	appVersion = "0.1.0"
	usage      = `usage: changefeed <command>

commands:
  serve                           run the sync and summary jobs and the metrics endpoint
  sync                            sync every tracked package once
  watch <owner/repo> [tag-prefix] track a repository and run its first sync
  import <packages.yaml>          create or update packages from a seed file
  feed <package>                  print the feed cohorts of a package, generating stale summaries
  backfill-versions               recompute version columns of stored releases
  migrate <up|down>               apply or roll back schema migrations
  version                         print the version`
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	// Parse command from args
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}
	var args []string
	if len(os.Args) > 2 {
		args = os.Args[2:]
	}

	if command == "version" {
		fmt.Printf("changefeed v%s\n", appVersion)
		return nil
	}
	if command == "help" || command == "-h" || command == "--help" {
		fmt.Println(usage)
		return nil
	}

	// Load configuration
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level, cfg.Logging.Output)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Execute command
	switch command {
	case "serve":
		return serve(ctx, cfg)
	case "sync":
		return syncOnce(ctx, cfg)
	case "watch":
		if len(args) < 1 || len(args) > 2 {
			return fmt.Errorf("usage: %s watch <owner/repo> [tag-prefix]", os.Args[0])
		}
		prefix := ""
		if len(args) == 2 {
			prefix = args[1]
		}
		return watch(ctx, cfg, args[0], prefix)
	case "import":
		if len(args) != 1 {
			return fmt.Errorf("usage: %s import <packages.yaml>", os.Args[0])
		}
		return importPackages(ctx, cfg, args[0])
	case "feed":
		if len(args) != 1 {
			return fmt.Errorf("usage: %s feed <package>", os.Args[0])
		}
		return printFeed(ctx, cfg, args[0], os.Stdout)
	case "backfill-versions":
		return backfillVersions(ctx, cfg)
	case "migrate":
		if len(args) != 1 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(ctx, cfg, args[0])
	default:
		return fmt.Errorf("unknown command: %s\n%s", command, usage)
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg, withGitHub())
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Server.MigrateOnStart {
		slog.Info("running database migrations")
		if err := db.Migrate(a.db.DB, "up"); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		if v, dirty, err := db.MigrationVersion(a.db.DB); err != nil {
			slog.Warn("failed to get migration version", "error", err)
		} else {
			slog.Info("database schema ready", "version", v, "dirty", dirty)
		}
	}

	// Begin exporting DB pool statistics to Prometheus.
	telemetry.StartDBStatsCollector(ctx, a.db.DB)

	var metricsSrv *http.Server
	if cfg.Telemetry.Metrics.Enabled {
		metricsSrv = startMetricsServer(cfg.Telemetry.Metrics.PrometheusPort)
	}

	var refreshJob *jobs.SummaryRefreshJob
	if a.summaries != nil {
		refreshJob = jobs.NewSummaryRefreshJob(a.packages, a.cohorts, a.summaries)
		refreshJob.Start(ctx, cfg.Summary.Interval)
	}

	var syncJob *jobs.ReleaseSyncJob
	if cfg.Sync.Enabled {
		syncJob = jobs.NewReleaseSyncJob(a.engine, a.packages, cfg.Sync.DisableAfterFailures)
		if refreshJob != nil {
			syncJob.WithRefresher(refreshJob)
		}
		syncJob.Start(ctx, cfg.Sync.Interval)
	}

	slog.Info("changefeed running",
		"version", appVersion,
		"sync_interval", cfg.Sync.Interval,
		"summaries", a.summaries != nil,
		"shared_pacing", cfg.Redis.Enabled)

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stop background jobs; a pass in flight finishes against the cancelled context.
	done := make(chan struct{})
	safego.Go("shutdown", func() {
		if syncJob != nil {
			syncJob.Stop()
		}
		if refreshJob != nil {
			refreshJob.Stop()
		}
		close(done)
	})
	select {
	case <-done:
	case <-shutdownCtx.Done():
		slog.Warn("background jobs did not stop before the shutdown timeout")
	}

	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", "error", err)
		}
	}

	slog.Info("stopped gracefully")
	return nil
}

// startMetricsServer serves /metrics on a dedicated port.
func startMetricsServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	safego.Go("metrics-server", func() {
		slog.Info("starting Prometheus metrics server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	})
	return srv
}

func syncOnce(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg, withGitHub())
	if err != nil {
		return err
	}
	defer a.Close()

	batch := jobs.NewReleaseSyncJob(a.engine, a.packages, cfg.Sync.DisableAfterFailures).RunOnce(ctx)
	if batch == nil {
		return errors.New("sync failed, see log for details")
	}

	for _, s := range batch.Synced {
		note := ""
		if s.Truncated {
			note = "  (history truncated at sync.max_pages)"
		}
		fmt.Printf("%-40s +%d%s\n", s.Package.Name, len(s.ReleasesAdded), note)
	}
	for _, e := range batch.Errors {
		fmt.Printf("%-40s FAILED (%d consecutive): %s\n", e.Package, e.ConsecutiveFailures, e.Message)
	}
	fmt.Printf("%d packages synced, %d failed, %d releases added\n",
		len(batch.Synced), len(batch.Errors), batch.ReleasesAdded())
	return nil
}

func watch(ctx context.Context, cfg *config.Config, repository, tagPrefix string) error {
	owner, repo, err := github.ParseOwnerRepo(repository)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, withGitHub())
	if err != nil {
		return err
	}
	defer a.Close()

	name := owner + "/" + repo
	if p := strings.TrimSuffix(tagPrefix, "@"); p != "" {
		name = p
	}

	pkg, err := a.packages.GetByName(ctx, name)
	if err != nil {
		return err
	}
	if pkg == nil {
		pkg = &models.Package{Name: name, Owner: owner, Repo: repo, PendingFirstSync: true}
		if tagPrefix != "" {
			pkg.TagPrefix = &tagPrefix
		}
		if err := a.packages.Create(ctx, pkg); err != nil {
			return err
		}
		slog.Info("package created, running first sync", "package", name)
	}

	res, perr := a.engine.SyncTracked(ctx, pkg)
	if perr != nil {
		if perr.Removed {
			return fmt.Errorf("first sync of %s failed, package removed: %s", name, perr.Message)
		}
		return perr
	}
	fmt.Printf("%s: %d releases added\n", name, len(res.ReleasesAdded))
	if res.Truncated {
		fmt.Printf("%s: history truncated after %d pages, older releases were skipped (raise sync.max_pages)\n",
			name, cfg.Sync.MaxPages)
	}
	return nil
}

func importPackages(ctx context.Context, cfg *config.Config, path string) error {
	specs, err := jobs.LoadPackageFile(path)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := jobs.ImportPackages(ctx, a.packages, specs)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d packages (%d created, %d updated)\n", len(specs), res.Created, res.Updated)
	return nil
}

func backfillVersions(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.releases.BackfillVersions(ctx, versionFields)
	if err != nil {
		return err
	}
	fmt.Printf("updated version columns of %d releases\n", n)
	return nil
}

// versionFields derives the stored version columns of a tag the same way ingestion does.
func versionFields(tag string) repositories.VersionFields {
	p, pre := version.Classify(tag)
	return repositories.VersionFields{Major: p.Major, Minor: p.Minor, Patch: p.Patch, IsPrerelease: pre}
}

func runMigrations(ctx context.Context, cfg *config.Config, direction string) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	slog.Info("running migrations", "direction", direction)
	if err := db.Migrate(a.db.DB, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	v, dirty, err := db.MigrationVersion(a.db.DB)
	if err != nil {
		return err
	}
	fmt.Printf("migration completed, current version: %d (dirty: %v)\n", v, dirty)
	return nil
}
