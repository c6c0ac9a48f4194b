package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/changefeed/changefeed/internal/changelog"
	"github.com/changefeed/changefeed/internal/cohort"
	"github.com/changefeed/changefeed/internal/config"
	"github.com/changefeed/changefeed/internal/db"
	"github.com/changefeed/changefeed/internal/db/repositories"
	"github.com/changefeed/changefeed/internal/github"
	"github.com/changefeed/changefeed/internal/ingest"
	"github.com/changefeed/changefeed/internal/ratelimit"
	"github.com/changefeed/changefeed/internal/summary"
)

// app holds the wired dependencies shared by the subcommands.
type app struct {
	db    *sqlx.DB
	redis *redis.Client

	packages     *repositories.PackageRepository
	releases     *repositories.ReleaseRepository
	summaryStore *repositories.SummaryRepository

	github *github.Client
	engine *ingest.Engine

	cohorts   *cohort.Service
	summaries *summary.Service // nil when summaries are disabled
}

type appOptions struct {
	github bool
}

type appOption func(*appOptions)

// withGitHub wires the GitHub client, the changelog resolver and the sync engine.
func withGitHub() appOption {
	return func(o *appOptions) { o.github = true }
}

func newApp(ctx context.Context, cfg *config.Config, opts ...appOption) (*app, error) {
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}

	database, err := db.Open(ctx, cfg.Database.GetDSN(), db.PoolOptions{
		MaxOpen:     cfg.Database.MaxConnections,
		MaxIdle:     cfg.Database.MinIdleConnections,
		MaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Debug("connected to database", "host", cfg.Database.Host, "name", cfg.Database.Name)

	a := &app{
		db:           database,
		packages:     repositories.NewPackageRepository(database),
		releases:     repositories.NewReleaseRepository(database),
		summaryStore: repositories.NewSummaryRepository(database),
	}
	a.cohorts = cohort.NewService(a.releases, a.summaryStore)
	if cfg.Summary.Window > 0 {
		a.cohorts.Window = cfg.Summary.Window
	}

	if cfg.Summary.Enabled {
		a.summaries = summary.NewService(a.summaryStore, summary.NewOpenAI(summary.OpenAIOptions{
			APIKey:    cfg.Summary.OpenAI.APIKey,
			BaseURL:   cfg.Summary.OpenAI.BaseURL,
			Model:     cfg.Summary.OpenAI.Model,
			MaxTokens: cfg.Summary.OpenAI.MaxTokens,
		}))
		if cfg.Summary.Window > 0 {
			a.summaries.Window = cfg.Summary.Window
		}
		if cfg.Summary.MaxInputChars > 0 {
			a.summaries.MaxInputChars = cfg.Summary.MaxInputChars
		}
	}

	if o.github {
		if err := a.wireGitHub(ctx, cfg); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) wireGitHub(ctx context.Context, cfg *config.Config) error {
	guard := ratelimit.NewGuard(cfg.GitHub.LowWater, cfg.GitHub.MaxWait)

	var pacer ratelimit.Pacer
	if cfg.GitHub.RequestsPerMinute > 0 {
		if cfg.Redis.Enabled {
			a.redis = redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			if err := a.redis.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("failed to connect to redis: %w", err)
			}
			pacer = ratelimit.NewRedisPacer(a.redis, cfg.Redis.PacingKey(), cfg.GitHub.RequestsPerMinute, cfg.GitHub.Burst)
			slog.Info("GitHub request pacing shared through redis", "addr", cfg.Redis.Addr, "per_minute", cfg.GitHub.RequestsPerMinute)
		} else {
			pacer = ratelimit.NewLocalPacer(cfg.GitHub.RequestsPerMinute, cfg.GitHub.Burst)
		}
	}

	if cfg.GitHub.Token == "" {
		slog.Warn("no GitHub token configured, requests are unauthenticated")
	}
	transport := ratelimit.NewTransport(http.DefaultTransport, guard, pacer)
	transport.AttemptTimeout = cfg.GitHub.Timeout
	a.github = github.NewClient(github.Options{
		APIURL:    cfg.GitHub.APIURL,
		Token:     cfg.GitHub.Token,
		Transport: transport,
	})
	if cfg.Changelog.MaxFileSize > 0 {
		a.github.MaxFileSize = cfg.Changelog.MaxFileSize
	}

	resolver := changelog.NewResolver(a.github, a.github)
	if len(cfg.Changelog.Candidates) > 0 {
		resolver.Candidates = cfg.Changelog.Candidates
	}

	a.engine = ingest.NewEngine(a.github, resolver, a.releases, a.packages, ingest.Options{
		PerPage:     cfg.Sync.PerPage,
		MaxPages:    cfg.Sync.MaxPages,
		Concurrency: cfg.Sync.Concurrency,
	})
	return nil
}

// Close releases the database and redis connections.
func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			slog.Warn("failed to close redis client", "error", err)
		}
	}
	if err := a.db.Close(); err != nil {
		slog.Warn("failed to close database", "error", err)
	}
}
