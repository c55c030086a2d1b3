// Package app initializes and holds the services shared by one generator
// run, acting as a dependency injection container for the CLI.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/n0n1m/amneziawg-openwrt/internal/buildinfo"
	"github.com/n0n1m/amneziawg-openwrt/internal/config"
	collyfetcher "github.com/n0n1m/amneziawg-openwrt/internal/fetcher/colly"
	"github.com/n0n1m/amneziawg-openwrt/internal/id/uuid"
	"github.com/n0n1m/amneziawg-openwrt/internal/kernel"
	"github.com/n0n1m/amneziawg-openwrt/internal/logging"
	"github.com/n0n1m/amneziawg-openwrt/internal/matrix"
	"github.com/n0n1m/amneziawg-openwrt/internal/metrics"
	"github.com/n0n1m/amneziawg-openwrt/internal/release"
)

// Options carries the command-line settings that feed into initialization.
type Options struct {
	ConfigPath string
	Verbose    bool
	// SiteURL overrides site.url when non-empty.
	SiteURL string
}

// App holds the configuration, logger and fetch client of a run.
type App struct {
	config    config.Config
	logger    *zap.Logger
	runID     string
	client    *collyfetcher.Client
	extractor kernel.Extractor
}

// NewApp loads configuration and builds the shared services. It fails fast on
// invalid configuration.
func NewApp(opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.SiteURL != "" {
		cfg.Site.URL = opts.SiteURL
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if opts.Verbose {
		cfg.Logging.Development = true
	}

	logger, err := logging.New(cfg.Logging.Development, zapcore.WarnLevel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	runID, err := uuid.NewGenerator().NewID()
	if err != nil {
		return nil, fmt.Errorf("init run id: %w", err)
	}
	logger = logger.With(zap.String("run_id", runID))

	client, err := collyfetcher.New(collyfetcher.Config{
		SiteURL:      cfg.Site.URL,
		UserAgent:    cfg.HTTP.UserAgent,
		Timeout:      cfg.RequestTimeout(),
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("init fetcher: %w", err)
	}
	extractor, err := kernel.New(cfg.Details.Extractor)
	if err != nil {
		return nil, fmt.Errorf("init extractor: %w", err)
	}
	metrics.Init()

	logger.Debug("application services initialized",
		zap.String("site", cfg.Site.URL),
		zap.String("extractor", cfg.Details.Extractor),
		zap.Int("max_parallel", cfg.Fetch.MaxParallel),
	)
	return &App{
		config:    cfg,
		logger:    logger,
		runID:     runID,
		client:    client,
		extractor: extractor,
	}, nil
}

// GetLogger returns the run-scoped logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetConfig returns the effective configuration.
func (a *App) GetConfig() config.Config {
	return a.config
}

// RunID returns the identifier attached to every log line of this run.
func (a *App) RunID() string {
	return a.runID
}

// NewBuilder wires a matrix.Builder whose per-version runners use the
// allow-lists configured for releases or snapshots.
func (a *App) NewBuilder() *matrix.Builder {
	return matrix.NewBuilder(func(v release.Version) matrix.Runner {
		filters := a.config.FiltersFor(v)
		return buildinfo.New(v, a.client,
			buildinfo.Filters{
				Targets:    buildinfo.Filter(filters.Targets),
				Subtargets: buildinfo.Filter(filters.Subtargets),
			},
			buildinfo.WithLogger(a.logger.Named("buildinfo")),
			buildinfo.WithExtractor(a.extractor),
			buildinfo.WithMaxParallel(a.config.Fetch.MaxParallel),
		)
	}, a.logger.Named("matrix"))
}

// Close pushes metrics when a Pushgateway is configured and flushes the logger.
func (a *App) Close(ctx context.Context) {
	metrics.MarkRun(time.Now())
	if gw := a.config.Metrics.PushgatewayURL; gw != "" {
		if err := metrics.Push(ctx, gw, a.config.Metrics.Job, map[string]string{"run_id": a.runID}); err != nil {
			a.logger.Warn("Failed to push metrics", zap.Error(err))
		}
	}
	// Sync on a terminal stderr reports EINVAL on some platforms; nothing useful to do with it.
	_ = a.logger.Sync()
}
