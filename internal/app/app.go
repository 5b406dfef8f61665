// Package app initializes and holds the monitor's services, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/beach-parking-monitor/internal/clock/system"
	"github.com/JakeFAU/beach-parking-monitor/internal/config"
	"github.com/JakeFAU/beach-parking-monitor/internal/extract"
	collyfetcher "github.com/JakeFAU/beach-parking-monitor/internal/fetcher/colly"
	"github.com/JakeFAU/beach-parking-monitor/internal/fetcher/headless"
	"github.com/JakeFAU/beach-parking-monitor/internal/hash/sha256"
	"github.com/JakeFAU/beach-parking-monitor/internal/id/uuid"
	"github.com/JakeFAU/beach-parking-monitor/internal/logging"
	"github.com/JakeFAU/beach-parking-monitor/internal/metrics"
	"github.com/JakeFAU/beach-parking-monitor/internal/parking"
	"github.com/JakeFAU/beach-parking-monitor/internal/pipeline"
	pubsubpublisher "github.com/JakeFAU/beach-parking-monitor/internal/publisher/pubsub"
	sinkmemory "github.com/JakeFAU/beach-parking-monitor/internal/sink/memory"
	"github.com/JakeFAU/beach-parking-monitor/internal/sink/postgres"
	"github.com/JakeFAU/beach-parking-monitor/internal/sink/sqlite"
	"github.com/JakeFAU/beach-parking-monitor/internal/sink/supabase"
	"github.com/JakeFAU/beach-parking-monitor/internal/storage/gcs"
	"github.com/JakeFAU/beach-parking-monitor/internal/storage/local"
	blobmemory "github.com/JakeFAU/beach-parking-monitor/internal/storage/memory"
	"github.com/JakeFAU/beach-parking-monitor/internal/summary"
	"github.com/JakeFAU/beach-parking-monitor/internal/telemetry"
)

// App holds the services for one invocation of the monitor.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	driver  *pipeline.Driver
	closers []func() error
}

// Load reads configuration from path (optional) and the environment, builds
// the logger and wires the App.
func Load(ctx context.Context, path string) (*App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	telemetry.Init()
	a, err := New(ctx, cfg, logger, os.Stdout)
	if err != nil {
		logger.Error("Failed to initialize application services", zap.Error(err))
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

// New wires every service from cfg. JSON output goes to stdout.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, stdout io.Writer) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	clk := system.New()

	fetcher, err := a.buildFetcher(clk)
	if err != nil {
		return nil, err
	}

	matcher := extract.IDSubstringMatcher{
		ContainerSelector: cfg.Extract.ContainerSelector,
		NodeSelector:      cfg.Extract.NodeSelector,
		NameToken:         cfg.Extract.NameToken,
		StatusToken:       cfg.Extract.StatusToken,
		StatusExclude:     cfg.Extract.StatusExclude,
	}

	deps := pipeline.Deps{
		Fetcher:   fetcher,
		Extractor: extract.New(matcher, clk, logger),
		OpenSink:  sinkOpener(cfg.Sink, logger),
		Clock:     clk,
		IDs:       uuid.New(),
		Hasher:    sha256.New(),
		Metrics:   metrics.New(),
		Stdout:    stdout,
	}

	if deps.Archive, err = a.buildArchive(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if deps.Publisher, err = a.buildPublisher(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if cfg.Metrics.PushgatewayURL != "" {
		pusher, err := metrics.NewPusher(cfg.Metrics.PushgatewayURL, cfg.Metrics.Job, cfg.PushTimeout())
		if err != nil {
			a.Close()
			return nil, err
		}
		deps.Pusher = pusher
	}
	if deps.Summary, err = a.buildSummary(clk); err != nil {
		a.Close()
		return nil, err
	}

	driver, err := pipeline.New(deps, pipeline.Config{
		SourceURL:          cfg.Source.URL,
		ArchivePrefix:      cfg.Archive.Prefix,
		ArchiveContentType: cfg.Archive.ContentType,
		PushTimeout:        cfg.PushTimeout(),
	}, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build pipeline: %w", err)
	}
	a.driver = driver
	logger.Info("Application services initialized",
		zap.String("source", cfg.Source.URL),
		zap.String("mode", cfg.Source.Mode),
		zap.String("sink", cfg.Sink.Provider),
		zap.String("archive", cfg.Archive.Provider),
	)
	return a, nil
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run executes one pipeline run.
func (a *App) Run(ctx context.Context, opts pipeline.Options) (parking.RunResult, error) {
	return a.driver.Run(ctx, opts)
}

// Close releases services in reverse order of creation and flushes the logger.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Error closing service", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
}

func (a *App) buildFetcher(clk parking.Clock) (parking.Fetcher, error) {
	switch a.cfg.Source.Mode {
	case config.ModeHeadless:
		f, err := headless.NewChromedp(headlessConfig(a.cfg), clk, a.logger)
		if err != nil {
			return nil, fmt.Errorf("init headless fetcher: %w", err)
		}
		a.closers = append(a.closers, func() error {
			f.Close()
			return nil
		})
		return f, nil
	default:
		return collyfetcher.New(collyConfig(a.cfg), clk, a.logger), nil
	}
}

// Both fetch modes share source.timeout_seconds as their only bound.
func collyConfig(cfg config.Config) collyfetcher.Config {
	return collyfetcher.Config{
		UserAgent:     cfg.Source.UserAgent,
		RespectRobots: cfg.Source.RespectRobots,
		Timeout:       cfg.FetchTimeout(),
	}
}

func headlessConfig(cfg config.Config) headless.Config {
	return headless.Config{
		UserAgent: cfg.Source.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	}
}

func (a *App) buildArchive(ctx context.Context) (parking.BlobStore, error) {
	switch a.cfg.Archive.Provider {
	case config.ArchiveLocal:
		store, err := local.New(local.Config{BaseDir: a.cfg.Archive.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local archive: %w", err)
		}
		return store, nil
	case config.ArchiveGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: a.cfg.Archive.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs archive: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	case config.ArchiveMemory:
		return blobmemory.NewBlobStore(), nil
	default:
		return nil, nil
	}
}

func (a *App) buildPublisher(ctx context.Context) (parking.Publisher, error) {
	if a.cfg.PubSub.Topic == "" {
		return nil, nil
	}
	pub, err := pubsubpublisher.New(ctx, pubsubpublisher.Config{
		ProjectID: a.cfg.PubSub.ProjectID,
		Topic:     a.cfg.PubSub.Topic,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("init pubsub publisher: %w", err)
	}
	a.closers = append(a.closers, pub.Close)
	return pub, nil
}

func (a *App) buildSummary(clk parking.Clock) (pipeline.SummaryWriter, error) {
	orch := a.cfg.Orchestrator
	if !orch.Active() {
		return nil, nil
	}
	if orch.SummaryPath == "" {
		a.logger.Warn("Running under the orchestrator but no step summary path is set; summary disabled")
		return nil, nil
	}
	w, err := summary.New(orch.SummaryPath, clk)
	if err != nil {
		return nil, fmt.Errorf("init step summary: %w", err)
	}
	return w, nil
}

// sinkOpener defers sink construction, and so the credential check, until
// the pipeline decides to persist.
func sinkOpener(cfg config.SinkConfig, logger *zap.Logger) pipeline.SinkOpener {
	return func(ctx context.Context) (parking.Sink, error) {
		switch cfg.Provider {
		case config.SinkPostgres:
			return postgres.New(ctx, postgres.Config{
				DSN:      cfg.Postgres.DSN,
				Table:    cfg.Table,
				MaxConns: cfg.Postgres.MaxConns,
			}, logger)
		case config.SinkSQLite:
			return sqlite.New(ctx, sqlite.Config{Path: cfg.SQLite.Path, Table: cfg.Table}, logger)
		case config.SinkMemory:
			return sinkmemory.New(), nil
		default:
			return supabase.New(supabase.Config{
				URL:     cfg.Supabase.URL,
				Key:     cfg.Supabase.Key,
				Table:   cfg.Table,
				Timeout: time.Duration(cfg.Supabase.TimeoutSeconds) * time.Second,
			}, logger)
		}
	}
}
