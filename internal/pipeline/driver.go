// Package pipeline runs one fetch, extract, persist and report cycle.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/beach-parking-monitor/internal/metrics"
	"github.com/JakeFAU/beach-parking-monitor/internal/output"
	"github.com/JakeFAU/beach-parking-monitor/internal/parking"
	"github.com/JakeFAU/beach-parking-monitor/internal/storage"
	"github.com/JakeFAU/beach-parking-monitor/internal/telemetry"
)

const defaultPushTimeout = 5 * time.Second

// SinkOpener builds the sink on demand so credentials are only required when
// persistence is requested.
type SinkOpener func(ctx context.Context) (parking.Sink, error)

// SummaryWriter appends a run report for the CI orchestrator.
type SummaryWriter interface {
	Append(res parking.RunResult) error
}

// MetricsPusher ships a run's metrics somewhere.
type MetricsPusher interface {
	Push(ctx context.Context, r *metrics.Recorder, sourceURL string) error
}

// Options are the per-invocation switches from the command line.
type Options struct {
	// Persist writes the batch to the sink.
	Persist bool
	// EmitJSON prints the records to stdout. JSON is also printed whenever
	// Persist is false.
	EmitJSON bool
}

// Config controls Driver behavior.
type Config struct {
	SourceURL          string
	ArchivePrefix      string
	ArchiveContentType string
	// PushTimeout bounds the metrics push, which outlives a canceled run
	// context. Defaults to 5s.
	PushTimeout time.Duration
}

// Deps groups the collaborators of a Driver. Fetcher, Extractor, Clock and
// IDs are required; the rest are optional side channels.
type Deps struct {
	Fetcher   parking.Fetcher
	Extractor parking.Extractor
	OpenSink  SinkOpener
	Clock     parking.Clock
	IDs       parking.IDGenerator
	Hasher    parking.Hasher
	Archive   parking.BlobStore
	Publisher parking.Publisher
	Summary   SummaryWriter
	Metrics   *metrics.Recorder
	Pusher    MetricsPusher
	Stdout    io.Writer
}

// Driver sequences the stages of one run.
type Driver struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// RunNotification is the payload published after a successful run.
type RunNotification struct {
	RunID      string           `json:"run_id"`
	FetchedAt  string           `json:"fetched_at"`
	SourceURL  string           `json:"source_url"`
	PageSHA256 string           `json:"page_sha256,omitempty"`
	Records    []parking.Record `json:"records"`
	Persisted  bool             `json:"persisted"`
}

// New constructs a Driver.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Driver, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("fetcher is required")
	case deps.Extractor == nil:
		return nil, errors.New("extractor is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	case deps.IDs == nil:
		return nil, errors.New("id generator is required")
	case cfg.SourceURL == "":
		return nil, errors.New("source url is required")
	}
	if deps.Stdout == nil {
		deps.Stdout = io.Discard
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = defaultPushTimeout
	}
	if cfg.ArchiveContentType == "" {
		cfg.ArchiveContentType = "text/html; charset=utf-8"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{deps: deps, cfg: cfg, logger: logger}, nil
}

// Run executes the pipeline once. The returned error wraps one of the
// parking sentinel errors when a stage fails.
func (d *Driver) Run(ctx context.Context, opts Options) (res parking.RunResult, err error) {
	runID, err := d.deps.IDs.NewID()
	if err != nil {
		return res, fmt.Errorf("generate run id: %w", err)
	}
	res.RunID = runID
	res.SourceURL = d.cfg.SourceURL

	ctx, span := telemetry.Tracer().Start(ctx, "parking.run")
	span.SetAttributes(attribute.String("run_id", runID), attribute.String("source_url", d.cfg.SourceURL))
	defer span.End()

	logger := d.logger.With(zap.String("run_id", runID))
	logger.Info("Starting beach parking status monitor",
		zap.Bool("persist", opts.Persist),
		zap.Bool("json", opts.EmitJSON),
	)
	logger.Info("Current UTC time", zap.String("now", d.deps.Clock.Now().UTC().Format(time.RFC3339Nano)))

	defer func() {
		res.Err = err
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Int("records", len(res.Records)), attribute.Bool("persisted", res.Persisted))
		d.finish(ctx, logger, res, err)
	}()

	page, err := d.fetch(ctx, logger)
	if err != nil {
		return res, err
	}
	res.FetchedAt = page.FetchedAt
	d.archive(ctx, logger, &res, page)

	extraction, err := d.extract(logger, page)
	if err != nil {
		return res, err
	}
	res.Records = extraction.Records

	if opts.Persist {
		written, err := d.persist(ctx, logger, extraction.Records)
		res.Written = written
		if err != nil {
			logger.Error("Failed to save data to database", zap.Error(err))
			return res, err
		}
		res.Persisted = true
	}

	if opts.EmitJSON || !opts.Persist {
		if err := output.WriteJSON(d.deps.Stdout, res.Records); err != nil {
			return res, fmt.Errorf("write json output: %w", err)
		}
		logger.Info("JSON output generated")
	}

	logger.Info("Successfully processed parking records", zap.Int("records", len(res.Records)))
	d.writeSummary(logger, res)
	d.publish(ctx, logger, res)
	return res, nil
}

func (d *Driver) fetch(ctx context.Context, logger *zap.Logger) (parking.RawPage, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "parking.fetch")
	defer span.End()

	start := time.Now()
	page, err := d.deps.Fetcher.Fetch(ctx, d.cfg.SourceURL)
	d.deps.Metrics.ObserveStage(metrics.StageFetch, time.Since(start))
	if err != nil {
		span.RecordError(err)
		logger.Error("Error fetching the page", zap.String("url", d.cfg.SourceURL), zap.Error(err))
		return parking.RawPage{}, fmt.Errorf("fetch page: %w", err)
	}
	logger.Debug("Fetched page",
		zap.String("url", page.URL),
		zap.Int("status", page.StatusCode),
		zap.Int("bytes", len(page.Body)),
	)
	return page, nil
}

func (d *Driver) extract(logger *zap.Logger, page parking.RawPage) (parking.Extraction, error) {
	start := time.Now()
	extraction, err := d.deps.Extractor.Extract(page)
	d.deps.Metrics.ObserveStage(metrics.StageExtract, time.Since(start))
	if err != nil {
		return parking.Extraction{}, fmt.Errorf("extract records: %w", err)
	}
	d.deps.Metrics.ObserveExtraction(extraction)
	if extraction.Empty() {
		logger.Error("No parking data found", zap.Int("containers", extraction.Containers))
		return extraction, fmt.Errorf("%w: %d containers, %d skipped",
			parking.ErrExtractionEmpty, extraction.Containers, len(extraction.Skipped))
	}
	return extraction, nil
}

// persist opens the sink and writes the batch in one call. Zero confirmed
// rows counts as a failure.
func (d *Driver) persist(ctx context.Context, logger *zap.Logger, records []parking.Record) (int, error) {
	if d.deps.OpenSink == nil {
		return 0, fmt.Errorf("%w: no sink configured", parking.ErrPersistence)
	}
	ctx, span := telemetry.Tracer().Start(ctx, "parking.persist")
	span.SetAttributes(attribute.Int("records", len(records)))
	defer span.End()

	sink, err := d.deps.OpenSink(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: open sink: %w", parking.ErrPersistence, err)
	}
	defer func() {
		if closeErr := sink.Close(); closeErr != nil {
			logger.Warn("Failed to close sink", zap.Error(closeErr))
		}
	}()

	start := time.Now()
	written, err := sink.Write(ctx, records)
	d.deps.Metrics.ObserveStage(metrics.StagePersist, time.Since(start))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", parking.ErrPersistence, err)
	}
	if written == 0 {
		return 0, fmt.Errorf("%w: sink confirmed 0 of %d rows", parking.ErrPersistence, len(records))
	}
	d.deps.Metrics.ObserveWritten(written)
	logger.Info("Successfully saved records to database", zap.Int("rows", written))
	return written, nil
}

func (d *Driver) archive(ctx context.Context, logger *zap.Logger, res *parking.RunResult, page parking.RawPage) {
	if d.deps.Hasher != nil {
		hash, err := d.deps.Hasher.Hash(page.Body)
		if err != nil {
			logger.Warn("Failed to hash page", zap.Error(err))
		} else {
			res.PageHash = hash
		}
	}
	if d.deps.Archive == nil {
		return
	}
	path, err := storage.PagePath(d.cfg.ArchivePrefix, res.RunID, page.FetchedAt)
	if err != nil {
		logger.Warn("Failed to build archive path", zap.Error(err))
		return
	}
	uri, err := d.deps.Archive.PutObject(ctx, path, d.cfg.ArchiveContentType, bytes.NewReader(page.Body))
	if err != nil {
		logger.Warn("Failed to archive page", zap.String("path", path), zap.Error(err))
		return
	}
	res.PageURI = uri
	logger.Info("Archived page", zap.String("uri", uri), zap.String("sha256", res.PageHash))
}

func (d *Driver) writeSummary(logger *zap.Logger, res parking.RunResult) {
	if d.deps.Summary == nil {
		return
	}
	if err := d.deps.Summary.Append(res); err != nil {
		logger.Warn("Failed to write step summary", zap.Error(err))
	}
}

func (d *Driver) publish(ctx context.Context, logger *zap.Logger, res parking.RunResult) {
	if d.deps.Publisher == nil {
		return
	}
	payload := RunNotification{
		RunID:      res.RunID,
		FetchedAt:  res.FetchedAt.UTC().Format(time.RFC3339),
		SourceURL:  res.SourceURL,
		PageSHA256: res.PageHash,
		Records:    res.Records,
		Persisted:  res.Persisted,
	}
	id, err := d.deps.Publisher.Publish(ctx, payload)
	if err != nil {
		logger.Warn("Failed to publish run notification", zap.Error(err))
		return
	}
	logger.Info("Run notification published", zap.String("message_id", id))
}

// finish records the outcome and pushes metrics. It never changes the result.
func (d *Driver) finish(ctx context.Context, logger *zap.Logger, res parking.RunResult, err error) {
	d.deps.Metrics.ObserveOutcome(err, d.deps.Clock.Now())
	if d.deps.Pusher == nil {
		return
	}
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.PushTimeout)
	defer cancel()
	if pushErr := d.deps.Pusher.Push(pushCtx, d.deps.Metrics, res.SourceURL); pushErr != nil {
		logger.Warn("Failed to push metrics", zap.Error(pushErr))
	}
}
