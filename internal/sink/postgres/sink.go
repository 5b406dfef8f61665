// Package postgres implements parking.Sink with a pgx connection pool.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/beach-parking-monitor/internal/parking"
	"github.com/JakeFAU/beach-parking-monitor/internal/sink"
)

// Config controls the Postgres connection pool used for parking rows.
type Config struct {
	DSN      string
	Table    string
	MaxConns int32
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Sink writes parking rows into Postgres.
type Sink struct {
	pool   execCloser
	table  string
	logger *zap.Logger
}

// New creates a Postgres-backed Sink using the provided config.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: sink.postgres.dsn is required", parking.ErrMissingCredentials)
	}
	table, err := sink.TableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(pool, table, logger)
}

// NewWithPool constructs a sink from an existing pool (primarily for testing).
func NewWithPool(pool execCloser, table string, logger *zap.Logger) (*Sink, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := sink.TableName(table)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{pool: pool, table: table, logger: logger}, nil
}

// Close releases the underlying pool resources.
func (s *Sink) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Write inserts every record with a single multi-row INSERT and returns the
// number of rows Postgres reports as affected.
func (s *Sink) Write(ctx context.Context, records []parking.Record) (int, error) {
	if s == nil || s.pool == nil {
		return 0, fmt.Errorf("postgres sink is not configured")
	}
	if len(records) == 0 {
		return 0, nil
	}
	query, args, err := s.buildInsert(sink.ToRows(records))
	if err != nil {
		return 0, err
	}

	s.logger.Info("Attempting to save records to database", zap.Int("records", len(records)))
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert parking rows: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Sink) buildInsert(rows []sink.Row) (string, []any, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", s.table, strings.Join(sink.Columns, ", "))

	args := make([]any, 0, len(rows)*len(sink.Columns))
	for i, row := range rows {
		recordedAt, err := time.Parse(parking.TimestampLayout, row.RecordedAt)
		if err != nil {
			return "", nil, fmt.Errorf("parse recorded_at %q: %w", row.RecordedAt, err)
		}
		if i > 0 {
			b.WriteString(", ")
		}
		n := len(args)
		fmt.Fprintf(&b, "($%d, $%d, $%d)", n+1, n+2, n+3)
		args = append(args, recordedAt, row.BeachName, row.Status)
	}
	return b.String(), args, nil
}
