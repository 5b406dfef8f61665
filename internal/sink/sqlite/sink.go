// Package sqlite implements parking.Sink on a local SQLite file. It is meant
// for development runs that should not touch the hosted database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/beach-parking-monitor/internal/parking"
	"github.com/JakeFAU/beach-parking-monitor/internal/sink"
)

// Config points at the database file and table.
type Config struct {
	Path  string
	Table string
}

// Sink writes parking rows into SQLite.
type Sink struct {
	db     *sql.DB
	table  string
	logger *zap.Logger
}

// New opens (creating if needed) the database file and ensures the table exists.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Sink, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("%w: sink.sqlite.path is required", parking.ErrMissingCredentials)
	}
	table, err := sink.TableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sink{db: db, table: table, logger: logger}
	if err := s.createTable(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) createTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	%s TEXT NOT NULL,
	%s TEXT NOT NULL,
	%s TEXT NOT NULL,
	created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
)`, s.table, sink.ColumnRecordedAt, sink.ColumnBeachName, sink.ColumnStatus)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// Write inserts every record with one multi-row INSERT.
func (s *Sink) Write(ctx context.Context, records []parking.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	rows := sink.ToRows(records)
	placeholders := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)*len(sink.Columns))
	for _, row := range rows {
		placeholders = append(placeholders, "(?, ?, ?)")
		args = append(args, row.Values()...)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		s.table, strings.Join(sink.Columns, ", "), strings.Join(placeholders, ", "))

	s.logger.Info("Attempting to save records to database", zap.Int("records", len(records)))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert parking rows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// Close closes the database handle.
func (s *Sink) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}
