// Package supabase implements parking.Sink against a Supabase project's
// PostgREST endpoint.
package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/supabase-community/postgrest-go"
	"go.uber.org/zap"

	"github.com/JakeFAU/beach-parking-monitor/internal/parking"
	"github.com/JakeFAU/beach-parking-monitor/internal/sink"
)

const (
	defaultTimeout = 30 * time.Second
	schema         = "public"
)

// Config holds the project credentials and target table.
type Config struct {
	URL     string
	Key     string
	Table   string
	Timeout time.Duration
}

// Sink inserts rows through the PostgREST API.
type Sink struct {
	client  *postgrest.Client
	table   string
	timeout time.Duration
	logger  *zap.Logger
}

// New validates the credentials and builds a Sink.
func New(cfg Config, logger *zap.Logger) (*Sink, error) {
	if strings.TrimSpace(cfg.URL) == "" || strings.TrimSpace(cfg.Key) == "" {
		return nil, fmt.Errorf("%w: SUPABASE_URL and SUPABASE_KEY must be set", parking.ErrMissingCredentials)
	}
	table, err := sink.TableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	client := postgrest.NewClient(strings.TrimRight(cfg.URL, "/")+"/rest/v1", schema, map[string]string{
		"apikey":        cfg.Key,
		"Authorization": "Bearer " + cfg.Key,
	})
	if client.ClientError != nil {
		return nil, fmt.Errorf("create postgrest client: %w", client.ClientError)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{client: client, table: table, timeout: timeout, logger: logger}, nil
}

// Write inserts all records in one request and returns the number of rows
// the backend echoed back.
func (s *Sink) Write(ctx context.Context, records []parking.Record) (int, error) {
	s.logger.Info("Attempting to save records to database", zap.Int("records", len(records)))
	body, err := s.insert(ctx, sink.ToRows(records))
	if err != nil {
		return 0, err
	}

	var saved []sink.Row
	if len(body) > 0 {
		if err := json.Unmarshal(body, &saved); err != nil {
			return 0, fmt.Errorf("decode inserted rows: %w", err)
		}
	}
	for _, row := range saved {
		s.logger.Info("Saved",
			zap.String("beach", row.BeachName),
			zap.String("status", row.Status),
			zap.String("recorded_at", row.RecordedAt),
		)
	}
	return len(saved), nil
}

// insert runs the PostgREST call under the sink timeout. The client takes no
// context, so an abandoned call finishes in the background.
func (s *Sink) insert(ctx context.Context, rows []sink.Row) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type result struct {
		body []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		body, _, err := s.client.From(s.table).
			Insert(rows, false, "", "representation", "").
			Execute()
		done <- result{body: body, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("insert rows: %w", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("insert rows: %w", res.err)
		}
		return res.body, nil
	}
}

// Close is a no-op; the PostgREST client holds no resources to release.
func (s *Sink) Close() error {
	return nil
}
