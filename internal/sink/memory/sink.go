// Package memory provides an in-process parking.Sink.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/beach-parking-monitor/internal/parking"
)

// Sink keeps every written batch in memory.
type Sink struct {
	mu      sync.Mutex
	batches [][]parking.Record
	confirm func(n int) int
	err     error
}

// Option customizes a memory sink.
type Option func(*Sink)

// WithError makes every Write fail with err.
func WithError(err error) Option {
	return func(s *Sink) { s.err = err }
}

// WithConfirmed overrides the confirmed row count reported for a batch of n.
func WithConfirmed(fn func(n int) int) Option {
	return func(s *Sink) { s.confirm = fn }
}

// New creates an empty Sink.
func New(opts ...Option) *Sink {
	s := &Sink{confirm: func(n int) int { return n }}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Write records the batch and reports it as fully written.
func (s *Sink) Write(_ context.Context, records []parking.Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]parking.Record(nil), records...))
	if s.err != nil {
		return 0, s.err
	}
	return s.confirm(len(records)), nil
}

// Batches returns a copy of every batch written so far.
func (s *Sink) Batches() [][]parking.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]parking.Record, len(s.batches))
	copy(out, s.batches)
	return out
}

// Close is a no-op.
func (s *Sink) Close() error { return nil }
