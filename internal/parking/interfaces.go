package parking

import (
	"context"
	"io"
	"time"
)

// Fetcher retrieves the source page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (RawPage, error)
}

// Extractor turns a fetched page into records.
type Extractor interface {
	Extract(page RawPage) (Extraction, error)
}

// Sink persists a batch of records in one bulk write and reports how many rows
// the backend confirmed.
type Sink interface {
	Write(ctx context.Context, records []Record) (int, error)
	Close() error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes run notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, payload any) (string, error)
}

// Hasher computes digests of fetched pages.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
