// Package parking defines the core types shared across the monitor's subsystems.
package parking

import "time"

// TimestampLayout is the ISO-8601 layout used for Record.Timestamp.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// RawPage is the payload returned by a Fetcher for one run.
type RawPage struct {
	URL        string
	StatusCode int
	Body       []byte
	FetchedAt  time.Time
}

// Record is one beach's parking status at extraction time.
type Record struct {
	Timestamp string `json:"Date"`
	BeachName string `json:"Beach"`
	Status    string `json:"Status"`
}

// SkippedContainer notes a container that could not be paired into a Record.
type SkippedContainer struct {
	Index  int
	Reason string
}

// Extraction is the output of an Extractor for one page.
type Extraction struct {
	Timestamp  string
	Containers int
	Records    []Record
	Skipped    []SkippedContainer
}

// Empty reports whether the extraction produced no usable records.
func (e Extraction) Empty() bool {
	return len(e.Records) == 0
}

// RunResult summarizes one pipeline invocation.
type RunResult struct {
	RunID     string
	SourceURL string
	FetchedAt time.Time
	Records   []Record
	Persisted bool
	Written   int
	PageURI   string
	PageHash  string
	Err       error
}

// Beaches returns the beach names in record order.
func (r RunResult) Beaches() []string {
	names := make([]string, 0, len(r.Records))
	for _, rec := range r.Records {
		names = append(names, rec.BeachName)
	}
	return names
}
