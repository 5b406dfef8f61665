package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/beach-parking-monitor/internal/parking"
)

// Skip reasons recorded on parking.SkippedContainer.
const (
	ReasonMissingName   = "beach label not found"
	ReasonMissingStatus = "status label not found"
	ReasonMissingBoth   = "beach and status labels not found"
	ReasonEmptyName     = "beach label is empty"
	ReasonEmptyStatus   = "status label is empty"
)

// Extractor implements parking.Extractor with goquery and a Matcher.
type Extractor struct {
	matcher Matcher
	clock   parking.Clock
	logger  *zap.Logger
}

// New creates an Extractor.
func New(matcher Matcher, clock parking.Clock, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{matcher: matcher, clock: clock, logger: logger}
}

// Extract parses the page and emits one record per container that has both a
// non-empty name and status. Every record shares one timestamp taken before
// the scan. An empty result is not an error.
func (e *Extractor) Extract(page parking.RawPage) (parking.Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return parking.Extraction{}, fmt.Errorf("parse html: %w", err)
	}

	containers := e.matcher.Containers(doc)
	out := parking.Extraction{
		Timestamp:  e.clock.Now().Format(parking.TimestampLayout),
		Containers: containers.Length(),
		Records:    make([]parking.Record, 0, containers.Length()),
	}
	if out.Containers == 0 {
		e.logger.Warn("No containers found on the page", zap.String("url", page.URL))
		return out, nil
	}
	e.logger.Info("Found containers", zap.Int("count", out.Containers))

	containers.Each(func(i int, c *goquery.Selection) {
		rec, reason := e.pair(c, out.Timestamp)
		if reason != "" {
			out.Skipped = append(out.Skipped, parking.SkippedContainer{Index: i, Reason: reason})
			e.logger.Warn("Could not extract beach status from container",
				zap.Int("container", i+1),
				zap.String("reason", reason),
			)
			return
		}
		out.Records = append(out.Records, rec)
		e.logger.Info("Parsed beach",
			zap.Int("container", i+1),
			zap.String("beach", rec.BeachName),
			zap.String("status", rec.Status),
		)
	})

	e.logger.Info("Parsed parking records",
		zap.Int("records", len(out.Records)),
		zap.Int("skipped", len(out.Skipped)),
	)
	return out, nil
}

func (e *Extractor) pair(c *goquery.Selection, timestamp string) (parking.Record, string) {
	name := e.matcher.Name(c)
	status := e.matcher.Status(c)
	switch {
	case name.Length() == 0 && status.Length() == 0:
		return parking.Record{}, ReasonMissingBoth
	case name.Length() == 0:
		return parking.Record{}, ReasonMissingName
	case status.Length() == 0:
		return parking.Record{}, ReasonMissingStatus
	}

	beach := strings.TrimSpace(name.Text())
	state := strings.TrimSpace(status.Text())
	switch {
	case beach == "":
		return parking.Record{}, ReasonEmptyName
	case state == "":
		return parking.Record{}, ReasonEmptyStatus
	}
	return parking.Record{Timestamp: timestamp, BeachName: beach, Status: state}, ""
}
