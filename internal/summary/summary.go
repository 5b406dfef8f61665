// Package summary appends a markdown run report to the CI step summary file.
package summary

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/markdown"

	"github.com/JakeFAU/beach-parking-monitor/internal/parking"
)

const executionTimeLayout = "2006-01-02 15:04:05"

// Writer appends run summaries to a file path.
type Writer struct {
	path  string
	clock parking.Clock
}

// New returns a Writer targeting path.
func New(path string, clock parking.Clock) (*Writer, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("summary path is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	return &Writer{path: path, clock: clock}, nil
}

// Append renders the run and appends it to the summary file. The file is
// created if absent and never truncated.
func (w *Writer) Append(res parking.RunResult) (err error) {
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open summary file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close summary file: %w", closeErr)
		}
	}()
	return Render(f, res, w.clock.Now())
}

// Render writes the markdown report for res.
func Render(out io.Writer, res parking.RunResult, at time.Time) error {
	md := markdown.NewMarkdown(out)
	md.PlainText("")
	md.H2("Beach Parking Monitor Results")
	md.PlainText("")
	md.BulletList(
		bold("Execution Time")+": "+at.UTC().Format(executionTimeLayout)+" UTC",
		bold("Records Processed")+": "+strconv.Itoa(len(res.Records)),
		bold("Beaches Monitored")+": "+strings.Join(res.Beaches(), ", "),
	)
	md.PlainText("")
	md.H3("Current Status:")
	statuses := make([]string, 0, len(res.Records))
	for _, rec := range res.Records {
		statuses = append(statuses, bold(rec.BeachName)+": "+rec.Status)
	}
	if len(statuses) > 0 {
		md.BulletList(statuses...)
	}
	if err := md.Build(); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

func bold(s string) string {
	return "**" + s + "**"
}
