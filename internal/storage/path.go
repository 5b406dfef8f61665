// Package storage holds helpers shared by the raw-page blob stores.
package storage

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// PagePath returns the object path for a run's raw page:
// <prefix>/<YYYY>/<MM>/<DD>/<runID>.html.
func PagePath(prefix, runID string, fetchedAt time.Time) (string, error) {
	if strings.TrimSpace(runID) == "" {
		return "", fmt.Errorf("run id is required")
	}
	t := fetchedAt.UTC()
	return path.Join(
		strings.Trim(prefix, "/"),
		t.Format("2006"),
		t.Format("01"),
		t.Format("02"),
		runID+".html",
	), nil
}
