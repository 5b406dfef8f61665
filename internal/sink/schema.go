package sink

import (
	"fmt"
	"regexp"

	"github.com/JakeFAU/beach-parking-monitor/internal/parking"
)

// Column names of the parking status table.
const (
	ColumnRecordedAt = "recorded_at"
	ColumnBeachName  = "beach_name"
	ColumnStatus     = "status"
)

// DefaultTable is used when no table name is configured.
const DefaultTable = "parking_status"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Columns lists the insert columns in positional order.
var Columns = []string{ColumnRecordedAt, ColumnBeachName, ColumnStatus}

// Row is one record mapped onto the storage schema.
type Row struct {
	RecordedAt string `json:"recorded_at"`
	BeachName  string `json:"beach_name"`
	Status     string `json:"status"`
}

// ToRows maps records onto storage rows, preserving order.
func ToRows(records []parking.Record) []Row {
	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		rows = append(rows, Row{
			RecordedAt: rec.Timestamp,
			BeachName:  rec.BeachName,
			Status:     rec.Status,
		})
	}
	return rows
}

// Values returns the row's fields in Columns order.
func (r Row) Values() []any {
	return []any{r.RecordedAt, r.BeachName, r.Status}
}

// TableName validates name and falls back to DefaultTable when empty.
func TableName(name string) (string, error) {
	if name == "" {
		return DefaultTable, nil
	}
	if !validTableName.MatchString(name) {
		return "", fmt.Errorf("invalid table name %q", name)
	}
	return name, nil
}
