// Package output renders records for stdout.
package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/JakeFAU/beach-parking-monitor/internal/parking"
)

// WriteJSON writes records as an indented JSON array. Non-ASCII characters
// are emitted verbatim.
func WriteJSON(w io.Writer, records []parking.Record) error {
	if records == nil {
		records = []parking.Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	return nil
}
