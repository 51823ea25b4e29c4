// Package export renders a form's responses as downloadable tables.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat maps a query value to a Format. Empty means CSV.
func ParseFormat(value string) (Format, error) {
	switch Format(value) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Row is one response flattened for export. Cells follow the column order of
// the table it belongs to.
type Row struct {
	ResponseID  string
	SubmittedBy string
	SubmittedAt time.Time
	Cells       []string
}

// Table is the export input: one column per question plus the fixed
// response columns.
type Table struct {
	Title   string
	Columns []string
	Rows    []Row
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// ErrUnsupportedFormat indicates an export format this package cannot render.
var ErrUnsupportedFormat = errors.New("export format unsupported")
