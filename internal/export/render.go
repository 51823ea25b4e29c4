package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var filenameUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

var fixedColumns = []string{"Response ID", "Submitted By", "Submitted At"}

// Render produces the table in the requested format.
func Render(table Table, format Format) (*Result, error) {
	switch format {
	case FormatCSV:
		data, err := renderCSV(table)
		if err != nil {
			return nil, fmt.Errorf("render csv: %w", err)
		}
		return &Result{Data: data, Filename: filename(table.Title, "csv"), MimeType: "text/csv; charset=utf-8"}, nil
	case FormatJSON:
		data, err := renderJSON(table)
		if err != nil {
			return nil, fmt.Errorf("render json: %w", err)
		}
		return &Result{Data: data, Filename: filename(table.Title, "json"), MimeType: "application/json"}, nil
	default:
		return nil, ErrUnsupportedFormat
	}
}

func renderCSV(table Table) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)

	header := append([]string{}, fixedColumns...)
	for _, column := range table.Columns {
		header = append(header, spreadsheetSafe(column))
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, row := range table.Rows {
		record := make([]string, 0, len(header))
		record = append(record, row.ResponseID, spreadsheetSafe(row.SubmittedBy), row.SubmittedAt.UTC().Format(time.RFC3339))
		for i := range table.Columns {
			record = append(record, spreadsheetSafe(cell(row, i)))
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

type jsonAnswer struct {
	Question string `json:"question"`
	Value    string `json:"value"`
}

type jsonRow struct {
	ResponseID  string       `json:"responseId"`
	SubmittedBy string       `json:"submittedBy"`
	SubmittedAt time.Time    `json:"submittedAt"`
	Answers     []jsonAnswer `json:"answers"`
}

func renderJSON(table Table) ([]byte, error) {
	rows := make([]jsonRow, 0, len(table.Rows))
	for _, row := range table.Rows {
		answers := make([]jsonAnswer, 0, len(table.Columns))
		for i, column := range table.Columns {
			answers = append(answers, jsonAnswer{Question: column, Value: cell(row, i)})
		}
		rows = append(rows, jsonRow{
			ResponseID:  row.ResponseID,
			SubmittedBy: row.SubmittedBy,
			SubmittedAt: row.SubmittedAt.UTC(),
			Answers:     answers,
		})
	}
	return json.Marshal(map[string]any{"title": table.Title, "responses": rows})
}

// spreadsheetSafe quotes text that a spreadsheet would evaluate as a formula.
// Plain numbers such as "-5" are left alone.
func spreadsheetSafe(value string) string {
	if value == "" || !strings.ContainsRune("=+-@\t\r", rune(value[0])) {
		return value
	}
	if _, err := strconv.ParseFloat(value, 64); err == nil {
		return value
	}
	return "'" + value
}

func cell(row Row, i int) string {
	if i < len(row.Cells) {
		return row.Cells[i]
	}
	return ""
}

// filename creates a safe download name from a form title
func filename(title, ext string) string {
	slug := strings.Trim(filenameUnsafe.ReplaceAllString(strings.ToLower(title), "-"), "-")
	if len(slug) > 50 {
		slug = strings.TrimRight(slug[:50], "-")
	}
	if slug == "" {
		slug = "form"
	}
	return slug + "-responses." + ext
}
