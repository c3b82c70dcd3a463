package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CSVReader handles .csv and .tsv exports. The first row is a header naming
// the columns; order does not matter and header matching is case-insensitive.
type CSVReader struct{}

// CanHandle returns true for CSV/TSV file extensions.
func (c *CSVReader) CanHandle(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".csv" || ext == ".tsv"
}

// Read parses the file. Required columns: content, occurred_at. Optional:
// contact, external_id, source, direction, subject. Unknown columns are
// ignored so exports with extra fields still load.
func (c *CSVReader) Read(ctx context.Context, path string) ([]RawComm, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	if strings.ToLower(filepath.Ext(path)) == ".tsv" {
		reader.Comma = '\t'
	}
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	cols := map[string]int{}
	for i, name := range records[0] {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"content", "occurred_at"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("%s: missing required column %q", path, required)
		}
	}

	field := func(row []string, name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	var comms []RawComm
	for i, row := range records[1:] {
		line := i + 2 // 1-indexed, after the header

		rec := jsonlRecord{
			ExternalID: field(row, "external_id"),
			Contact:    field(row, "contact"),
			Content:    field(row, "content"),
			Source:     field(row, "source"),
			Direction:  field(row, "direction"),
			Subject:    field(row, "subject"),
			OccurredAt: field(row, "occurred_at"),
		}
		raw, err := rawFromRecord(rec, line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		comms = append(comms, raw)
	}
	return comms, nil
}
