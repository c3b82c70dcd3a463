package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// JSONLReader handles .jsonl and .ndjson exports, one communication object
// per line.
type JSONLReader struct{}

// CanHandle returns true for JSON Lines file extensions.
func (j *JSONLReader) CanHandle(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".jsonl" || ext == ".ndjson"
}

type jsonlRecord struct {
	ExternalID string `json:"external_id"`
	Contact    string `json:"contact"`
	Content    string `json:"content"`
	Source     string `json:"source"`
	Direction  string `json:"direction"`
	Subject    string `json:"subject"`
	OccurredAt string `json:"occurred_at"`
}

// Read parses the file line by line. Blank lines are skipped; any malformed
// line fails the whole file so a partial export never half-imports.
func (j *JSONLReader) Read(ctx context.Context, path string) ([]RawComm, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	// Call transcripts and long emails overflow the default line buffer.
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var comms []RawComm
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var rec jsonlRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("%s:%d: invalid JSON: %w", path, line, err)
		}

		raw, err := rawFromRecord(rec, line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		comms = append(comms, raw)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return comms, nil
}

// rawFromRecord validates one parsed record. Contact may be empty here;
// the engine fills it from the import's default contact or rejects the file.
func rawFromRecord(rec jsonlRecord, line int) (RawComm, error) {
	if strings.TrimSpace(rec.Content) == "" {
		return RawComm{}, fmt.Errorf("missing content")
	}
	if !validDirection(rec.Direction) {
		return RawComm{}, fmt.Errorf("invalid direction %q", rec.Direction)
	}

	occurred, err := parseWhen(rec.OccurredAt)
	if err != nil {
		return RawComm{}, err
	}

	return RawComm{
		ExternalID: strings.TrimSpace(rec.ExternalID),
		Contact:    strings.TrimSpace(rec.Contact),
		Content:    rec.Content,
		Source:     strings.TrimSpace(rec.Source),
		Direction:  rec.Direction,
		Subject:    strings.TrimSpace(rec.Subject),
		OccurredAt: occurred,
		Line:       line,
	}, nil
}
