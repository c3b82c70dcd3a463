// Package ingest imports communication exports into the store.
//
// Each supported format (JSON Lines, CSV) has a Reader that parses one file
// into raw records; the engine then resolves contacts by display name,
// optionally creating unknown ones, and persists each record. Every record
// carries a stable external id, supplied by the export or derived from its
// content, so re-importing the same file is a no-op.
package ingest

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

// RawComm is one parsed communication record, not yet persisted.
type RawComm struct {
	ExternalID string
	Contact    string
	Content    string
	Source     string
	Direction  string
	Subject    string
	OccurredAt time.Time
	Line       int
}

// Reader parses a specific export format.
type Reader interface {
	// CanHandle reports whether this reader supports the given file path.
	CanHandle(path string) bool

	// Read parses the whole file. A malformed record fails the file with
	// its line number; nothing is persisted on a parse failure.
	Read(ctx context.Context, path string) ([]RawComm, error)
}

// Result summarizes one import.
type Result struct {
	Records         int           `json:"records"`
	Imported        int           `json:"imported"`
	Duplicates      int           `json:"duplicates"`
	ContactsCreated int           `json:"contacts_created"`
	Errors          []ImportError `json:"errors,omitempty"`
}

// Add merges another Result into this one.
func (r *Result) Add(other *Result) {
	r.Records += other.Records
	r.Imported += other.Imported
	r.Duplicates += other.Duplicates
	r.ContactsCreated += other.ContactsCreated
	r.Errors = append(r.Errors, other.Errors...)
}

// ImportError records a non-fatal, per-record failure during persistence.
type ImportError struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Message string `json:"message"`
}

func (e ImportError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
}

// whenLayouts are the timestamp formats exports actually contain.
var whenLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseWhen(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range whenLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format %q", raw)
}

// fallbackExternalID derives a stable id for records the export did not tag.
// Contact, timestamp, and content together identify a message well enough
// that re-importing the same file dedupes, while distinct messages collide
// only if the export itself repeated them.
func fallbackExternalID(r RawComm) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", strings.ToLower(strings.TrimSpace(r.Contact)), r.OccurredAt.UTC().Unix(), r.Content)))
	return fmt.Sprintf("sha256:%x", h[:12])
}

// validDirection reports whether d is one of the two accepted directions.
// Empty is allowed; the store defaults it to inbound.
func validDirection(d string) bool {
	switch d {
	case "", "inbound", "outbound":
		return true
	default:
		return false
	}
}
