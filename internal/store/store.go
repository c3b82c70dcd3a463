// Package store provides the SQLite storage layer for dunbar.
//
// All CRM data lives in a single SQLite database file, including:
// - Ingested communications with processed markers
// - Extracted and manual facts with conflict flags and soft deletes
// - Relationships with reciprocal rows for linked contacts
// - Followup reminders
// - Embedding vectors for fact deduplication
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.dunbar/dunbar.db"

// DefaultMinMessageLength is the content length below which a communication
// is ignored by the pipeline, both for counting and for batching.
const DefaultMinMessageLength = 20

// Fact and relationship provenance.
const (
	SourceManual    = "manual"
	SourceExtracted = "extracted"
)

// Communication directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Followup types.
const (
	FollowupContentDetected = "content_detected"
	FollowupTimeBased       = "time_based"
	FollowupManual          = "manual"
)

// Contact is a person record. Contact CRUD proper belongs to the wider CRM;
// the pipeline needs ids and display names.
type Contact struct {
	ID          int64
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Communication is one ingested message, email, or call note.
// The pipeline only reads communications and stamps ProcessedAt.
type Communication struct {
	ID          int64
	ExternalID  string
	ContactID   int64
	Content     string
	Source      string
	Direction   string
	Subject     string
	OccurredAt  time.Time
	ProcessedAt *time.Time
	CreatedAt   time.Time
}

// Fact is one piece of structured knowledge about a contact.
type Fact struct {
	ID              int64
	ContactID       int64
	FactType        string
	Value           string
	StructuredValue string // optional JSON payload
	Source          string
	Confidence      float64
	HasConflict     bool
	SupersededBy    *int64
	DeletedAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Relationship links a contact to a person, optionally another contact record.
type Relationship struct {
	ID              int64
	ContactID       int64
	Label           string
	PersonName      string
	LinkedContactID *int64
	Source          string
	Confidence      *float64
	DeletedAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Followup is a reminder to act on something for a contact.
type Followup struct {
	ID                    int64
	ContactID             int64
	Type                  string
	Reason                string
	DueDate               time.Time
	SourceCommunicationID *int64
	Completed             bool
	CompletedAt           *time.Time
	CreatedAt             time.Time
}

// ContactWorkload reports how many unprocessed communications a contact has.
type ContactWorkload struct {
	ContactID        int64
	DisplayName      string
	UnprocessedCount int
}

// FactMatch is the nearest stored fact to a candidate vector.
type FactMatch struct {
	Fact       *Fact
	Similarity float64
}

// ConflictGroup is one conflicted (contact_id, fact_type) value set.
type ConflictGroup struct {
	ContactID int64
	FactType  string
	Facts     []*Fact
}

// ListFactOpts filters fact listings.
type ListFactOpts struct {
	FactType       string
	IncludeDeleted bool
	OnlyConflicted bool
	Limit          int
}

// ListFollowupOpts filters followup listings.
type ListFollowupOpts struct {
	ContactID        int64 // 0 = all contacts
	IncludeCompleted bool
	DueBefore        *time.Time
	Limit            int
}

// StoreConfig holds configuration for NewStore.
type StoreConfig struct {
	DBPath string
}

// Store defines the persistence interface the pipeline and its surfaces use.
type Store interface {
	// Contacts
	AddContact(ctx context.Context, displayName string) (*Contact, error)
	GetContact(ctx context.Context, id int64) (*Contact, error)
	FindContactsByName(ctx context.Context, displayName string) ([]*Contact, error)
	ListContacts(ctx context.Context) ([]*Contact, error)

	// Communications
	AddCommunication(ctx context.Context, c *Communication) (int64, error)
	GetCommunicationByExternalID(ctx context.Context, externalID string) (*Communication, error)
	ContactsWithUnprocessed(ctx context.Context, minLength int) ([]*ContactWorkload, error)
	UnprocessedCommunications(ctx context.Context, contactID int64, minLength int) ([]*Communication, error)
	RecentProcessedCommunications(ctx context.Context, contactID int64, limit int) ([]*Communication, error)
	MarkCommunicationsProcessed(ctx context.Context, ids []int64) error
	LastCommunicationAt(ctx context.Context, contactID int64) (*time.Time, error)

	// Facts
	AddFact(ctx context.Context, f *Fact) (int64, error)
	GetFact(ctx context.Context, id int64) (*Fact, error)
	ListFacts(ctx context.Context, contactID int64, opts ListFactOpts) ([]*Fact, error)
	FactsByType(ctx context.Context, contactID int64, factType string) ([]*Fact, error)
	UpdateFactConfidence(ctx context.Context, id int64, confidence float64) error
	SoftDeleteFact(ctx context.Context, id int64) error
	SupersedeFact(ctx context.Context, loserID, winnerID int64) error
	RefreshConflictState(ctx context.Context, contactID int64, factType string) (bool, error)
	ConflictGroups(ctx context.Context, contactID int64) ([]*ConflictGroup, error)
	ResolveConflict(ctx context.Context, contactID int64, factType string, keepFactID int64, deleteLosers bool) error

	// Embeddings
	SaveFactEmbedding(ctx context.Context, factID int64, vector []float32, model string) error
	FactEmbedding(ctx context.Context, factID int64) ([]float32, error)
	NearestFact(ctx context.Context, contactID int64, factType string, vector []float32) (*FactMatch, error)

	// Relationships
	AddRelationship(ctx context.Context, r *Relationship) (int64, error)
	GetRelationship(ctx context.Context, id int64) (*Relationship, error)
	ListRelationships(ctx context.Context, contactID int64, includeDeleted bool) ([]*Relationship, error)
	FindLiveRelationship(ctx context.Context, contactID int64, label, personName string) (*Relationship, error)
	FindReciprocalRelationship(ctx context.Context, contactID int64, label string, linkedContactID int64) (*Relationship, error)
	UpdateRelationshipLink(ctx context.Context, id int64, linkedContactID *int64) error
	SoftDeleteRelationship(ctx context.Context, id int64) error

	// Followups
	AddFollowup(ctx context.Context, f *Followup) (int64, error)
	GetFollowup(ctx context.Context, id int64) (*Followup, error)
	OpenFollowupByReason(ctx context.Context, contactID int64, reason string) (*Followup, error)
	ListFollowups(ctx context.Context, opts ListFollowupOpts) ([]*Followup, error)
	CompleteFollowup(ctx context.Context, id int64) error

	// Maintenance
	Vacuum(ctx context.Context) error
	Close() error
}

// SQLiteStore implements Store on a single SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewStore creates a new SQLite-backed Store.
// Pass ":memory:" for in-memory databases (testing).
func NewStore(cfg StoreConfig) (Store, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = expandPath(DefaultDBPath)
	}

	// Create parent directory for non-memory databases
	if cfg.DBPath != ":memory:" {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		dbPath: cfg.DBPath,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Vacuum runs VACUUM on the database. Manual only, never auto-vacuum.
func (s *SQLiteStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// QueryRowContext runs a raw read query against the underlying database.
// Aggregate observability queries use it for counts the Store interface
// does not cover.
func (s *SQLiteStore) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, query, args...)
}

// QueryContext runs a raw multi-row read query against the underlying
// database.
func (s *SQLiteStore) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
