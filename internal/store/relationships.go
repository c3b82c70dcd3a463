package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// AddRelationship inserts a relationship row. Reciprocal maintenance is the
// relate package's job; this is plain persistence.
func (s *SQLiteStore) AddRelationship(ctx context.Context, r *Relationship) (int64, error) {
	if r.ContactID == 0 {
		return 0, fmt.Errorf("relationship requires a contact id")
	}
	if strings.TrimSpace(r.Label) == "" {
		return 0, fmt.Errorf("relationship label cannot be empty")
	}
	if strings.TrimSpace(r.PersonName) == "" {
		return 0, fmt.Errorf("relationship person name cannot be empty")
	}
	if r.Source == "" {
		r.Source = SourceManual
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO relationships (contact_id, label, person_name, linked_contact_id, source, confidence, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ContactID, r.Label, r.PersonName, r.LinkedContactID, r.Source, r.Confidence, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting relationship: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting last insert id: %w", err)
	}

	r.ID = id
	r.CreatedAt = now
	r.UpdatedAt = now
	return id, nil
}

// GetRelationship retrieves a relationship by ID, deleted or not.
// Returns nil if not found.
func (s *SQLiteStore) GetRelationship(ctx context.Context, id int64) (*Relationship, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, contact_id, label, person_name, linked_contact_id, source, confidence, deleted_at, created_at, updated_at
		 FROM relationships WHERE id = ?`, id,
	)
	r, err := scanRelationship(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting relationship %d: %w", id, err)
	}
	return r, nil
}

// ListRelationships returns a contact's relationships, live only by default.
func (s *SQLiteStore) ListRelationships(ctx context.Context, contactID int64, includeDeleted bool) ([]*Relationship, error) {
	query := `SELECT id, contact_id, label, person_name, linked_contact_id, source, confidence, deleted_at, created_at, updated_at
	          FROM relationships WHERE contact_id = ?`
	if !includeDeleted {
		query += " AND deleted_at IS NULL"
	}
	query += " ORDER BY label, person_name, id"

	rows, err := s.db.QueryContext(ctx, query, contactID)
	if err != nil {
		return nil, fmt.Errorf("listing relationships: %w", err)
	}
	defer rows.Close()

	var rels []*Relationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning relationship row: %w", err)
		}
		rels = append(rels, r)
	}
	return rels, rows.Err()
}

// FindLiveRelationship finds a contact's non-deleted relationship matching
// label and person name case-insensitively. Returns nil if none.
func (s *SQLiteStore) FindLiveRelationship(ctx context.Context, contactID int64, label, personName string) (*Relationship, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, contact_id, label, person_name, linked_contact_id, source, confidence, deleted_at, created_at, updated_at
		 FROM relationships
		 WHERE contact_id = ? AND label = ? AND person_name = ? COLLATE NOCASE AND deleted_at IS NULL
		 ORDER BY id LIMIT 1`,
		contactID, label, strings.TrimSpace(personName),
	)
	r, err := scanRelationship(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding relationship: %w", err)
	}
	return r, nil
}

// FindReciprocalRelationship finds the live relationship row owned by
// contactID that carries the given label and points back at linkedContactID.
// Returns nil if none.
func (s *SQLiteStore) FindReciprocalRelationship(ctx context.Context, contactID int64, label string, linkedContactID int64) (*Relationship, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, contact_id, label, person_name, linked_contact_id, source, confidence, deleted_at, created_at, updated_at
		 FROM relationships
		 WHERE contact_id = ? AND label = ? AND linked_contact_id = ? AND deleted_at IS NULL
		 ORDER BY id LIMIT 1`,
		contactID, label, linkedContactID,
	)
	r, err := scanRelationship(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding reciprocal relationship: %w", err)
	}
	return r, nil
}

// UpdateRelationshipLink points a relationship at another contact record,
// or clears the link when linkedContactID is nil.
func (s *SQLiteStore) UpdateRelationshipLink(ctx context.Context, id int64, linkedContactID *int64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE relationships SET linked_contact_id = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL",
		linkedContactID, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating relationship link: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("relationship %d not found or deleted", id)
	}
	return nil
}

// SoftDeleteRelationship tombstones a relationship row.
// Already-deleted rows are left untouched.
func (s *SQLiteStore) SoftDeleteRelationship(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		"UPDATE relationships SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL",
		now, now, id,
	)
	if err != nil {
		return fmt.Errorf("soft-deleting relationship: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("relationship %d not found or already deleted", id)
	}
	return nil
}

func scanRelationship(row rowScanner) (*Relationship, error) {
	r := &Relationship{}
	err := row.Scan(&r.ID, &r.ContactID, &r.Label, &r.PersonName, &r.LinkedContactID,
		&r.Source, &r.Confidence, &r.DeletedAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return r, nil
}
