package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// AddFact inserts a new fact for a contact. The conflict flag is not touched
// here; callers run RefreshConflictState after mutating a (contact, type)
// group.
func (s *SQLiteStore) AddFact(ctx context.Context, f *Fact) (int64, error) {
	if f.ContactID == 0 {
		return 0, fmt.Errorf("fact requires a contact id")
	}
	if strings.TrimSpace(f.FactType) == "" {
		return 0, fmt.Errorf("fact type cannot be empty")
	}
	if strings.TrimSpace(f.Value) == "" {
		return 0, fmt.Errorf("fact value cannot be empty")
	}
	if f.Source == "" {
		f.Source = SourceManual
	}
	if f.Confidence == 0 {
		f.Confidence = 1.0
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO facts (contact_id, fact_type, value, structured_value, source, confidence, has_conflict, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		f.ContactID, f.FactType, f.Value, f.StructuredValue, f.Source, f.Confidence, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting fact: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting last insert id: %w", err)
	}

	f.ID = id
	f.CreatedAt = now
	f.UpdatedAt = now
	return id, nil
}

// GetFact retrieves a fact by ID, deleted or not. Returns nil if not found.
func (s *SQLiteStore) GetFact(ctx context.Context, id int64) (*Fact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, contact_id, fact_type, value, structured_value, source, confidence, has_conflict, superseded_by, deleted_at, created_at, updated_at
		 FROM facts WHERE id = ?`, id,
	)
	f, err := scanFact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting fact %d: %w", id, err)
	}
	return f, nil
}

// ListFacts returns a contact's facts with optional filtering.
func (s *SQLiteStore) ListFacts(ctx context.Context, contactID int64, opts ListFactOpts) ([]*Fact, error) {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}

	query := `SELECT id, contact_id, fact_type, value, structured_value, source, confidence, has_conflict, superseded_by, deleted_at, created_at, updated_at
	          FROM facts WHERE contact_id = ?`
	args := []interface{}{contactID}

	if !opts.IncludeDeleted {
		query += " AND deleted_at IS NULL"
	}
	if opts.FactType != "" {
		query += " AND fact_type = ?"
		args = append(args, opts.FactType)
	}
	if opts.OnlyConflicted {
		query += " AND has_conflict = 1"
	}

	query += " ORDER BY fact_type, created_at, id LIMIT ?"
	args = append(args, opts.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing facts: %w", err)
	}
	defer rows.Close()

	return collectFacts(rows)
}

// FactsByType returns the live facts of one (contact, fact_type) group,
// oldest first.
func (s *SQLiteStore) FactsByType(ctx context.Context, contactID int64, factType string) ([]*Fact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, contact_id, fact_type, value, structured_value, source, confidence, has_conflict, superseded_by, deleted_at, created_at, updated_at
		 FROM facts
		 WHERE contact_id = ? AND fact_type = ? AND deleted_at IS NULL
		 ORDER BY created_at, id`,
		contactID, factType,
	)
	if err != nil {
		return nil, fmt.Errorf("listing facts by type: %w", err)
	}
	defer rows.Close()

	return collectFacts(rows)
}

// UpdateFactConfidence updates the confidence value for a fact.
func (s *SQLiteStore) UpdateFactConfidence(ctx context.Context, id int64, confidence float64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE facts SET confidence = ?, updated_at = ? WHERE id = ?",
		confidence, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating fact confidence: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("fact %d not found", id)
	}
	return nil
}

// SoftDeleteFact tombstones a fact. Already-deleted facts are left untouched.
func (s *SQLiteStore) SoftDeleteFact(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		"UPDATE facts SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL",
		now, now, id,
	)
	if err != nil {
		return fmt.Errorf("soft-deleting fact: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("fact %d not found or already deleted", id)
	}
	return nil
}

// SupersedeFact tombstones the loser and records which fact replaced it.
func (s *SQLiteStore) SupersedeFact(ctx context.Context, loserID, winnerID int64) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		"UPDATE facts SET deleted_at = ?, superseded_by = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL",
		now, winnerID, now, loserID,
	)
	if err != nil {
		return fmt.Errorf("superseding fact: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("fact %d not found or already deleted", loserID)
	}
	return nil
}

// RefreshConflictState recomputes has_conflict for one (contact, fact_type)
// group: set on every live row iff more than one distinct value survives.
// Values are compared case-insensitively after trimming. Returns whether the
// group ended up conflicted.
func (s *SQLiteStore) RefreshConflictState(ctx context.Context, contactID int64, factType string) (bool, error) {
	var distinct int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT LOWER(TRIM(value)))
		 FROM facts
		 WHERE contact_id = ? AND fact_type = ? AND deleted_at IS NULL`,
		contactID, factType,
	).Scan(&distinct)
	if err != nil {
		return false, fmt.Errorf("counting distinct fact values: %w", err)
	}

	conflicted := distinct > 1
	_, err = s.db.ExecContext(ctx,
		`UPDATE facts SET has_conflict = ?, updated_at = ?
		 WHERE contact_id = ? AND fact_type = ? AND deleted_at IS NULL AND has_conflict != ?`,
		conflicted, time.Now().UTC(), contactID, factType, conflicted,
	)
	if err != nil {
		return false, fmt.Errorf("updating conflict flags: %w", err)
	}
	return conflicted, nil
}

// ConflictGroups returns the conflicted (contact, fact_type) groups with
// their live facts. Pass contactID 0 for all contacts.
func (s *SQLiteStore) ConflictGroups(ctx context.Context, contactID int64) ([]*ConflictGroup, error) {
	query := `SELECT id, contact_id, fact_type, value, structured_value, source, confidence, has_conflict, superseded_by, deleted_at, created_at, updated_at
	          FROM facts WHERE has_conflict = 1 AND deleted_at IS NULL`
	args := []interface{}{}
	if contactID != 0 {
		query += " AND contact_id = ?"
		args = append(args, contactID)
	}
	query += " ORDER BY contact_id, fact_type, created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing conflicted facts: %w", err)
	}
	defer rows.Close()

	facts, err := collectFacts(rows)
	if err != nil {
		return nil, err
	}

	var groups []*ConflictGroup
	var current *ConflictGroup
	for _, f := range facts {
		if current == nil || current.ContactID != f.ContactID || current.FactType != f.FactType {
			current = &ConflictGroup{ContactID: f.ContactID, FactType: f.FactType}
			groups = append(groups, current)
		}
		current.Facts = append(current.Facts, f)
	}
	return groups, nil
}

// ResolveConflict settles a conflicted (contact, fact_type) group. With
// deleteLosers, every live fact except keepFactID is tombstoned (the "keep"
// and "replace" actions). Without it, the flag is cleared on all live rows
// and nothing is deleted (the "merge" action: both values declared true).
func (s *SQLiteStore) ResolveConflict(ctx context.Context, contactID int64, factType string, keepFactID int64, deleteLosers bool) error {
	if !deleteLosers {
		_, err := s.db.ExecContext(ctx,
			`UPDATE facts SET has_conflict = 0, updated_at = ?
			 WHERE contact_id = ? AND fact_type = ? AND deleted_at IS NULL`,
			time.Now().UTC(), contactID, factType,
		)
		if err != nil {
			return fmt.Errorf("clearing conflict flags: %w", err)
		}
		return nil
	}

	keep, err := s.GetFact(ctx, keepFactID)
	if err != nil {
		return err
	}
	if keep == nil || keep.DeletedAt != nil {
		return fmt.Errorf("fact %d not found or already deleted", keepFactID)
	}
	if keep.ContactID != contactID || keep.FactType != factType {
		return fmt.Errorf("fact %d does not belong to contact %d type %q", keepFactID, contactID, factType)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`UPDATE facts SET deleted_at = ?, updated_at = ?
		 WHERE contact_id = ? AND fact_type = ? AND deleted_at IS NULL AND id != ?`,
		now, now, contactID, factType, keepFactID,
	)
	if err != nil {
		return fmt.Errorf("deleting conflict losers: %w", err)
	}

	if _, err := s.RefreshConflictState(ctx, contactID, factType); err != nil {
		return err
	}
	return nil
}

func scanFact(row rowScanner) (*Fact, error) {
	f := &Fact{}
	err := row.Scan(&f.ID, &f.ContactID, &f.FactType, &f.Value, &f.StructuredValue,
		&f.Source, &f.Confidence, &f.HasConflict, &f.SupersededBy,
		&f.DeletedAt, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func collectFacts(rows *sql.Rows) ([]*Fact, error) {
	var facts []*Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning fact row: %w", err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}
