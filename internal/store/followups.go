package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// AddFollowup inserts a followup reminder. Duplicate-reason and cutoff
// suppression happen upstream in the followup gate; this is plain persistence.
func (s *SQLiteStore) AddFollowup(ctx context.Context, f *Followup) (int64, error) {
	if f.ContactID == 0 {
		return 0, fmt.Errorf("followup requires a contact id")
	}
	if strings.TrimSpace(f.Reason) == "" {
		return 0, fmt.Errorf("followup reason cannot be empty")
	}
	if f.Type == "" {
		f.Type = FollowupManual
	}
	if f.DueDate.IsZero() {
		return 0, fmt.Errorf("followup requires a due date")
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO followups (contact_id, type, reason, due_date, source_communication_id, completed, created_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?)`,
		f.ContactID, f.Type, f.Reason, f.DueDate.UTC(), f.SourceCommunicationID, now,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting followup: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting last insert id: %w", err)
	}

	f.ID = id
	f.CreatedAt = now
	return id, nil
}

// GetFollowup retrieves a followup by ID. Returns nil if not found.
func (s *SQLiteStore) GetFollowup(ctx context.Context, id int64) (*Followup, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, contact_id, type, reason, due_date, source_communication_id, completed, completed_at, created_at
		 FROM followups WHERE id = ?`, id,
	)
	f, err := scanFollowup(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting followup %d: %w", id, err)
	}
	return f, nil
}

// OpenFollowupByReason finds a contact's non-completed followup with the
// exact same reason text, the idempotency key for followup creation.
// Returns nil if none exists.
func (s *SQLiteStore) OpenFollowupByReason(ctx context.Context, contactID int64, reason string) (*Followup, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, contact_id, type, reason, due_date, source_communication_id, completed, completed_at, created_at
		 FROM followups
		 WHERE contact_id = ? AND reason = ? AND completed = 0
		 ORDER BY id LIMIT 1`,
		contactID, reason,
	)
	f, err := scanFollowup(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding open followup by reason: %w", err)
	}
	return f, nil
}

// ListFollowups returns followups filtered by the options, soonest due first.
func (s *SQLiteStore) ListFollowups(ctx context.Context, opts ListFollowupOpts) ([]*Followup, error) {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}

	query := `SELECT id, contact_id, type, reason, due_date, source_communication_id, completed, completed_at, created_at
	          FROM followups WHERE 1=1`
	args := []interface{}{}

	if opts.ContactID != 0 {
		query += " AND contact_id = ?"
		args = append(args, opts.ContactID)
	}
	if !opts.IncludeCompleted {
		query += " AND completed = 0"
	}
	if opts.DueBefore != nil {
		query += " AND due_date <= ?"
		args = append(args, opts.DueBefore.UTC())
	}

	query += " ORDER BY due_date, id LIMIT ?"
	args = append(args, opts.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing followups: %w", err)
	}
	defer rows.Close()

	var followups []*Followup
	for rows.Next() {
		f, err := scanFollowup(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning followup row: %w", err)
		}
		followups = append(followups, f)
	}
	return followups, rows.Err()
}

// CompleteFollowup marks a followup done. Completing twice is an error.
func (s *SQLiteStore) CompleteFollowup(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE followups SET completed = 1, completed_at = ? WHERE id = ? AND completed = 0",
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("completing followup: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("followup %d not found or already completed", id)
	}
	return nil
}

func scanFollowup(row rowScanner) (*Followup, error) {
	f := &Followup{}
	err := row.Scan(&f.ID, &f.ContactID, &f.Type, &f.Reason, &f.DueDate,
		&f.SourceCommunicationID, &f.Completed, &f.CompletedAt, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	return f, nil
}
