package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// AddCommunication inserts one ingested communication.
func (s *SQLiteStore) AddCommunication(ctx context.Context, c *Communication) (int64, error) {
	if c.ContactID == 0 {
		return 0, fmt.Errorf("communication requires a contact id")
	}
	if strings.TrimSpace(c.Content) == "" {
		return 0, fmt.Errorf("communication content cannot be empty")
	}
	if c.Direction == "" {
		c.Direction = DirectionInbound
	}
	if c.Source == "" {
		c.Source = "message"
	}
	if c.OccurredAt.IsZero() {
		c.OccurredAt = time.Now().UTC()
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO communications (external_id, contact_id, content, source, direction, subject, occurred_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ExternalID, c.ContactID, c.Content, c.Source, c.Direction, c.Subject,
		c.OccurredAt.UTC(), now,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting communication: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting last insert id: %w", err)
	}

	c.ID = id
	c.CreatedAt = now
	return id, nil
}

// GetCommunicationByExternalID looks up a communication by its stable import
// id. Returns nil if not found.
func (s *SQLiteStore) GetCommunicationByExternalID(ctx context.Context, externalID string) (*Communication, error) {
	if externalID == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, external_id, contact_id, content, source, direction, subject, occurred_at, processed_at, created_at
		 FROM communications WHERE external_id = ?`, externalID,
	)
	c, err := scanCommunication(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting communication by external id: %w", err)
	}
	return c, nil
}

// ContactsWithUnprocessed returns contacts that have at least one unprocessed
// communication at or above the length threshold, with counts, in contact id
// order. Short messages are invisible to the pipeline entirely.
func (s *SQLiteStore) ContactsWithUnprocessed(ctx context.Context, minLength int) ([]*ContactWorkload, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.display_name, COUNT(m.id)
		 FROM contacts c
		 JOIN communications m ON m.contact_id = c.id
		 WHERE m.processed_at IS NULL AND LENGTH(m.content) >= ?
		 GROUP BY c.id, c.display_name
		 ORDER BY c.id`,
		minLength,
	)
	if err != nil {
		return nil, fmt.Errorf("listing contacts with unprocessed communications: %w", err)
	}
	defer rows.Close()

	var workloads []*ContactWorkload
	for rows.Next() {
		w := &ContactWorkload{}
		if err := rows.Scan(&w.ContactID, &w.DisplayName, &w.UnprocessedCount); err != nil {
			return nil, fmt.Errorf("scanning workload row: %w", err)
		}
		workloads = append(workloads, w)
	}
	return workloads, rows.Err()
}

// UnprocessedCommunications returns a contact's unprocessed communications at
// or above the length threshold, oldest first.
func (s *SQLiteStore) UnprocessedCommunications(ctx context.Context, contactID int64, minLength int) ([]*Communication, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, external_id, contact_id, content, source, direction, subject, occurred_at, processed_at, created_at
		 FROM communications
		 WHERE contact_id = ? AND processed_at IS NULL AND LENGTH(content) >= ?
		 ORDER BY occurred_at, id`,
		contactID, minLength,
	)
	if err != nil {
		return nil, fmt.Errorf("listing unprocessed communications: %w", err)
	}
	defer rows.Close()

	return collectCommunications(rows)
}

// RecentProcessedCommunications returns the most recent already-processed
// communications for a contact, reordered oldest first so they read as
// chronological context.
func (s *SQLiteStore) RecentProcessedCommunications(ctx context.Context, contactID int64, limit int) ([]*Communication, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, external_id, contact_id, content, source, direction, subject, occurred_at, processed_at, created_at
		 FROM communications
		 WHERE contact_id = ? AND processed_at IS NOT NULL
		 ORDER BY occurred_at DESC, id DESC
		 LIMIT ?`,
		contactID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing processed communications: %w", err)
	}
	defer rows.Close()

	comms, err := collectCommunications(rows)
	if err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(comms)-1; i < j; i, j = i+1, j-1 {
		comms[i], comms[j] = comms[j], comms[i]
	}
	return comms, nil
}

// MarkCommunicationsProcessed stamps processed_at on the given ids in one
// update. A no-op on an empty id list.
func (s *SQLiteStore) MarkCommunicationsProcessed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	now := time.Now().UTC()
	placeholders := make([]string, len(ids))
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, now)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}

	query := fmt.Sprintf(
		"UPDATE communications SET processed_at = ? WHERE id IN (%s)",
		strings.Join(placeholders, ","),
	)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("marking communications processed: %w", err)
	}
	return nil
}

// LastCommunicationAt returns when the contact was last heard from or written
// to, nil if never.
func (s *SQLiteStore) LastCommunicationAt(ctx context.Context, contactID int64) (*time.Time, error) {
	var at time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT occurred_at FROM communications
		 WHERE contact_id = ?
		 ORDER BY occurred_at DESC, id DESC
		 LIMIT 1`,
		contactID,
	).Scan(&at)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting last communication time: %w", err)
	}
	return &at, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCommunication(row rowScanner) (*Communication, error) {
	c := &Communication{}
	err := row.Scan(&c.ID, &c.ExternalID, &c.ContactID, &c.Content, &c.Source,
		&c.Direction, &c.Subject, &c.OccurredAt, &c.ProcessedAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func collectCommunications(rows *sql.Rows) ([]*Communication, error) {
	var comms []*Communication
	for rows.Next() {
		c, err := scanCommunication(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning communication row: %w", err)
		}
		comms = append(comms, c)
	}
	return comms, rows.Err()
}
