package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// AddContact inserts a new contact record.
func (s *SQLiteStore) AddContact(ctx context.Context, displayName string) (*Contact, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, fmt.Errorf("contact display name cannot be empty")
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts (display_name, created_at, updated_at) VALUES (?, ?, ?)`,
		displayName, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting contact: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting last insert id: %w", err)
	}

	return &Contact{ID: id, DisplayName: displayName, CreatedAt: now, UpdatedAt: now}, nil
}

// GetContact retrieves a contact by ID. Returns nil if not found.
func (s *SQLiteStore) GetContact(ctx context.Context, id int64) (*Contact, error) {
	c := &Contact{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, created_at, updated_at FROM contacts WHERE id = ?`, id,
	).Scan(&c.ID, &c.DisplayName, &c.CreatedAt, &c.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting contact %d: %w", id, err)
	}
	return c, nil
}

// FindContactsByName returns contacts whose display name matches
// case-insensitively. Callers that need an unambiguous match must check
// the result length themselves.
func (s *SQLiteStore) FindContactsByName(ctx context.Context, displayName string) ([]*Contact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, display_name, created_at, updated_at
		 FROM contacts WHERE display_name = ? COLLATE NOCASE
		 ORDER BY id`,
		strings.TrimSpace(displayName),
	)
	if err != nil {
		return nil, fmt.Errorf("finding contacts by name: %w", err)
	}
	defer rows.Close()

	var contacts []*Contact
	for rows.Next() {
		c := &Contact{}
		if err := rows.Scan(&c.ID, &c.DisplayName, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning contact row: %w", err)
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// ListContacts returns all contacts ordered by display name.
func (s *SQLiteStore) ListContacts(ctx context.Context) ([]*Contact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, display_name, created_at, updated_at
		 FROM contacts ORDER BY display_name COLLATE NOCASE, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*Contact
	for rows.Next() {
		c := &Contact{}
		if err := rows.Scan(&c.ID, &c.DisplayName, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning contact row: %w", err)
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}
