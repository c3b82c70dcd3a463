package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// migrate creates all tables if they don't exist and applies schema evolution.
func (s *SQLiteStore) migrate() error {
	bootstrapDone, err := s.isMetaFlagEnabled("schema_bootstrap_complete")
	if err != nil {
		return fmt.Errorf("checking bootstrap state: %w", err)
	}

	if !bootstrapDone {
		if err := s.runBootstrapDDL(); err != nil {
			return err
		}
		if err := s.setMetaFlag("schema_bootstrap_complete"); err != nil {
			return fmt.Errorf("marking bootstrap complete: %w", err)
		}
	}

	// Schema evolution: superseded_by tombstone provenance on facts.
	// ALTER TABLE can't live inside CREATE TABLE IF NOT EXISTS; checked
	// against pragma_table_info to stay idempotent.
	if err := s.migrateFactSupersededColumn(); err != nil {
		return fmt.Errorf("migrating superseded_by column: %w", err)
	}

	// Schema evolution: external_id on communications for idempotent ingest.
	if err := s.migrateCommunicationExternalID(); err != nil {
		return fmt.Errorf("migrating external_id column: %w", err)
	}

	return nil
}

func (s *SQLiteStore) runBootstrapDDL() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS contacts (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			display_name TEXT NOT NULL,
			created_at   DATETIME NOT NULL,
			updated_at   DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS communications (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			contact_id   INTEGER NOT NULL REFERENCES contacts(id) ON DELETE CASCADE,
			content      TEXT NOT NULL,
			source       TEXT NOT NULL DEFAULT 'message',
			direction    TEXT NOT NULL CHECK(direction IN ('inbound','outbound')),
			subject      TEXT NOT NULL DEFAULT '',
			occurred_at  DATETIME NOT NULL,
			processed_at DATETIME,
			created_at   DATETIME NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_communications_contact ON communications(contact_id, processed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_communications_occurred ON communications(contact_id, occurred_at)`,

		`CREATE TABLE IF NOT EXISTS facts (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			contact_id       INTEGER NOT NULL REFERENCES contacts(id) ON DELETE CASCADE,
			fact_type        TEXT NOT NULL,
			value            TEXT NOT NULL,
			structured_value TEXT NOT NULL DEFAULT '',
			source           TEXT NOT NULL CHECK(source IN ('manual','extracted')),
			confidence       REAL NOT NULL DEFAULT 1.0,
			has_conflict     INTEGER NOT NULL DEFAULT 0,
			deleted_at       DATETIME,
			created_at       DATETIME NOT NULL,
			updated_at       DATETIME NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_facts_contact_type ON facts(contact_id, fact_type)`,

		`CREATE TABLE IF NOT EXISTS fact_embeddings (
			fact_id    INTEGER PRIMARY KEY REFERENCES facts(id) ON DELETE CASCADE,
			vector     BLOB NOT NULL,
			dimensions INTEGER NOT NULL,
			model      TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS relationships (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			contact_id        INTEGER NOT NULL REFERENCES contacts(id) ON DELETE CASCADE,
			label             TEXT NOT NULL,
			person_name       TEXT NOT NULL,
			linked_contact_id INTEGER REFERENCES contacts(id),
			source            TEXT NOT NULL CHECK(source IN ('manual','extracted')),
			confidence        REAL,
			deleted_at        DATETIME,
			created_at        DATETIME NOT NULL,
			updated_at        DATETIME NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_relationships_contact ON relationships(contact_id)`,
		`CREATE INDEX IF NOT EXISTS idx_relationships_linked ON relationships(linked_contact_id)`,

		`CREATE TABLE IF NOT EXISTS followups (
			id                      INTEGER PRIMARY KEY AUTOINCREMENT,
			contact_id              INTEGER NOT NULL REFERENCES contacts(id) ON DELETE CASCADE,
			type                    TEXT NOT NULL CHECK(type IN ('content_detected','time_based','manual')),
			reason                  TEXT NOT NULL,
			due_date                DATETIME NOT NULL,
			source_communication_id INTEGER REFERENCES communications(id),
			completed               INTEGER NOT NULL DEFAULT 0,
			completed_at            DATETIME,
			created_at              DATETIME NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_followups_contact ON followups(contact_id, completed)`,

		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT
		)`,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning migration transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("executing migration %q: %w", truncate(stmt, 80), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration: %w", err)
	}

	return nil
}

func (s *SQLiteStore) isMetaFlagEnabled(key string) (bool, error) {
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='meta'`).Scan(&exists); err != nil {
		return false, err
	}
	if exists == 0 {
		return false, nil
	}

	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return value == "true", nil
}

func (s *SQLiteStore) setMetaFlag(key string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES (?, 'true')", key)
	return err
}

func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate column name")
}

// migrateFactSupersededColumn adds superseded_by to facts for tombstone provenance.
func (s *SQLiteStore) migrateFactSupersededColumn() error {
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM pragma_table_info('facts') WHERE name='superseded_by'",
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking for superseded_by column: %w", err)
	}
	if count > 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning superseded_by migration: %w", err)
	}
	defer tx.Rollback()

	stmts := []string{
		`ALTER TABLE facts ADD COLUMN superseded_by INTEGER REFERENCES facts(id)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_superseded_by ON facts(superseded_by)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			if isDuplicateColumnError(err) {
				continue
			}
			return fmt.Errorf("executing %q: %w", truncate(stmt, 60), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing superseded_by migration: %w", err)
	}
	return nil
}

// migrateCommunicationExternalID adds external_id to communications so that
// re-importing the same export file is a no-op.
func (s *SQLiteStore) migrateCommunicationExternalID() error {
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM pragma_table_info('communications') WHERE name='external_id'",
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking for external_id column: %w", err)
	}
	if count > 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning external_id migration: %w", err)
	}
	defer tx.Rollback()

	stmts := []string{
		`ALTER TABLE communications ADD COLUMN external_id TEXT NOT NULL DEFAULT ''`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_communications_external_id
			ON communications(external_id) WHERE external_id != ''`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			if isDuplicateColumnError(err) {
				continue
			}
			return fmt.Errorf("executing %q: %w", truncate(stmt, 60), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing external_id migration: %w", err)
	}
	return nil
}

// truncate shortens a string for error messages.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
