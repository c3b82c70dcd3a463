// Package observe reports what the database holds and how current it is.
//
// Stats answers the question "what does dunbar actually know": contact,
// communication, fact, relationship, and followup counts, the unprocessed
// backlog, the fact type mix, and how recent the captured conversations
// are. Alerts flag backlog and storage conditions worth acting on before
// they bite.
package observe

import (
	"context"
	"fmt"

	"github.com/dunbarhq/dunbar/internal/store"
)

// Stats holds aggregate database statistics.
type Stats struct {
	Contacts        int            `json:"contacts"`
	Communications  int            `json:"communications"`
	Unprocessed     int            `json:"unprocessed"`
	LiveFacts       int            `json:"live_facts"`
	ConflictedFacts int            `json:"conflicted_facts"`
	SupersededFacts int            `json:"superseded_facts"`
	FactsByType     map[string]int `json:"facts_by_type"`
	Embeddings      int            `json:"embeddings"`
	Relationships   int            `json:"relationships"`
	OpenFollowups   int            `json:"open_followups"`
	DoneFollowups   int            `json:"completed_followups"`
	StorageBytes    int64          `json:"storage_bytes"`
	Freshness       Freshness      `json:"freshness"`
	Alerts          []string       `json:"alerts,omitempty"`
}

// Freshness buckets communications by when they occurred.
type Freshness struct {
	Today     int `json:"today"`
	ThisWeek  int `json:"this_week"`
	ThisMonth int `json:"this_month"`
	Older     int `json:"older"`
}

// VacuumReport records the storage effect of a vacuum pass.
type VacuumReport struct {
	BeforeBytes    int64 `json:"before_bytes"`
	AfterBytes     int64 `json:"after_bytes"`
	ReclaimedBytes int64 `json:"reclaimed_bytes"`
}

// Engine provides database observability and maintenance.
type Engine struct {
	store  store.Store
	dbPath string
}

// NewEngine creates an observability engine. dbPath distinguishes file-backed
// databases from ":memory:" for size reporting.
func NewEngine(s store.Store, dbPath string) *Engine {
	return &Engine{
		store:  s,
		dbPath: dbPath,
	}
}

// GetStats returns aggregate statistics for the whole database.
func (e *Engine) GetStats(ctx context.Context) (*Stats, error) {
	sq, ok := e.store.(*store.SQLiteStore)
	if !ok {
		return nil, fmt.Errorf("stats require the sqlite store")
	}

	stats := &Stats{FactsByType: make(map[string]int)}

	counts := []struct {
		dst   *int
		query string
	}{
		{&stats.Contacts, `SELECT COUNT(*) FROM contacts`},
		{&stats.Communications, `SELECT COUNT(*) FROM communications`},
		{&stats.Unprocessed, `SELECT COUNT(*) FROM communications WHERE processed_at IS NULL`},
		{&stats.LiveFacts, `SELECT COUNT(*) FROM facts WHERE deleted_at IS NULL AND superseded_by IS NULL`},
		{&stats.ConflictedFacts, `SELECT COUNT(*) FROM facts WHERE deleted_at IS NULL AND superseded_by IS NULL AND has_conflict = 1`},
		{&stats.SupersededFacts, `SELECT COUNT(*) FROM facts WHERE deleted_at IS NULL AND superseded_by IS NOT NULL`},
		{&stats.Embeddings, `SELECT COUNT(*) FROM fact_embeddings`},
		{&stats.Relationships, `SELECT COUNT(*) FROM relationships WHERE deleted_at IS NULL`},
		{&stats.OpenFollowups, `SELECT COUNT(*) FROM followups WHERE completed = 0`},
		{&stats.DoneFollowups, `SELECT COUNT(*) FROM followups WHERE completed = 1`},
	}
	for _, c := range counts {
		if err := sq.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("counting: %w", err)
		}
	}

	byType, err := e.factsByType(ctx, sq)
	if err != nil {
		return nil, fmt.Errorf("grouping facts by type: %w", err)
	}
	stats.FactsByType = byType

	freshness, err := e.freshness(ctx, sq)
	if err != nil {
		return nil, fmt.Errorf("bucketing communication recency: %w", err)
	}
	stats.Freshness = freshness

	stats.StorageBytes = e.storageBytes(ctx, sq)
	stats.Alerts = buildAlerts(stats.StorageBytes, stats.Unprocessed)

	return stats, nil
}

func (e *Engine) factsByType(ctx context.Context, sq *store.SQLiteStore) (map[string]int, error) {
	rows, err := sq.QueryContext(ctx, `
		SELECT fact_type, COUNT(*)
		FROM facts
		WHERE deleted_at IS NULL AND superseded_by IS NULL
		GROUP BY fact_type
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var factType string
		var count int
		if err := rows.Scan(&factType, &count); err != nil {
			return nil, err
		}
		out[factType] = count
	}
	return out, rows.Err()
}

func (e *Engine) freshness(ctx context.Context, sq *store.SQLiteStore) (Freshness, error) {
	rows, err := sq.QueryContext(ctx, `
		SELECT
			CASE
				WHEN occurred_at >= datetime('now', 'start of day') THEN 'today'
				WHEN occurred_at >= datetime('now', '-7 day') THEN 'this_week'
				WHEN occurred_at >= datetime('now', '-30 day') THEN 'this_month'
				ELSE 'older'
			END AS bucket,
			COUNT(*)
		FROM communications
		GROUP BY bucket
	`)
	if err != nil {
		return Freshness{}, err
	}
	defer rows.Close()

	var f Freshness
	for rows.Next() {
		var bucket string
		var count int
		if err := rows.Scan(&bucket, &count); err != nil {
			return Freshness{}, err
		}
		switch bucket {
		case "today":
			f.Today = count
		case "this_week":
			f.ThisWeek = count
		case "this_month":
			f.ThisMonth = count
		case "older":
			f.Older = count
		}
	}
	return f, rows.Err()
}

// storageBytes reports the logical database size. Only meaningful for
// file-based databases.
func (e *Engine) storageBytes(ctx context.Context, sq *store.SQLiteStore) int64 {
	if e.dbPath == ":memory:" {
		return 0
	}
	var pageCount, pageSize int64
	sq.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	sq.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
	return pageCount * pageSize
}

func buildAlerts(storageBytes int64, unprocessed int) []string {
	alerts := make([]string, 0)

	const (
		warnStorageBytes = int64(512 * 1024 * 1024)
		noteStorageBytes = int64(128 * 1024 * 1024)
	)

	switch {
	case storageBytes >= warnStorageBytes:
		alerts = append(alerts, "db_size_high: storage is above 512MB; run `dunbar db vacuum`")
	case storageBytes >= noteStorageBytes:
		alerts = append(alerts, "db_size_notice: storage is above 128MB; monitor growth")
	}

	if unprocessed >= 500 {
		alerts = append(alerts, "ingest_backlog: over 500 unprocessed communications; run `dunbar run` or check provider credentials")
	}

	return alerts
}

// Vacuum compacts the database and reports the space effect. Sizes are zero
// for in-memory databases.
func (e *Engine) Vacuum(ctx context.Context) (*VacuumReport, error) {
	sq, ok := e.store.(*store.SQLiteStore)
	if !ok {
		return nil, fmt.Errorf("vacuum reporting requires the sqlite store")
	}

	report := &VacuumReport{BeforeBytes: e.storageBytes(ctx, sq)}

	if err := e.store.Vacuum(ctx); err != nil {
		return nil, fmt.Errorf("vacuuming: %w", err)
	}

	report.AfterBytes = e.storageBytes(ctx, sq)
	if report.BeforeBytes > report.AfterBytes {
		report.ReclaimedBytes = report.BeforeBytes - report.AfterBytes
	}
	return report, nil
}
