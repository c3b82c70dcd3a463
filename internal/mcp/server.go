// Package mcp provides a Model Context Protocol server for Dunbar.
//
// It exposes the CRM over MCP tools (run the pipeline, inspect pending
// workload, facts, followups, conflicts, resolve conflicts, stats) plus
// status and stats resources, over stdio transport for Claude Desktop,
// Cursor, and similar clients.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dunbarhq/dunbar/internal/observe"
	"github.com/dunbarhq/dunbar/internal/pipeline"
	"github.com/dunbarhq/dunbar/internal/store"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// PipelineRunner runs one extraction pass and reports what happened. The
// concrete pipeline serializes itself, so concurrent tool calls are safe.
type PipelineRunner interface {
	Run(ctx context.Context) *pipeline.RunSummary
}

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Store   store.Store
	DBPath  string
	Runner  PipelineRunner // optional; crm_run_pipeline is registered only when set
	Version string
}

// dbMu serializes MCP tool calls that touch the database. The mcp-go
// library dispatches handlers concurrently via goroutines, and SQLite
// supports only one writer at a time.
var dbMu sync.Mutex

// NewServer creates a configured MCP server with all Dunbar tools and
// resources.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}

	s := server.NewMCPServer(
		"Dunbar",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = store.DefaultDBPath
	}
	observeEngine := observe.NewEngine(cfg.Store, dbPath)

	if cfg.Runner != nil {
		registerRunPipelineTool(s, cfg.Runner)
	}
	registerPendingTool(s, cfg.Store)
	registerContactFactsTool(s, cfg.Store)
	registerOpenFollowupsTool(s, cfg.Store)
	registerConflictsTool(s, cfg.Store)
	registerResolveConflictTool(s, cfg.Store)
	registerStatsTool(s, observeEngine)

	registerStatusResource(s, cfg.Store)
	registerStatsResource(s, observeEngine)

	return s
}

// Run serves the MCP server on stdio transport, blocking until the client
// disconnects.
func Run(cfg ServerConfig) error {
	return server.ServeStdio(NewServer(cfg))
}

// Response shapes. Store types carry no JSON tags, so tools map rows into
// these before marshaling.

type pendingContact struct {
	ContactID   int64  `json:"contact_id"`
	Contact     string `json:"contact"`
	Unprocessed int    `json:"unprocessed"`
}

type factItem struct {
	ID          int64   `json:"id"`
	FactType    string  `json:"fact_type"`
	Value       string  `json:"value"`
	Source      string  `json:"source"`
	Confidence  float64 `json:"confidence"`
	HasConflict bool    `json:"has_conflict"`
	CreatedAt   string  `json:"created_at"`
}

type followupItem struct {
	ID        int64  `json:"id"`
	ContactID int64  `json:"contact_id"`
	Contact   string `json:"contact,omitempty"`
	Type      string `json:"type"`
	Reason    string `json:"reason"`
	DueDate   string `json:"due_date"`
}

type conflictItem struct {
	ContactID int64      `json:"contact_id"`
	Contact   string     `json:"contact,omitempty"`
	FactType  string     `json:"fact_type"`
	Facts     []factItem `json:"facts"`
}

func toFactItem(f *store.Fact) factItem {
	return factItem{
		ID:          f.ID,
		FactType:    f.FactType,
		Value:       f.Value,
		Source:      f.Source,
		Confidence:  f.Confidence,
		HasConflict: f.HasConflict,
		CreatedAt:   f.CreatedAt.Format(time.RFC3339),
	}
}

// --- Tools ---

func registerRunPipelineTool(s *server.MCPServer, runner PipelineRunner) {
	tool := mcp.NewTool("crm_run_pipeline",
		mcp.WithDescription("Run the extraction pipeline once over every contact with unprocessed communications. Returns the run summary; if a run is already in flight the summary has skipped=true and no work happens."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		// No dbMu here: a run can spend minutes in provider calls and the
		// pipeline already guards itself with a single-flight semaphore.
		summary := runner.Run(ctx)
		data, _ := json.MarshalIndent(summary, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerPendingTool(s *server.MCPServer, st store.Store) {
	tool := mcp.NewTool("crm_pending",
		mcp.WithDescription("List contacts with unprocessed communications waiting for the next pipeline run."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithNumber("min_length",
			mcp.Description(fmt.Sprintf("Minimum message length in characters to count (default: %d)", store.DefaultMinMessageLength)),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		minLength := store.DefaultMinMessageLength
		if v, err := req.RequireFloat("min_length"); err == nil && v > 0 {
			minLength = int(v)
		}

		workloads, err := st.ContactsWithUnprocessed(ctx, minLength)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("listing pending contacts: %v", err)), nil
		}

		pending := make([]pendingContact, 0, len(workloads))
		total := 0
		for _, w := range workloads {
			pending = append(pending, pendingContact{
				ContactID:   w.ContactID,
				Contact:     w.DisplayName,
				Unprocessed: w.UnprocessedCount,
			})
			total += w.UnprocessedCount
		}

		payload := map[string]interface{}{
			"contacts": pending,
			"total":    total,
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerContactFactsTool(s *server.MCPServer, st store.Store) {
	tool := mcp.NewTool("crm_contact_facts",
		mcp.WithDescription("List what Dunbar knows about one contact: live facts with type, value, confidence, and conflict state."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("contact",
			mcp.Required(),
			mcp.Description("Contact display name (must match exactly one contact)"),
		),
		mcp.WithString("fact_type",
			mcp.Description("Restrict to one fact type, e.g. 'job', 'location', 'interest'"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of facts (default: all)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		name, err := req.RequireString("contact")
		if err != nil {
			return mcp.NewToolResultError("contact is required"), nil
		}

		contact, err := contactByName(ctx, st, name)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		opts := store.ListFactOpts{}
		if ft, err := req.RequireString("fact_type"); err == nil && ft != "" {
			opts.FactType = ft
		}
		if v, err := req.RequireFloat("limit"); err == nil && v > 0 {
			opts.Limit = int(v)
		}

		facts, err := st.ListFacts(ctx, contact.ID, opts)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("listing facts: %v", err)), nil
		}

		items := make([]factItem, 0, len(facts))
		for _, f := range facts {
			items = append(items, toFactItem(f))
		}

		payload := map[string]interface{}{
			"contact_id": contact.ID,
			"contact":    contact.DisplayName,
			"facts":      items,
			"count":      len(items),
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerOpenFollowupsTool(s *server.MCPServer, st store.Store) {
	tool := mcp.NewTool("crm_open_followups",
		mcp.WithDescription("List open followups, optionally for one contact or due before a date."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("contact",
			mcp.Description("Contact display name; empty = all contacts"),
		),
		mcp.WithString("due_before",
			mcp.Description("Only followups due before this date (YYYY-MM-DD)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		opts := store.ListFollowupOpts{}

		if name, err := req.RequireString("contact"); err == nil && name != "" {
			contact, err := contactByName(ctx, st, name)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			opts.ContactID = contact.ID
		}

		if raw, err := req.RequireString("due_before"); err == nil && raw != "" {
			due, err := time.Parse("2006-01-02", raw)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid due_before %q, want YYYY-MM-DD", raw)), nil
			}
			opts.DueBefore = &due
		}

		followups, err := st.ListFollowups(ctx, opts)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("listing followups: %v", err)), nil
		}

		names, err := contactNames(ctx, st)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		items := make([]followupItem, 0, len(followups))
		for _, f := range followups {
			items = append(items, followupItem{
				ID:        f.ID,
				ContactID: f.ContactID,
				Contact:   names[f.ContactID],
				Type:      f.Type,
				Reason:    f.Reason,
				DueDate:   f.DueDate.Format("2006-01-02"),
			})
		}

		payload := map[string]interface{}{
			"followups": items,
			"count":     len(items),
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerConflictsTool(s *server.MCPServer, st store.Store) {
	tool := mcp.NewTool("crm_conflicts",
		mcp.WithDescription("List conflicted fact groups: contacts where multiple live values of the same fact type disagree."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("contact",
			mcp.Description("Contact display name; empty = all contacts"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		var contactID int64
		if name, err := req.RequireString("contact"); err == nil && name != "" {
			contact, err := contactByName(ctx, st, name)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			contactID = contact.ID
		}

		groups, err := st.ConflictGroups(ctx, contactID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("listing conflicts: %v", err)), nil
		}

		names, err := contactNames(ctx, st)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		items := make([]conflictItem, 0, len(groups))
		for _, g := range groups {
			item := conflictItem{
				ContactID: g.ContactID,
				Contact:   names[g.ContactID],
				FactType:  g.FactType,
			}
			for _, f := range g.Facts {
				item.Facts = append(item.Facts, toFactItem(f))
			}
			items = append(items, item)
		}

		payload := map[string]interface{}{
			"conflicts": items,
			"count":     len(items),
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerResolveConflictTool(s *server.MCPServer, st store.Store) {
	tool := mcp.NewTool("crm_resolve_conflict",
		mcp.WithDescription("Resolve a conflicted fact group: either keep one fact and soft-delete the rest (keep_fact_id), or accept every value as true and just clear the conflict flags (merge)."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithString("contact",
			mcp.Required(),
			mcp.Description("Contact display name (must match exactly one contact)"),
		),
		mcp.WithString("fact_type",
			mcp.Required(),
			mcp.Description("The conflicted fact type, e.g. 'job', 'location'"),
		),
		mcp.WithNumber("keep_fact_id",
			mcp.Description("ID of the fact to keep; every other live fact of the type is soft-deleted"),
		),
		mcp.WithBoolean("merge",
			mcp.Description("Keep all values and clear the conflict flags; nothing is deleted"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		name, err := req.RequireString("contact")
		if err != nil {
			return mcp.NewToolResultError("contact is required"), nil
		}
		factType, err := req.RequireString("fact_type")
		if err != nil {
			return mcp.NewToolResultError("fact_type is required"), nil
		}

		var keepID int64
		if v, err := req.RequireFloat("keep_fact_id"); err == nil && v > 0 {
			keepID = int64(v)
		}
		merge := false
		if m, err := req.RequireString("merge"); err == nil && m == "true" {
			merge = true
		}
		if (keepID != 0) == merge {
			return mcp.NewToolResultError("pass exactly one of keep_fact_id or merge"), nil
		}

		contact, err := contactByName(ctx, st, name)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		if err := st.ResolveConflict(ctx, contact.ID, factType, keepID, !merge); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("resolving conflict: %v", err)), nil
		}

		payload := map[string]interface{}{
			"contact_id": contact.ID,
			"contact":    contact.DisplayName,
			"fact_type":  factType,
			"resolved":   true,
			"action":     "merge",
		}
		if !merge {
			payload["action"] = "keep"
			payload["kept_fact_id"] = keepID
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerStatsTool(s *server.MCPServer, engine *observe.Engine) {
	tool := mcp.NewTool("crm_stats",
		mcp.WithDescription("Get aggregate Dunbar statistics: contact, communication, fact, relationship, and followup counts, the fact type mix, storage size, and communication freshness."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		stats, err := engine.GetStats(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("stats error: %v", err)), nil
		}

		data, _ := json.MarshalIndent(stats, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

// --- Helpers ---

func contactByName(ctx context.Context, st store.Store, name string) (*store.Contact, error) {
	matches, err := st.FindContactsByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("looking up contact: %w", err)
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no contact named %q", name)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("contact name %q is ambiguous (%d matches)", name, len(matches))
	}
}

func contactNames(ctx context.Context, st store.Store) (map[int64]string, error) {
	contacts, err := st.ListContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing contacts: %w", err)
	}
	names := make(map[int64]string, len(contacts))
	for _, c := range contacts {
		names[c.ID] = c.DisplayName
	}
	return names, nil
}
