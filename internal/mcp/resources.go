package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dunbarhq/dunbar/internal/observe"
	"github.com/dunbarhq/dunbar/internal/store"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func registerStatusResource(s *server.MCPServer, st store.Store) {
	resource := mcp.NewResource(
		"dunbar://status",
		"Dunbar Status",
		mcp.WithResourceDescription("Pending workload, open followups, and conflicted fact groups at a glance."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		workloads, err := st.ContactsWithUnprocessed(ctx, store.DefaultMinMessageLength)
		if err != nil {
			return nil, fmt.Errorf("querying pending workload: %w", err)
		}
		pendingTotal := 0
		for _, w := range workloads {
			pendingTotal += w.UnprocessedCount
		}

		followups, err := st.ListFollowups(ctx, store.ListFollowupOpts{})
		if err != nil {
			return nil, fmt.Errorf("querying open followups: %w", err)
		}

		groups, err := st.ConflictGroups(ctx, 0)
		if err != nil {
			return nil, fmt.Errorf("querying conflicts: %w", err)
		}

		payload := map[string]interface{}{
			"pending_contacts":       len(workloads),
			"pending_communications": pendingTotal,
			"open_followups":         len(followups),
			"conflict_groups":        len(groups),
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}

func registerStatsResource(s *server.MCPServer, engine *observe.Engine) {
	resource := mcp.NewResource(
		"dunbar://stats",
		"Database Statistics",
		mcp.WithResourceDescription("Aggregate database statistics including counts, fact type mix, storage, and communication freshness."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		stats, err := engine.GetStats(ctx)
		if err != nil {
			return nil, fmt.Errorf("getting stats: %w", err)
		}

		data, _ := json.MarshalIndent(stats, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}
