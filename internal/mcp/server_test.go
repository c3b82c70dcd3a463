package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/dunbarhq/dunbar/internal/pipeline"
	"github.com/dunbarhq/dunbar/internal/store"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func setupTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewStore(store.StoreConfig{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()

	ada, err := s.AddContact(ctx, "Ada Lovelace")
	if err != nil {
		t.Fatalf("adding contact: %v", err)
	}
	maya, err := s.AddContact(ctx, "Maya Chen")
	if err != nil {
		t.Fatalf("adding contact: %v", err)
	}

	for i, content := range []string{
		"I finally accepted the offer from the analytical engine startup!",
		"We are moving to London at the end of the month, flat is sorted.",
	} {
		_, err := s.AddCommunication(ctx, &store.Communication{
			ContactID:  ada.ID,
			Content:    content,
			OccurredAt: time.Now().UTC().Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("adding communication: %v", err)
		}
	}

	facts := []*store.Fact{
		{ContactID: ada.ID, FactType: "job", Value: "engineer at the analytical engine startup", Source: store.SourceExtracted, Confidence: 0.9},
		{ContactID: ada.ID, FactType: "location", Value: "London", Source: store.SourceExtracted, Confidence: 0.8},
		{ContactID: maya.ID, FactType: "interest", Value: "pottery", Source: store.SourceManual, Confidence: 1.0},
	}
	for _, f := range facts {
		if _, err := s.AddFact(ctx, f); err != nil {
			t.Fatalf("adding fact: %v", err)
		}
	}

	followups := []*store.Followup{
		{ContactID: ada.ID, Type: store.FollowupContentDetected, Reason: "ask how the new flat in London is", DueDate: time.Now().UTC().Add(48 * time.Hour)},
		{ContactID: maya.ID, Type: store.FollowupTimeBased, Reason: "time to reconnect", DueDate: time.Now().UTC().Add(30 * 24 * time.Hour)},
	}
	for _, f := range followups {
		if _, err := s.AddFollowup(ctx, f); err != nil {
			t.Fatalf("adding followup: %v", err)
		}
	}

	return s
}

func callTool(t *testing.T, srv *server.MCPServer, name string, args map[string]interface{}) *mcplib.CallToolResult {
	t.Helper()

	result := srv.HandleMessage(context.Background(), mustMarshal(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]interface{}{
			"name":      name,
			"arguments": args,
		},
	}))

	respBytes, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}

	var resp struct {
		Result struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, string(respBytes))
	}
	if resp.Error != nil {
		t.Fatalf("JSON-RPC error: %d %s", resp.Error.Code, resp.Error.Message)
	}

	callResult := &mcplib.CallToolResult{IsError: resp.Result.IsError}
	for _, c := range resp.Result.Content {
		if c.Type == "text" {
			callResult.Content = append(callResult.Content, mcplib.NewTextContent(c.Text))
		}
	}
	return callResult
}

func mustMarshal(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func getTextContent(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content found")
	return ""
}

type fakeRunner struct {
	calls   int
	summary *pipeline.RunSummary
}

func (f *fakeRunner) Run(ctx context.Context) *pipeline.RunSummary {
	f.calls++
	return f.summary
}

func TestNewServer(t *testing.T) {
	s := setupTestStore(t)
	srv := NewServer(ServerConfig{Store: s, DBPath: ":memory:"})
	if srv == nil {
		t.Fatal("NewServer returned nil")
	}
}

func TestRunPipelineTool(t *testing.T) {
	s := setupTestStore(t)
	runner := &fakeRunner{summary: &pipeline.RunSummary{RunID: "run-1", FactsCreated: 2, ContactsProcessed: 1}}
	srv := NewServer(ServerConfig{Store: s, DBPath: ":memory:", Runner: runner})

	result := callTool(t, srv, "crm_run_pipeline", map[string]interface{}{})
	if result.IsError {
		t.Fatalf("tool returned error: %s", getTextContent(t, result))
	}
	if runner.calls != 1 {
		t.Errorf("runner invoked %d times, want 1", runner.calls)
	}

	var summary map[string]interface{}
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &summary); err != nil {
		t.Fatalf("parsing summary: %v", err)
	}
	if summary["run_id"] != "run-1" || summary["facts_created"] != float64(2) {
		t.Errorf("summary = %v", summary)
	}
}

func TestPendingTool(t *testing.T) {
	s := setupTestStore(t)
	srv := NewServer(ServerConfig{Store: s, DBPath: ":memory:"})

	result := callTool(t, srv, "crm_pending", map[string]interface{}{})
	if result.IsError {
		t.Fatalf("tool returned error: %s", getTextContent(t, result))
	}

	var payload struct {
		Contacts []pendingContact `json:"contacts"`
		Total    int              `json:"total"`
	}
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &payload); err != nil {
		t.Fatalf("parsing payload: %v", err)
	}
	if len(payload.Contacts) != 1 || payload.Total != 2 {
		t.Fatalf("payload = %+v, want Ada with 2 unprocessed", payload)
	}
	if payload.Contacts[0].Contact != "Ada Lovelace" {
		t.Errorf("contact = %q", payload.Contacts[0].Contact)
	}
}

func TestContactFactsTool(t *testing.T) {
	s := setupTestStore(t)
	srv := NewServer(ServerConfig{Store: s, DBPath: ":memory:"})

	result := callTool(t, srv, "crm_contact_facts", map[string]interface{}{
		"contact": "Ada Lovelace",
	})
	if result.IsError {
		t.Fatalf("tool returned error: %s", getTextContent(t, result))
	}

	var payload struct {
		Contact string     `json:"contact"`
		Facts   []factItem `json:"facts"`
		Count   int        `json:"count"`
	}
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &payload); err != nil {
		t.Fatalf("parsing payload: %v", err)
	}
	if payload.Count != 2 {
		t.Fatalf("count = %d, want 2", payload.Count)
	}

	filtered := callTool(t, srv, "crm_contact_facts", map[string]interface{}{
		"contact":   "Ada Lovelace",
		"fact_type": "location",
	})
	var loc struct {
		Facts []factItem `json:"facts"`
	}
	if err := json.Unmarshal([]byte(getTextContent(t, filtered)), &loc); err != nil {
		t.Fatalf("parsing filtered payload: %v", err)
	}
	if len(loc.Facts) != 1 || loc.Facts[0].Value != "London" {
		t.Errorf("filtered facts = %+v", loc.Facts)
	}
}

func TestContactFactsToolUnknownContact(t *testing.T) {
	s := setupTestStore(t)
	srv := NewServer(ServerConfig{Store: s, DBPath: ":memory:"})

	result := callTool(t, srv, "crm_contact_facts", map[string]interface{}{
		"contact": "Nobody Here",
	})
	if !result.IsError {
		t.Fatal("unknown contact did not error")
	}
	if !strings.Contains(getTextContent(t, result), "no contact named") {
		t.Errorf("error text = %q", getTextContent(t, result))
	}
}

func TestContactFactsToolAmbiguousContact(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	if _, err := s.AddContact(ctx, "Ada Lovelace"); err != nil {
		t.Fatal(err)
	}
	srv := NewServer(ServerConfig{Store: s, DBPath: ":memory:"})

	result := callTool(t, srv, "crm_contact_facts", map[string]interface{}{
		"contact": "Ada Lovelace",
	})
	if !result.IsError || !strings.Contains(getTextContent(t, result), "ambiguous") {
		t.Errorf("ambiguous lookup result = %q", getTextContent(t, result))
	}
}

func TestOpenFollowupsTool(t *testing.T) {
	s := setupTestStore(t)
	srv := NewServer(ServerConfig{Store: s, DBPath: ":memory:"})

	result := callTool(t, srv, "crm_open_followups", map[string]interface{}{})
	var payload struct {
		Followups []followupItem `json:"followups"`
		Count     int            `json:"count"`
	}
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &payload); err != nil {
		t.Fatalf("parsing payload: %v", err)
	}
	if payload.Count != 2 {
		t.Fatalf("count = %d, want 2", payload.Count)
	}

	// Ada's followup is due in 2 days; Maya's reconnect is a month out.
	soon := callTool(t, srv, "crm_open_followups", map[string]interface{}{
		"due_before": time.Now().UTC().Add(7 * 24 * time.Hour).Format("2006-01-02"),
	})
	var soonPayload struct {
		Followups []followupItem `json:"followups"`
	}
	if err := json.Unmarshal([]byte(getTextContent(t, soon)), &soonPayload); err != nil {
		t.Fatalf("parsing payload: %v", err)
	}
	if len(soonPayload.Followups) != 1 || soonPayload.Followups[0].Contact != "Ada Lovelace" {
		t.Errorf("due_before filter returned %+v", soonPayload.Followups)
	}

	bad := callTool(t, srv, "crm_open_followups", map[string]interface{}{
		"due_before": "next tuesday",
	})
	if !bad.IsError {
		t.Error("malformed due_before accepted")
	}
}

func callResource(t *testing.T, srv *server.MCPServer, uri string) string {
	t.Helper()

	result := srv.HandleMessage(context.Background(), mustMarshal(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "resources/read",
		"params": map[string]interface{}{
			"uri": uri,
		},
	}))

	respBytes, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}

	var resp struct {
		Result struct {
			Contents []struct {
				Text string `json:"text"`
			} `json:"contents"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, string(respBytes))
	}
	if resp.Error != nil {
		t.Fatalf("JSON-RPC error: %d %s", resp.Error.Code, resp.Error.Message)
	}
	if len(resp.Result.Contents) == 0 {
		t.Fatalf("no resource contents for %s", uri)
	}
	return resp.Result.Contents[0].Text
}

func TestStatsTool(t *testing.T) {
	s := setupTestStore(t)
	srv := NewServer(ServerConfig{Store: s, DBPath: ":memory:"})

	result := callTool(t, srv, "crm_stats", map[string]interface{}{})
	if result.IsError {
		t.Fatalf("tool returned error: %s", getTextContent(t, result))
	}

	var stats struct {
		Contacts      int `json:"contacts"`
		LiveFacts     int `json:"live_facts"`
		Unprocessed   int `json:"unprocessed"`
		OpenFollowups int `json:"open_followups"`
	}
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &stats); err != nil {
		t.Fatalf("parsing stats: %v", err)
	}
	if stats.Contacts != 2 || stats.LiveFacts != 3 {
		t.Errorf("stats = %+v, want 2 contacts and 3 live facts", stats)
	}
	if stats.Unprocessed != 2 || stats.OpenFollowups != 2 {
		t.Errorf("stats = %+v, want 2 unprocessed and 2 open followups", stats)
	}
}

func TestStatusResource(t *testing.T) {
	s := setupTestStore(t)
	srv := NewServer(ServerConfig{Store: s, DBPath: ":memory:"})

	text := callResource(t, srv, "dunbar://status")
	var payload struct {
		PendingContacts       int `json:"pending_contacts"`
		PendingCommunications int `json:"pending_communications"`
		OpenFollowups         int `json:"open_followups"`
		ConflictGroups        int `json:"conflict_groups"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		t.Fatalf("parsing status: %v", err)
	}
	if payload.PendingContacts != 1 || payload.PendingCommunications != 2 {
		t.Errorf("status = %+v, want Ada pending with 2 communications", payload)
	}
	if payload.OpenFollowups != 2 || payload.ConflictGroups != 0 {
		t.Errorf("status = %+v, want 2 open followups and no conflicts", payload)
	}
}

func TestStatsResource(t *testing.T) {
	s := setupTestStore(t)
	srv := NewServer(ServerConfig{Store: s, DBPath: ":memory:"})

	text := callResource(t, srv, "dunbar://stats")
	var stats struct {
		Contacts int `json:"contacts"`
	}
	if err := json.Unmarshal([]byte(text), &stats); err != nil {
		t.Fatalf("parsing stats resource: %v", err)
	}
	if stats.Contacts != 2 {
		t.Errorf("contacts = %d, want 2", stats.Contacts)
	}
}

func TestConflictsTool(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	contacts, err := s.FindContactsByName(ctx, "Ada Lovelace")
	if err != nil || len(contacts) != 1 {
		t.Fatalf("contacts = %v, err = %v", contacts, err)
	}
	adaID := contacts[0].ID

	// A second live location value puts the group in conflict.
	if _, err := s.AddFact(ctx, &store.Fact{
		ContactID: adaID, FactType: "location", Value: "Paris",
		Source: store.SourceExtracted, Confidence: 0.7,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RefreshConflictState(ctx, adaID, "location"); err != nil {
		t.Fatal(err)
	}

	srv := NewServer(ServerConfig{Store: s, DBPath: ":memory:"})
	result := callTool(t, srv, "crm_conflicts", map[string]interface{}{})

	var payload struct {
		Conflicts []conflictItem `json:"conflicts"`
		Count     int            `json:"count"`
	}
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &payload); err != nil {
		t.Fatalf("parsing payload: %v", err)
	}
	if payload.Count != 1 {
		t.Fatalf("count = %d, want 1 conflicted group", payload.Count)
	}
	g := payload.Conflicts[0]
	if g.FactType != "location" || g.Contact != "Ada Lovelace" || len(g.Facts) != 2 {
		t.Errorf("group = %+v", g)
	}
}

func TestResolveConflictTool(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	contacts, err := s.FindContactsByName(ctx, "Ada Lovelace")
	if err != nil || len(contacts) != 1 {
		t.Fatalf("contacts = %v, err = %v", contacts, err)
	}
	adaID := contacts[0].ID

	if _, err := s.AddFact(ctx, &store.Fact{
		ContactID: adaID, FactType: "location", Value: "Paris",
		Source: store.SourceExtracted, Confidence: 0.7,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RefreshConflictState(ctx, adaID, "location"); err != nil {
		t.Fatal(err)
	}

	live, err := s.FactsByType(ctx, adaID, "location")
	if err != nil || len(live) != 2 {
		t.Fatalf("live location facts = %v, err = %v", live, err)
	}
	var londonID int64
	for _, f := range live {
		if f.Value == "London" {
			londonID = f.ID
		}
	}

	srv := NewServer(ServerConfig{Store: s, DBPath: ":memory:"})

	result := callTool(t, srv, "crm_resolve_conflict", map[string]interface{}{
		"contact":      "Ada Lovelace",
		"fact_type":    "location",
		"keep_fact_id": londonID,
	})
	if result.IsError {
		t.Fatalf("tool returned error: %s", getTextContent(t, result))
	}
	var payload struct {
		Action     string `json:"action"`
		KeptFactID int64  `json:"kept_fact_id"`
		Resolved   bool   `json:"resolved"`
	}
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &payload); err != nil {
		t.Fatalf("parsing payload: %v", err)
	}
	if !payload.Resolved || payload.Action != "keep" || payload.KeptFactID != londonID {
		t.Errorf("payload = %+v", payload)
	}

	live, err = s.FactsByType(ctx, adaID, "location")
	if err != nil {
		t.Fatalf("FactsByType: %v", err)
	}
	if len(live) != 1 || live[0].ID != londonID || live[0].HasConflict {
		t.Errorf("after keep, live facts = %+v", live)
	}
}

func TestResolveConflictToolMerge(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	contacts, err := s.FindContactsByName(ctx, "Ada Lovelace")
	if err != nil || len(contacts) != 1 {
		t.Fatalf("contacts = %v, err = %v", contacts, err)
	}
	adaID := contacts[0].ID

	// Two jobs at once is plausible; merge keeps both.
	if _, err := s.AddFact(ctx, &store.Fact{
		ContactID: adaID, FactType: "job", Value: "consulting on the difference engine",
		Source: store.SourceExtracted, Confidence: 0.7,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RefreshConflictState(ctx, adaID, "job"); err != nil {
		t.Fatal(err)
	}

	srv := NewServer(ServerConfig{Store: s, DBPath: ":memory:"})

	result := callTool(t, srv, "crm_resolve_conflict", map[string]interface{}{
		"contact":   "Ada Lovelace",
		"fact_type": "job",
		"merge":     "true",
	})
	if result.IsError {
		t.Fatalf("tool returned error: %s", getTextContent(t, result))
	}

	live, err := s.FactsByType(ctx, adaID, "job")
	if err != nil {
		t.Fatalf("FactsByType: %v", err)
	}
	if len(live) != 2 {
		t.Fatalf("after merge, %d live facts, want 2", len(live))
	}
	for _, f := range live {
		if f.HasConflict {
			t.Errorf("fact %q still flagged after merge", f.Value)
		}
	}

	// Neither or both selectors is a caller mistake, not a store call.
	bad := callTool(t, srv, "crm_resolve_conflict", map[string]interface{}{
		"contact":   "Ada Lovelace",
		"fact_type": "job",
	})
	if !bad.IsError || !strings.Contains(getTextContent(t, bad), "exactly one") {
		t.Errorf("missing selector result = %q", getTextContent(t, bad))
	}
}
