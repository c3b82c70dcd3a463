package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dunbarhq/dunbar/internal/ingest"
	"github.com/dunbarhq/dunbar/internal/observe"
	"github.com/dunbarhq/dunbar/internal/remind"
)

// writeTestConfig writes a config file that keeps the database and log file
// inside a per-test temp directory, so commands never touch the real home.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf("db_path: %s\nlog_file: %s\nlog_level: error\n",
		filepath.Join(dir, "dunbar.db"),
		filepath.Join(dir, "dunbar.log"))
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return cfgPath
}

// runApp runs a dunbar command against the given config and captures stdout.
func runApp(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()

	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	err := newCLIApp().Run(append([]string{"dunbar", "--config", cfgPath}, args...))

	w.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)
	os.Stdout = oldStdout

	return buf.String(), err
}

// TestCLIContactsAddAndList tests the contacts add and list commands.
func TestCLIContactsAddAndList(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := runApp(t, cfg, "contacts", "add", "Ada Lovelace")
	if err != nil {
		t.Fatalf("contacts add failed: %v", err)
	}
	var added contactRow
	if err := json.Unmarshal([]byte(out), &added); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if added.ID == 0 {
		t.Error("expected non-zero contact id")
	}
	if added.Name != "Ada Lovelace" {
		t.Errorf("expected name=Ada Lovelace, got %s", added.Name)
	}

	out, err = runApp(t, cfg, "contacts", "list")
	if err != nil {
		t.Fatalf("contacts list failed: %v", err)
	}
	var rows []contactRow
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 contact, got %d", len(rows))
	}
	if rows[0].ID != added.ID {
		t.Errorf("expected id=%d, got %d", added.ID, rows[0].ID)
	}
}

// TestCLIFactsAddAndList tests recording and filtering manual facts.
func TestCLIFactsAddAndList(t *testing.T) {
	cfg := writeTestConfig(t)

	if _, err := runApp(t, cfg, "contacts", "add", "Maya Chen"); err != nil {
		t.Fatalf("contacts add failed: %v", err)
	}

	out, err := runApp(t, cfg, "facts", "add",
		"--contact", "Maya Chen", "--type", "job", "--value", "Engineer at Acme")
	if err != nil {
		t.Fatalf("facts add failed: %v", err)
	}
	var added factRow
	if err := json.Unmarshal([]byte(out), &added); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if added.Source != "manual" {
		t.Errorf("expected source=manual, got %s", added.Source)
	}
	if added.Confidence != 1.0 {
		t.Errorf("expected confidence=1.0, got %v", added.Confidence)
	}

	if _, err := runApp(t, cfg, "facts", "add",
		"--contact", "Maya Chen", "--type", "location", "--value", "Lisbon"); err != nil {
		t.Fatalf("facts add failed: %v", err)
	}

	t.Run("list all", func(t *testing.T) {
		out, err := runApp(t, cfg, "facts", "list", "--contact", "Maya Chen")
		if err != nil {
			t.Fatalf("facts list failed: %v", err)
		}
		var rows []factRow
		if err := json.Unmarshal([]byte(out), &rows); err != nil {
			t.Fatalf("failed to parse output: %v", err)
		}
		if len(rows) != 2 {
			t.Errorf("expected 2 facts, got %d", len(rows))
		}
	})

	t.Run("filter by type", func(t *testing.T) {
		out, err := runApp(t, cfg, "facts", "list", "--contact", "Maya Chen", "--type", "job")
		if err != nil {
			t.Fatalf("facts list failed: %v", err)
		}
		var rows []factRow
		if err := json.Unmarshal([]byte(out), &rows); err != nil {
			t.Fatalf("failed to parse output: %v", err)
		}
		if len(rows) != 1 {
			t.Fatalf("expected 1 fact, got %d", len(rows))
		}
		if rows[0].Value != "Engineer at Acme" {
			t.Errorf("expected value=Engineer at Acme, got %s", rows[0].Value)
		}
	})
}

// TestCLIConflictResolution tests that two manual facts of the same type
// surface as a conflict and that resolve clears it.
func TestCLIConflictResolution(t *testing.T) {
	cfg := writeTestConfig(t)

	if _, err := runApp(t, cfg, "contacts", "add", "June Park"); err != nil {
		t.Fatalf("contacts add failed: %v", err)
	}

	out, err := runApp(t, cfg, "facts", "add",
		"--contact", "June Park", "--type", "location", "--value", "Berlin")
	if err != nil {
		t.Fatalf("facts add failed: %v", err)
	}
	var keep factRow
	if err := json.Unmarshal([]byte(out), &keep); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}

	if _, err := runApp(t, cfg, "facts", "add",
		"--contact", "June Park", "--type", "location", "--value", "Munich"); err != nil {
		t.Fatalf("facts add failed: %v", err)
	}

	type groupRow struct {
		ContactID int64     `json:"contact_id"`
		FactType  string    `json:"fact_type"`
		Facts     []factRow `json:"facts"`
	}

	out, err = runApp(t, cfg, "conflicts", "list")
	if err != nil {
		t.Fatalf("conflicts list failed: %v", err)
	}
	var groups []groupRow
	if err := json.Unmarshal([]byte(out), &groups); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("expected 1 conflict group, got %d", len(groups))
	}
	if groups[0].FactType != "location" {
		t.Errorf("expected fact_type=location, got %s", groups[0].FactType)
	}
	if len(groups[0].Facts) != 2 {
		t.Errorf("expected 2 facts in group, got %d", len(groups[0].Facts))
	}

	out, err = runApp(t, cfg, "conflicts", "resolve",
		"--contact", "June Park", "--type", "location", "--keep", fmt.Sprint(keep.ID))
	if err != nil {
		t.Fatalf("conflicts resolve failed: %v", err)
	}
	if !strings.Contains(out, `"resolved": true`) {
		t.Errorf("expected resolved=true in output, got %s", out)
	}

	out, err = runApp(t, cfg, "conflicts", "list")
	if err != nil {
		t.Fatalf("conflicts list failed: %v", err)
	}
	groups = nil
	if err := json.Unmarshal([]byte(out), &groups); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("expected no conflict groups after resolve, got %d", len(groups))
	}

	// The loser is superseded, not gone. The winner is the one live survivor.
	out, err = runApp(t, cfg, "facts", "list", "--contact", "June Park", "--type", "location")
	if err != nil {
		t.Fatalf("facts list failed: %v", err)
	}
	var rows []factRow
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	var winners int
	for _, r := range rows {
		if r.SupersededBy == nil {
			winners++
			if r.ID != keep.ID {
				t.Errorf("expected surviving fact id=%d, got %d", keep.ID, r.ID)
			}
		}
	}
	if winners != 1 {
		t.Errorf("expected exactly 1 unsuperseded fact, got %d", winners)
	}
}

// TestCLIIngest tests importing a JSONL export file, including idempotent
// re-import.
func TestCLIIngest(t *testing.T) {
	cfg := writeTestConfig(t)

	exportPath := filepath.Join(t.TempDir(), "export.jsonl")
	lines := `{"external_id":"sms-1","contact":"Sam Reyes","content":"Just got back from the Dolomites, the via ferrata was incredible","occurred_at":"2026-07-10 18:02:00","direction":"inbound","source":"sms"}
{"contact":"Sam Reyes","content":"We should plan that climbing trip for September before it gets cold","occurred_at":"2026-07-11 09:15:00","direction":"outbound","source":"sms"}
`
	if err := os.WriteFile(exportPath, []byte(lines), 0644); err != nil {
		t.Fatalf("failed to write export file: %v", err)
	}

	out, err := runApp(t, cfg, "ingest", "--create-contacts", exportPath)
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	var res ingest.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if res.Imported != 2 {
		t.Errorf("expected imported=2, got %d", res.Imported)
	}
	if res.ContactsCreated != 1 {
		t.Errorf("expected contacts_created=1, got %d", res.ContactsCreated)
	}

	t.Run("re-import is idempotent", func(t *testing.T) {
		out, err := runApp(t, cfg, "ingest", "--create-contacts", exportPath)
		if err != nil {
			t.Fatalf("ingest failed: %v", err)
		}
		var res ingest.Result
		if err := json.Unmarshal([]byte(out), &res); err != nil {
			t.Fatalf("failed to parse output: %v", err)
		}
		if res.Imported != 0 {
			t.Errorf("expected imported=0, got %d", res.Imported)
		}
		if res.Duplicates != 2 {
			t.Errorf("expected duplicates=2, got %d", res.Duplicates)
		}
	})
}

// TestCLIReconnectAndFollowups tests the reconnect sweep and the followup
// list/complete flow it feeds.
func TestCLIReconnectAndFollowups(t *testing.T) {
	cfg := writeTestConfig(t)

	// One contact whose last message is well past the default silence window.
	exportPath := filepath.Join(t.TempDir(), "old.jsonl")
	occurred := time.Now().UTC().AddDate(0, 0, -60).Format("2006-01-02 15:04:05")
	line := fmt.Sprintf(`{"contact":"Ida Okafor","content":"Started the new job this week, the team seems great so far","occurred_at":"%s","direction":"inbound"}`+"\n", occurred)
	if err := os.WriteFile(exportPath, []byte(line), 0644); err != nil {
		t.Fatalf("failed to write export file: %v", err)
	}
	if _, err := runApp(t, cfg, "ingest", "--create-contacts", exportPath); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	out, err := runApp(t, cfg, "reconnect")
	if err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
	var report remind.Report
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if report.Applied != 1 {
		t.Fatalf("expected applied=1, got %d", report.Applied)
	}

	out, err = runApp(t, cfg, "followups", "list")
	if err != nil {
		t.Fatalf("followups list failed: %v", err)
	}
	var rows []followupRow
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 followup, got %d", len(rows))
	}
	if rows[0].Completed {
		t.Error("expected open followup")
	}

	if _, err := runApp(t, cfg, "followups", "complete", fmt.Sprint(rows[0].ID)); err != nil {
		t.Fatalf("followups complete failed: %v", err)
	}

	t.Run("open list excludes completed", func(t *testing.T) {
		out, err := runApp(t, cfg, "followups", "list")
		if err != nil {
			t.Fatalf("followups list failed: %v", err)
		}
		var rows []followupRow
		if err := json.Unmarshal([]byte(out), &rows); err != nil {
			t.Fatalf("failed to parse output: %v", err)
		}
		if len(rows) != 0 {
			t.Errorf("expected 0 open followups, got %d", len(rows))
		}
	})

	t.Run("all includes completed", func(t *testing.T) {
		out, err := runApp(t, cfg, "followups", "list", "--all")
		if err != nil {
			t.Fatalf("followups list failed: %v", err)
		}
		var rows []followupRow
		if err := json.Unmarshal([]byte(out), &rows); err != nil {
			t.Fatalf("failed to parse output: %v", err)
		}
		if len(rows) != 1 {
			t.Fatalf("expected 1 followup, got %d", len(rows))
		}
		if !rows[0].Completed {
			t.Error("expected completed followup")
		}
	})
}

// TestCLIRelationships tests the add, link, and list commands and the
// reciprocal row linking creates on the other contact.
func TestCLIRelationships(t *testing.T) {
	cfg := writeTestConfig(t)

	if _, err := runApp(t, cfg, "contacts", "add", "Ada Lovelace"); err != nil {
		t.Fatalf("contacts add failed: %v", err)
	}
	out, err := runApp(t, cfg, "contacts", "add", "Grace Hopper")
	if err != nil {
		t.Fatalf("contacts add failed: %v", err)
	}
	var grace contactRow
	if err := json.Unmarshal([]byte(out), &grace); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}

	out, err = runApp(t, cfg, "relationships", "add",
		"--contact", "Ada Lovelace", "--label", "friend", "--person", "Grace Hopper")
	if err != nil {
		t.Fatalf("relationships add failed: %v", err)
	}
	var rel relationshipRow
	if err := json.Unmarshal([]byte(out), &rel); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if rel.Label != "friend" {
		t.Errorf("expected label=friend, got %s", rel.Label)
	}
	if rel.LinkedContactID != nil {
		t.Error("expected unlinked relationship")
	}

	if _, err := runApp(t, cfg, "relationships", "link", "--to", "Grace Hopper", fmt.Sprint(rel.ID)); err != nil {
		t.Fatalf("relationships link failed: %v", err)
	}

	t.Run("link recorded", func(t *testing.T) {
		out, err := runApp(t, cfg, "relationships", "list", "--contact", "Ada Lovelace")
		if err != nil {
			t.Fatalf("relationships list failed: %v", err)
		}
		var rows []relationshipRow
		if err := json.Unmarshal([]byte(out), &rows); err != nil {
			t.Fatalf("failed to parse output: %v", err)
		}
		if len(rows) != 1 {
			t.Fatalf("expected 1 relationship, got %d", len(rows))
		}
		if rows[0].LinkedContactID == nil || *rows[0].LinkedContactID != grace.ID {
			t.Errorf("expected linked_contact_id=%d, got %v", grace.ID, rows[0].LinkedContactID)
		}
	})

	t.Run("reciprocal created on linked contact", func(t *testing.T) {
		out, err := runApp(t, cfg, "relationships", "list", "--contact", "Grace Hopper")
		if err != nil {
			t.Fatalf("relationships list failed: %v", err)
		}
		var rows []relationshipRow
		if err := json.Unmarshal([]byte(out), &rows); err != nil {
			t.Fatalf("failed to parse output: %v", err)
		}
		if len(rows) != 1 {
			t.Fatalf("expected 1 reciprocal relationship, got %d", len(rows))
		}
		if rows[0].Label != "friend" || rows[0].Person != "Ada Lovelace" {
			t.Errorf("unexpected reciprocal row: %+v", rows[0])
		}
	})
}

// TestCLIStatus tests the status command on a fresh database.
func TestCLIStatus(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := runApp(t, cfg, "status")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}

	var status struct {
		PendingCommunications int `json:"pending_communications"`
		OpenFollowups         int `json:"open_followups"`
		ConflictGroups        int `json:"conflict_groups"`
	}
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if status.PendingCommunications != 0 {
		t.Errorf("expected pending_communications=0, got %d", status.PendingCommunications)
	}
	if status.OpenFollowups != 0 {
		t.Errorf("expected open_followups=0, got %d", status.OpenFollowups)
	}
	if !strings.Contains(out, "schedule") {
		t.Error("expected resolved schedule in status output")
	}
}

// TestCLIDBStatsAndVacuum tests the db maintenance commands against a
// file-backed database.
func TestCLIDBStatsAndVacuum(t *testing.T) {
	cfg := writeTestConfig(t)

	if _, err := runApp(t, cfg, "contacts", "add", "Ada Lovelace"); err != nil {
		t.Fatalf("contacts add failed: %v", err)
	}
	if _, err := runApp(t, cfg, "facts", "add",
		"--contact", "Ada Lovelace", "--type", "job", "--value", "Engineer at Acme"); err != nil {
		t.Fatalf("facts add failed: %v", err)
	}

	out, err := runApp(t, cfg, "db", "stats")
	if err != nil {
		t.Fatalf("db stats failed: %v", err)
	}
	var stats observe.Stats
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if stats.Contacts != 1 {
		t.Errorf("expected 1 contact, got %d", stats.Contacts)
	}
	if stats.LiveFacts != 1 {
		t.Errorf("expected 1 live fact, got %d", stats.LiveFacts)
	}
	if stats.StorageBytes == 0 {
		t.Error("expected non-zero storage bytes for file-backed db")
	}

	out, err = runApp(t, cfg, "db", "vacuum")
	if err != nil {
		t.Fatalf("db vacuum failed: %v", err)
	}
	var report observe.VacuumReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if report.AfterBytes == 0 {
		t.Error("expected non-zero db size after vacuum")
	}
}

// TestCLIVersionCommand tests the version command.
func TestCLIVersionCommand(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := runApp(t, cfg, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, "dunbar "+Version) {
		t.Errorf("expected version output, got %s", out)
	}
}

// TestCLIErrorHandling tests error handling in CLI commands.
func TestCLIErrorHandling(t *testing.T) {
	cfg := writeTestConfig(t)

	t.Run("unknown contact returns error", func(t *testing.T) {
		// cli.Exit writes to stderr, so just verify the error is returned
		_, err := runApp(t, cfg, "facts", "list", "--contact", "nonexistent")
		if err == nil {
			t.Error("expected error, got nil")
		}
	})

	t.Run("non-numeric followup id returns error", func(t *testing.T) {
		_, err := runApp(t, cfg, "followups", "complete", "soon")
		if err == nil {
			t.Error("expected error, got nil")
		}
	})

	t.Run("ingest without files returns error", func(t *testing.T) {
		_, err := runApp(t, cfg, "ingest")
		if err == nil {
			t.Error("expected error, got nil")
		}
	})

	t.Run("invalid due-before format returns error", func(t *testing.T) {
		_, err := runApp(t, cfg, "followups", "list", "--due-before", "next tuesday")
		if err == nil {
			t.Error("expected error, got nil")
		}
	})

	t.Run("bad log level returns error", func(t *testing.T) {
		_, err := runApp(t, cfg, "--log-level", "loud", "contacts", "list")
		if err == nil {
			t.Error("expected error, got nil")
		}
	})
}
