package remind

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dunbarhq/dunbar/internal/store"
)

func newTestRunner(t *testing.T, cfg Config) (*Runner, store.Store) {
	t.Helper()
	s, err := store.NewStore(store.StoreConfig{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRunner(s, cfg, log), s
}

func seedContactWithComm(t *testing.T, s store.Store, name string, daysAgo int) *store.Contact {
	t.Helper()
	ctx := context.Background()
	c, err := s.AddContact(ctx, name)
	if err != nil {
		t.Fatalf("seeding contact: %v", err)
	}
	if daysAgo >= 0 {
		_, err = s.AddCommunication(ctx, &store.Communication{
			ContactID:  c.ID,
			Content:    "some message content that is long enough to count",
			OccurredAt: time.Now().UTC().AddDate(0, 0, -daysAgo),
		})
		if err != nil {
			t.Fatalf("seeding communication: %v", err)
		}
	}
	return c
}

func openReconnects(t *testing.T, s store.Store, contactID int64) []*store.Followup {
	t.Helper()
	fus, err := s.ListFollowups(context.Background(), store.ListFollowupOpts{ContactID: contactID})
	if err != nil {
		t.Fatalf("ListFollowups: %v", err)
	}
	return fus
}

func TestRunCreatesReminderForQuietContact(t *testing.T) {
	r, s := newTestRunner(t, Config{SilentDays: 30, DueInDays: 3})
	quiet := seedContactWithComm(t, s, "Ada Lovelace", 45)

	report, err := r.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Scanned != 1 || report.Applied != 1 {
		t.Errorf("scanned=%d applied=%d, want 1 and 1", report.Scanned, report.Applied)
	}
	if len(report.Actions) != 1 || !report.Actions[0].Applied {
		t.Fatalf("actions = %+v", report.Actions)
	}
	if report.Actions[0].SilentDays < 44 {
		t.Errorf("SilentDays = %d, want about 45", report.Actions[0].SilentDays)
	}

	fus := openReconnects(t, s, quiet.ID)
	if len(fus) != 1 {
		t.Fatalf("%d open followups, want 1", len(fus))
	}
	if fus[0].Type != store.FollowupTimeBased {
		t.Errorf("type = %q, want %q", fus[0].Type, store.FollowupTimeBased)
	}
	due := time.Now().UTC().AddDate(0, 0, 3)
	if fus[0].DueDate.Before(due.AddDate(0, 0, -1)) || fus[0].DueDate.After(due.AddDate(0, 0, 1)) {
		t.Errorf("due = %s, want about %s", fus[0].DueDate, due)
	}
}

func TestRunDryRunWritesNothing(t *testing.T) {
	r, s := newTestRunner(t, Config{SilentDays: 30})
	quiet := seedContactWithComm(t, s, "Ada Lovelace", 45)

	report, err := r.Run(context.Background(), true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Actions) != 1 || report.Actions[0].Applied {
		t.Fatalf("dry-run actions = %+v, want one unapplied", report.Actions)
	}
	if report.Applied != 0 {
		t.Errorf("Applied = %d, want 0", report.Applied)
	}
	if fus := openReconnects(t, s, quiet.ID); len(fus) != 0 {
		t.Errorf("dry run created %d followups", len(fus))
	}
}

func TestRunLeavesActiveContactsAlone(t *testing.T) {
	r, s := newTestRunner(t, Config{SilentDays: 30})
	recent := seedContactWithComm(t, s, "Maya Chen", 5)
	never := seedContactWithComm(t, s, "Grace Hopper", -1)

	report, err := r.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Scanned != 2 {
		t.Errorf("Scanned = %d, want 2", report.Scanned)
	}
	if len(report.Actions) != 0 {
		t.Fatalf("actions = %+v, want none", report.Actions)
	}
	for _, c := range []*store.Contact{recent, never} {
		if fus := openReconnects(t, s, c.ID); len(fus) != 0 {
			t.Errorf("contact %d got %d followups", c.ID, len(fus))
		}
	}
}

func TestRunDoesNotStackReminders(t *testing.T) {
	r, s := newTestRunner(t, Config{SilentDays: 30})
	quiet := seedContactWithComm(t, s, "Ada Lovelace", 60)

	if _, err := r.Run(context.Background(), false); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	second, err := NewRunner(s, Config{SilentDays: 30}, r.log).Run(context.Background(), false)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if second.Pending != 1 || second.Applied != 0 {
		t.Errorf("pending=%d applied=%d, want 1 and 0", second.Pending, second.Applied)
	}
	if fus := openReconnects(t, s, quiet.ID); len(fus) != 1 {
		t.Errorf("%d open followups after two runs, want 1", len(fus))
	}
}

func TestRunReArmsAfterCompletion(t *testing.T) {
	ctx := context.Background()
	r, s := newTestRunner(t, Config{SilentDays: 30})
	quiet := seedContactWithComm(t, s, "Ada Lovelace", 60)

	if _, err := r.Run(ctx, false); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	fus := openReconnects(t, s, quiet.ID)
	if len(fus) != 1 {
		t.Fatalf("%d open followups, want 1", len(fus))
	}
	if err := s.CompleteFollowup(ctx, fus[0].ID); err != nil {
		t.Fatalf("CompleteFollowup: %v", err)
	}

	// Still silent, reminder completed: the next scan raises a new one.
	report, err := NewRunner(s, Config{SilentDays: 30}, r.log).Run(ctx, false)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if report.Applied != 1 {
		t.Errorf("Applied = %d, want 1", report.Applied)
	}
	if fus := openReconnects(t, s, quiet.ID); len(fus) != 1 {
		t.Errorf("%d open followups, want exactly the re-armed one", len(fus))
	}
}
