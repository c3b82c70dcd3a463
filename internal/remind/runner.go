// Package remind scans for contacts who have gone quiet and raises
// time-based reconnect followups for them.
//
// Unlike the extraction pipeline, which reacts to message content, this
// runner reacts to silence: a contact whose last communication in either
// direction is older than the configured window gets one open reconnect
// followup. Completing that followup re-arms the reminder for the next scan.
package remind

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dunbarhq/dunbar/internal/store"
)

// reconnectReason is the stable reason string for time-based reminders. It
// doubles as the idempotency key, so it must not embed anything that varies
// between runs.
const reconnectReason = "time to reconnect"

// Config tunes the reconnect scan.
type Config struct {
	// SilentDays is how long a contact may go without any communication
	// before a reminder is raised.
	SilentDays int

	// DueInDays is how far out the created reminder is due.
	DueInDays int
}

// DefaultConfig returns the reconnect defaults.
func DefaultConfig() Config {
	return Config{SilentDays: 30, DueInDays: 3}
}

// Action is one contact the scan decided to remind about.
type Action struct {
	ContactID   int64  `json:"contact_id"`
	ContactName string `json:"contact_name"`
	SilentDays  int    `json:"silent_days"`
	Reason      string `json:"reason"`
	Applied     bool   `json:"applied"`
}

// Report summarizes one reconnect scan.
type Report struct {
	DryRun  bool     `json:"dry_run"`
	Scanned int      `json:"scanned"`
	Applied int      `json:"applied"`
	Pending int      `json:"pending"`
	Actions []Action `json:"actions"`
}

// Runner performs reconnect scans against the store. The clock is pinned at
// construction so one scan judges every contact against the same instant.
type Runner struct {
	store store.Store
	cfg   Config
	log   *slog.Logger
	now   time.Time
}

// NewRunner creates a reconnect runner. Zero config fields fall back to
// defaults.
func NewRunner(s store.Store, cfg Config, log *slog.Logger) *Runner {
	def := DefaultConfig()
	if cfg.SilentDays <= 0 {
		cfg.SilentDays = def.SilentDays
	}
	if cfg.DueInDays <= 0 {
		cfg.DueInDays = def.DueInDays
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{store: s, cfg: cfg, log: log, now: time.Now().UTC()}
}

// Run scans every contact and raises reconnect followups for the quiet ones.
// With dryRun the report lists what would happen without writing anything.
// Contacts that already have an open reconnect followup are counted as
// pending and left alone; contacts with no communications at all are skipped,
// there is no conversation to revive.
func (r *Runner) Run(ctx context.Context, dryRun bool) (*Report, error) {
	report := &Report{DryRun: dryRun}

	contacts, err := r.store.ListContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing contacts: %w", err)
	}

	for _, c := range contacts {
		report.Scanned++

		last, err := r.store.LastCommunicationAt(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("contact %d: last communication: %w", c.ID, err)
		}
		if last == nil {
			continue
		}

		silent := int(r.now.Sub(last.UTC()).Hours() / 24)
		if silent < r.cfg.SilentDays {
			continue
		}

		open, err := r.store.OpenFollowupByReason(ctx, c.ID, reconnectReason)
		if err != nil {
			return nil, fmt.Errorf("contact %d: checking open reminders: %w", c.ID, err)
		}
		if open != nil {
			report.Pending++
			continue
		}

		act := Action{
			ContactID:   c.ID,
			ContactName: c.DisplayName,
			SilentDays:  silent,
			Reason:      fmt.Sprintf("no contact in %d days (threshold %d)", silent, r.cfg.SilentDays),
		}
		if !dryRun {
			_, err := r.store.AddFollowup(ctx, &store.Followup{
				ContactID: c.ID,
				Type:      store.FollowupTimeBased,
				Reason:    reconnectReason,
				DueDate:   r.now.AddDate(0, 0, r.cfg.DueInDays),
			})
			if err != nil {
				act.Reason += "; apply_error: " + err.Error()
			} else {
				act.Applied = true
				report.Applied++
			}
		}
		report.Actions = append(report.Actions, act)
	}

	r.log.Info("reconnect scan finished",
		"dry_run", dryRun,
		"scanned", report.Scanned,
		"applied", report.Applied,
		"pending", report.Pending)
	return report, nil
}
