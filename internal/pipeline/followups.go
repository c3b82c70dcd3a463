package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dunbarhq/dunbar/internal/extract"
	"github.com/dunbarhq/dunbar/internal/store"
)

// FollowupOutcome says what the followup gate did with one suggestion.
type FollowupOutcome int

const (
	// FollowupCreated persisted a new open followup.
	FollowupCreated FollowupOutcome = iota
	// FollowupSkippedCutoff dropped the suggestion because its triggering
	// message predates the staleness cutoff.
	FollowupSkippedCutoff
	// FollowupSkippedDuplicate dropped the suggestion because an open
	// followup with the same reason already exists for the contact.
	FollowupSkippedDuplicate
)

func (o FollowupOutcome) String() string {
	switch o {
	case FollowupCreated:
		return "created"
	case FollowupSkippedCutoff:
		return "skipped_cutoff"
	case FollowupSkippedDuplicate:
		return "skipped_duplicate"
	default:
		return fmt.Sprintf("FollowupOutcome(%d)", int(o))
	}
}

// commitFollowup gates one extracted followup suggestion. triggeredAt is the
// timestamp of the newest message in the batch; suggestions triggered by
// messages older than the cutoff are stale backlog, not actionable reminders.
// An open followup with the same reason suppresses re-creation, which keeps
// reprocessing overlap windows idempotent.
func (p *Pipeline) commitFollowup(ctx context.Context, contactID int64, fu extract.ExtractedFollowup, triggeredAt *time.Time, sourceCommID *int64) (FollowupOutcome, error) {
	reason := strings.TrimSpace(fu.Reason)

	if p.cfg.FollowupCutoffDays > 0 && triggeredAt != nil {
		cutoff := time.Now().UTC().AddDate(0, 0, -p.cfg.FollowupCutoffDays)
		if triggeredAt.Before(cutoff) {
			return FollowupSkippedCutoff, nil
		}
	}

	open, err := p.store.OpenFollowupByReason(ctx, contactID, reason)
	if err != nil {
		return FollowupCreated, fmt.Errorf("checking open followups: %w", err)
	}
	if open != nil {
		return FollowupSkippedDuplicate, nil
	}

	due := time.Now().UTC().AddDate(0, 0, 7)
	if fu.SuggestedDate != "" {
		if d, perr := time.Parse("2006-01-02", fu.SuggestedDate); perr == nil {
			due = d
		}
	}

	_, err = p.store.AddFollowup(ctx, &store.Followup{
		ContactID:             contactID,
		Type:                  store.FollowupContentDetected,
		Reason:                reason,
		DueDate:               due,
		SourceCommunicationID: sourceCommID,
	})
	if err != nil {
		return FollowupCreated, fmt.Errorf("inserting followup: %w", err)
	}
	return FollowupCreated, nil
}
