package pipeline

import (
	"log/slog"
	"time"
)

// RunSummary aggregates one pipeline run's outcomes. It is returned to the
// caller and logged by the scheduler, never persisted.
type RunSummary struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`

	// Skipped means the single-flight guard rejected this invocation
	// because another run was in progress. Nothing was read or written.
	Skipped bool `json:"skipped"`

	// RateLimited means the run aborted early on a provider rate limit,
	// returning whatever had accumulated by then.
	RateLimited bool `json:"rate_limited"`

	ContactsProcessed int `json:"contacts_processed"`
	BatchesProcessed  int `json:"batches_processed"`

	FactsCreated      int `json:"facts_created"`
	FactsDeduplicated int `json:"facts_deduplicated"`
	FactsSuperseded   int `json:"facts_superseded"`

	RelationshipsCreated      int `json:"relationships_created"`
	RelationshipsDeduplicated int `json:"relationships_deduplicated"`

	FollowupsCreated          int `json:"followups_created"`
	FollowupsSkippedCutoff    int `json:"followups_skipped_cutoff"`
	FollowupsSkippedDuplicate int `json:"followups_skipped_duplicate"`

	Errors []string `json:"errors,omitempty"`
}

func (s *RunSummary) addError(err error) {
	s.Errors = append(s.Errors, err.Error())
}

// LogAttrs returns the summary as structured logging attributes.
func (s *RunSummary) LogAttrs() []any {
	return []any{
		slog.String("run_id", s.RunID),
		slog.Duration("duration", s.Duration),
		slog.Bool("rate_limited", s.RateLimited),
		slog.Int("contacts", s.ContactsProcessed),
		slog.Int("batches", s.BatchesProcessed),
		slog.Int("facts_created", s.FactsCreated),
		slog.Int("facts_deduplicated", s.FactsDeduplicated),
		slog.Int("facts_superseded", s.FactsSuperseded),
		slog.Int("relationships_created", s.RelationshipsCreated),
		slog.Int("relationships_deduplicated", s.RelationshipsDeduplicated),
		slog.Int("followups_created", s.FollowupsCreated),
		slog.Int("followups_skipped_cutoff", s.FollowupsSkippedCutoff),
		slog.Int("followups_skipped_duplicate", s.FollowupsSkippedDuplicate),
		slog.Int("errors", len(s.Errors)),
	}
}
