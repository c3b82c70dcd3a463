package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/dunbarhq/dunbar/internal/embed"
	"github.com/dunbarhq/dunbar/internal/extract"
	"github.com/dunbarhq/dunbar/internal/relate"
	"github.com/dunbarhq/dunbar/internal/store"
)

// Config tunes an extraction pipeline.
type Config struct {
	// BatchSize is how many new messages each extraction batch covers.
	BatchSize int

	// BatchOverlap is how many trailing messages of the previous batch are
	// replayed at the start of the next one for continuity.
	BatchOverlap int

	// ContextMessages is how many recent already-processed messages are
	// included as background in every batch of a contact. Zero disables
	// context entirely.
	ContextMessages int

	// MinMessageLength excludes shorter messages from counting, batching,
	// and context alike.
	MinMessageLength int

	// ConfidenceThreshold drops extracted facts and relationships below it.
	ConfidenceThreshold float64

	// DedupSimilarityThreshold is the cosine similarity at or above which a
	// candidate fact is a duplicate of a stored one.
	DedupSimilarityThreshold float64

	// SupersedeConfidence is the minimum confidence a new conflicting fact
	// needs before it replaces an older one instead of coexisting with it.
	SupersedeConfidence float64

	// FollowupCutoffDays suppresses followups whose triggering message is
	// older than this many days. Zero disables the cutoff.
	FollowupCutoffDays int

	// InterBatchDelay paces provider calls between batches. Zero means no
	// pacing.
	InterBatchDelay time.Duration

	// EmbeddingModel is recorded alongside stored fact vectors.
	EmbeddingModel string
}

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:                10,
		BatchOverlap:             2,
		ContextMessages:          5,
		MinMessageLength:         store.DefaultMinMessageLength,
		ConfidenceThreshold:      0.5,
		DedupSimilarityThreshold: 0.85,
		SupersedeConfidence:      0.9,
		FollowupCutoffDays:       7,
		InterBatchDelay:          500 * time.Millisecond,
	}
}

// Pipeline runs extraction passes over unprocessed communications. One
// instance is safe for concurrent Run calls: a single-flight guard lets one
// run proceed and returns the rest immediately with Skipped set.
type Pipeline struct {
	store     store.Store
	extractor extract.Client
	embedder  embed.Embedder
	relate    *relate.Engine
	cfg       Config
	log       *slog.Logger

	running *semaphore.Weighted
	pace    *rate.Limiter
}

// New assembles a pipeline over the given store and clients. Config fields
// whose zero value would break the run (batch size, minimum length, dedup
// thresholds) fall back to defaults; fields where zero means "off" (overlap,
// context, cutoff, pacing) are taken as given.
func New(s store.Store, extractor extract.Client, embedder embed.Embedder, cfg Config, log *slog.Logger) *Pipeline {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MinMessageLength <= 0 {
		cfg.MinMessageLength = def.MinMessageLength
	}
	if cfg.DedupSimilarityThreshold <= 0 {
		cfg.DedupSimilarityThreshold = def.DedupSimilarityThreshold
	}
	if cfg.SupersedeConfidence <= 0 {
		cfg.SupersedeConfidence = def.SupersedeConfidence
	}
	if log == nil {
		log = slog.Default()
	}

	limit := rate.Inf
	if cfg.InterBatchDelay > 0 {
		limit = rate.Every(cfg.InterBatchDelay)
	}

	return &Pipeline{
		store:     s,
		extractor: extractor,
		embedder:  embedder,
		relate:    relate.NewEngine(s),
		cfg:       cfg,
		log:       log,
		running:   semaphore.NewWeighted(1),
		pace:      rate.NewLimiter(limit, 1),
	}
}

// Run executes one full extraction pass and reports what happened. It never
// returns an error: failures land in the summary, scoped as narrowly as the
// store allows. A run that finds another already in flight returns at once
// with Skipped set and touches nothing.
func (p *Pipeline) Run(ctx context.Context) (summary *RunSummary) {
	summary = &RunSummary{
		RunID:     ulid.Make().String(),
		StartedAt: time.Now().UTC(),
	}
	// Named return so the recover path still hands the caller the summary
	// accumulated before the panic.
	defer func() {
		if r := recover(); r != nil {
			summary.addError(fmt.Errorf("pipeline panic: %v", r))
			p.log.Error("pipeline run panicked", "run_id", summary.RunID, "panic", r)
		}
		summary.Duration = time.Since(summary.StartedAt)
	}()

	if !p.running.TryAcquire(1) {
		summary.Skipped = true
		p.log.Info("pipeline run already in flight, skipping", "run_id", summary.RunID)
		return summary
	}
	defer p.running.Release(1)

	log := p.log.With("run_id", summary.RunID)
	log.Info("pipeline run starting")

	workloads, err := p.store.ContactsWithUnprocessed(ctx, p.cfg.MinMessageLength)
	if err != nil {
		summary.addError(fmt.Errorf("listing contacts with unprocessed communications: %w", err))
		log.Error("pipeline run failed before processing", "error", err)
		return summary
	}

	for _, w := range workloads {
		if ctx.Err() != nil {
			summary.addError(ctx.Err())
			break
		}
		if p.processContact(ctx, log, summary, w) {
			summary.RateLimited = true
			log.Warn("provider rate limited, aborting run", "contact_id", w.ContactID)
			break
		}
	}

	summary.Duration = time.Since(summary.StartedAt)
	log.Info("pipeline run finished", summary.LogAttrs()...)
	return summary
}

// processContact batches, extracts, and commits one contact's backlog. The
// returned abort reports a provider rate limit, which stops the whole run;
// every other failure stays contained to the contact or batch.
func (p *Pipeline) processContact(ctx context.Context, log *slog.Logger, summary *RunSummary, w *store.ContactWorkload) (abort bool) {
	clog := log.With("contact_id", w.ContactID, "contact", w.DisplayName)

	comms, err := p.store.UnprocessedCommunications(ctx, w.ContactID, p.cfg.MinMessageLength)
	if err != nil {
		summary.addError(fmt.Errorf("contact %d: loading unprocessed communications: %w", w.ContactID, err))
		clog.Error("skipping contact", "error", err)
		return false
	}
	if len(comms) == 0 {
		return false
	}

	var contextMsgs []*store.Communication
	if p.cfg.ContextMessages > 0 {
		contextMsgs, err = p.store.RecentProcessedCommunications(ctx, w.ContactID, p.cfg.ContextMessages)
		if err != nil {
			summary.addError(fmt.Errorf("contact %d: loading context messages: %w", w.ContactID, err))
			clog.Error("skipping contact", "error", err)
			return false
		}
	}

	batches := BuildBatches(w.ContactID, w.DisplayName, comms, contextMsgs, p.cfg.BatchSize, p.cfg.BatchOverlap)
	clog.Info("processing contact", "unprocessed", len(comms), "batches", len(batches))

	for i, b := range batches {
		if err := p.pace.Wait(ctx); err != nil {
			summary.addError(fmt.Errorf("contact %d: %w", w.ContactID, err))
			return false
		}

		res, err := p.extractBatch(ctx, clog, b)
		if err != nil {
			if extract.IsRateLimit(err) {
				summary.addError(fmt.Errorf("contact %d batch %d: %w", w.ContactID, i+1, err))
				return true
			}
			// The batch's communications stay unmarked so the next run
			// picks them up again.
			summary.addError(fmt.Errorf("contact %d batch %d: %w", w.ContactID, i+1, err))
			clog.Warn("batch skipped after retry", "batch", i+1, "error", err)
			continue
		}

		p.commitBatch(ctx, summary, b, res)
	}

	summary.ContactsProcessed++
	return false
}

// extractBatch calls the provider, retrying once on transient failure. Rate
// limits return immediately, retrying into a throttle only digs the hole
// deeper.
func (p *Pipeline) extractBatch(ctx context.Context, log *slog.Logger, b *Batch) (*extract.Result, error) {
	transcript := formatTranscript(b)

	res, err := p.extractor.Extract(ctx, b.ContactName, transcript)
	if err == nil {
		return res, nil
	}
	if extract.IsRateLimit(err) || ctx.Err() != nil {
		return nil, err
	}

	log.Warn("extraction failed, retrying once", "error", err)
	res, retryErr := p.extractor.Extract(ctx, b.ContactName, transcript)
	if retryErr == nil {
		return res, nil
	}
	if extract.IsRateLimit(retryErr) {
		return nil, retryErr
	}
	return nil, fmt.Errorf("after retry: %w", retryErr)
}

// commitBatch writes one batch's results and marks its communications
// processed. Individual item failures are recorded and skipped without
// stopping the batch; the processed marker is withheld only when the store
// refuses the marking itself.
func (p *Pipeline) commitBatch(ctx context.Context, summary *RunSummary, b *Batch, res *extract.Result) {
	for _, f := range res.Facts {
		if f.Confidence < p.cfg.ConfidenceThreshold {
			continue
		}
		outcome, err := p.commitFact(ctx, b.ContactID, f)
		if err != nil {
			summary.addError(fmt.Errorf("contact %d: fact %q: %w", b.ContactID, f.Value, err))
			continue
		}
		switch outcome {
		case FactInserted:
			summary.FactsCreated++
		case FactDuplicate:
			summary.FactsDeduplicated++
		case FactSuperseded:
			summary.FactsSuperseded++
		}
	}

	for _, r := range res.Relationships {
		if r.Confidence < p.cfg.ConfidenceThreshold {
			continue
		}
		created, err := p.commitRelationship(ctx, b.ContactID, r)
		if err != nil {
			summary.addError(fmt.Errorf("contact %d: relationship %s/%s: %w", b.ContactID, r.Label, r.PersonName, err))
			continue
		}
		if created {
			summary.RelationshipsCreated++
		} else {
			summary.RelationshipsDeduplicated++
		}
	}

	// The newest message in the window is what triggered any followup
	// suggestions; its timestamp drives the staleness cutoff.
	var triggeredAt *time.Time
	var sourceCommID *int64
	if len(b.Messages) > 0 {
		last := b.Messages[len(b.Messages)-1]
		triggeredAt = &last.OccurredAt
		sourceCommID = &last.ID
	}
	for _, fu := range res.Followups {
		outcome, err := p.commitFollowup(ctx, b.ContactID, fu, triggeredAt, sourceCommID)
		if err != nil {
			summary.addError(fmt.Errorf("contact %d: followup %q: %w", b.ContactID, fu.Reason, err))
			continue
		}
		switch outcome {
		case FollowupCreated:
			summary.FollowupsCreated++
		case FollowupSkippedCutoff:
			summary.FollowupsSkippedCutoff++
		case FollowupSkippedDuplicate:
			summary.FollowupsSkippedDuplicate++
		}
	}

	if err := p.store.MarkCommunicationsProcessed(ctx, b.CommunicationIDs); err != nil {
		summary.addError(fmt.Errorf("contact %d: marking %d communications processed: %w", b.ContactID, len(b.CommunicationIDs), err))
		return
	}
	summary.BatchesProcessed++
}
