package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/dunbarhq/dunbar/internal/extract"
	"github.com/dunbarhq/dunbar/internal/store"
)

// FactOutcome says what committing one extracted fact did to the store.
type FactOutcome int

const (
	// FactInserted created a new live fact row.
	FactInserted FactOutcome = iota
	// FactDuplicate matched an existing live fact; nothing was inserted.
	FactDuplicate
	// FactSuperseded created a new row and tombstoned an older fact of the
	// same type that held a different value.
	FactSuperseded
)

func (o FactOutcome) String() string {
	switch o {
	case FactInserted:
		return "inserted"
	case FactDuplicate:
		return "duplicate"
	case FactSuperseded:
		return "superseded"
	default:
		return fmt.Sprintf("FactOutcome(%d)", int(o))
	}
}

// commitFact runs the dedup decision for one extracted fact.
//
// Decision order:
//  1. An existing live fact of the same type with the same value (compared
//     case-insensitively after trimming) is a duplicate; its confidence is
//     raised to the candidate's if that is higher.
//  2. Otherwise the candidate is embedded and compared to the closest stored
//     fact of the same (contact, type). At or above the similarity threshold
//     it is a duplicate too, with the same confidence bump.
//  3. Below the threshold a new row is inserted. When the closest fact holds
//     a different value and the candidate is confident enough to outrank it,
//     the old fact is superseded; otherwise both stay live and the group's
//     conflict flags say so.
//
// Embedding failure skips the vector comparison entirely and inserts the
// fact anyway. A dropped fact is worse than an occasional duplicate.
func (p *Pipeline) commitFact(ctx context.Context, contactID int64, f extract.ExtractedFact) (FactOutcome, error) {
	value := strings.TrimSpace(f.Value)

	existing, err := p.store.FactsByType(ctx, contactID, f.FactType)
	if err != nil {
		return FactInserted, fmt.Errorf("loading facts of type %q: %w", f.FactType, err)
	}
	for _, ef := range existing {
		if strings.EqualFold(strings.TrimSpace(ef.Value), value) {
			if f.Confidence > ef.Confidence {
				if err := p.store.UpdateFactConfidence(ctx, ef.ID, f.Confidence); err != nil {
					return FactInserted, fmt.Errorf("raising confidence on fact %d: %w", ef.ID, err)
				}
			}
			return FactDuplicate, nil
		}
	}

	var vector []float32
	if p.embedder != nil {
		vector, err = p.embedder.Embed(ctx, value)
		if err != nil {
			p.log.Warn("embedding failed, inserting fact without dedup",
				"contact_id", contactID, "fact_type", f.FactType, "error", err)
			vector = nil
		}
	}

	var closest *store.FactMatch
	if vector != nil {
		closest, err = p.store.NearestFact(ctx, contactID, f.FactType, vector)
		if err != nil {
			return FactInserted, fmt.Errorf("nearest fact lookup: %w", err)
		}
		if closest != nil && closest.Similarity >= p.cfg.DedupSimilarityThreshold {
			if f.Confidence > closest.Fact.Confidence {
				if err := p.store.UpdateFactConfidence(ctx, closest.Fact.ID, f.Confidence); err != nil {
					return FactInserted, fmt.Errorf("raising confidence on fact %d: %w", closest.Fact.ID, err)
				}
			}
			return FactDuplicate, nil
		}
	}

	id, err := p.store.AddFact(ctx, &store.Fact{
		ContactID:       contactID,
		FactType:        f.FactType,
		Value:           value,
		StructuredValue: f.StructuredValue,
		Source:          store.SourceExtracted,
		Confidence:      f.Confidence,
	})
	if err != nil {
		return FactInserted, fmt.Errorf("inserting fact: %w", err)
	}
	if vector != nil {
		if err := p.store.SaveFactEmbedding(ctx, id, vector, p.cfg.EmbeddingModel); err != nil {
			// The fact row exists; losing its vector only weakens future
			// dedup, so don't fail the commit over it.
			p.log.Warn("storing fact embedding failed", "fact_id", id, "error", err)
		}
	}

	outcome := FactInserted
	// The exact-value pass above already returned for equal values, so a
	// surviving closest fact necessarily disagrees with the candidate.
	if closest != nil && f.Confidence >= p.cfg.SupersedeConfidence && f.Confidence >= closest.Fact.Confidence {
		if err := p.store.SupersedeFact(ctx, closest.Fact.ID, id); err != nil {
			return FactInserted, fmt.Errorf("superseding fact %d: %w", closest.Fact.ID, err)
		}
		outcome = FactSuperseded
	}

	if _, err := p.store.RefreshConflictState(ctx, contactID, f.FactType); err != nil {
		return outcome, fmt.Errorf("refreshing conflict state: %w", err)
	}
	return outcome, nil
}
