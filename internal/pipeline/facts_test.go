package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/dunbarhq/dunbar/internal/extract"
	"github.com/dunbarhq/dunbar/internal/store"
)

var (
	vecEast = []float32{1, 0, 0, 0}
	// Cosine similarity with vecEast is 0.95, above the 0.85 threshold.
	vecNearEast = []float32{0.95, 0.3122499, 0, 0}
	vecNorth    = []float32{0, 1, 0, 0}
)

func dedupConfig() Config {
	return Config{DedupSimilarityThreshold: 0.85, SupersedeConfidence: 0.9}
}

// seedFact inserts a live fact, optionally with a stored vector.
func seedFact(t *testing.T, s store.Store, contactID int64, factType, value string, confidence float64, vector []float32) int64 {
	t.Helper()
	id, err := s.AddFact(context.Background(), &store.Fact{
		ContactID:  contactID,
		FactType:   factType,
		Value:      value,
		Source:     store.SourceExtracted,
		Confidence: confidence,
	})
	if err != nil {
		t.Fatalf("seeding fact: %v", err)
	}
	if vector != nil {
		if err := s.SaveFactEmbedding(context.Background(), id, vector, "test"); err != nil {
			t.Fatalf("seeding embedding: %v", err)
		}
	}
	return id
}

func TestCommitFactFirstOfItsType(t *testing.T) {
	em := &fakeEmbedder{}
	p, s := newTestPipeline(t, &fakeExtractor{}, em, dedupConfig())
	ada := seedContact(t, s, "Ada Lovelace")

	outcome, err := p.commitFact(context.Background(), ada.ID, extract.ExtractedFact{
		FactType: "job", Value: "works at Klarna", Confidence: 0.8,
	})
	if err != nil {
		t.Fatalf("commitFact: %v", err)
	}
	if outcome != FactInserted {
		t.Fatalf("outcome = %s, want inserted", outcome)
	}

	facts, err := s.FactsByType(context.Background(), ada.ID, "job")
	if err != nil {
		t.Fatalf("FactsByType: %v", err)
	}
	if len(facts) != 1 {
		t.Fatalf("%d facts stored, want 1", len(facts))
	}
	if facts[0].HasConflict {
		t.Error("lone fact flagged as conflicted")
	}

	vec, err := s.FactEmbedding(context.Background(), facts[0].ID)
	if err != nil {
		t.Fatalf("FactEmbedding: %v", err)
	}
	if vec == nil {
		t.Error("no embedding stored for the inserted fact")
	}
}

func TestCommitFactExactDuplicate(t *testing.T) {
	em := &fakeEmbedder{}
	p, s := newTestPipeline(t, &fakeExtractor{}, em, dedupConfig())
	ada := seedContact(t, s, "Ada Lovelace")
	id := seedFact(t, s, ada.ID, "job", "Works at Google", 0.6, nil)

	outcome, err := p.commitFact(context.Background(), ada.ID, extract.ExtractedFact{
		FactType: "job", Value: "works at google", Confidence: 0.9,
	})
	if err != nil {
		t.Fatalf("commitFact: %v", err)
	}
	if outcome != FactDuplicate {
		t.Fatalf("outcome = %s, want duplicate", outcome)
	}
	if em.callCount() != 0 {
		t.Errorf("embedder called %d times on an exact match, want 0", em.callCount())
	}

	facts, err := s.FactsByType(context.Background(), ada.ID, "job")
	if err != nil {
		t.Fatalf("FactsByType: %v", err)
	}
	if len(facts) != 1 {
		t.Fatalf("%d facts stored, want 1", len(facts))
	}
	if facts[0].Confidence != 0.9 {
		t.Errorf("confidence = %v, want raised to 0.9", facts[0].Confidence)
	}

	// A weaker re-sighting must not lower the stored confidence.
	if _, err := p.commitFact(context.Background(), ada.ID, extract.ExtractedFact{
		FactType: "job", Value: "Works at Google", Confidence: 0.4,
	}); err != nil {
		t.Fatalf("second commitFact: %v", err)
	}
	f, err := s.GetFact(context.Background(), id)
	if err != nil {
		t.Fatalf("GetFact: %v", err)
	}
	if f.Confidence != 0.9 {
		t.Errorf("confidence after weaker sighting = %v, want 0.9", f.Confidence)
	}
}

func TestCommitFactNearDuplicate(t *testing.T) {
	em := &fakeEmbedder{vectors: map[string][]float32{
		"lives in Berlin, Germany": vecNearEast,
	}}
	p, s := newTestPipeline(t, &fakeExtractor{}, em, dedupConfig())
	ada := seedContact(t, s, "Ada Lovelace")
	seedFact(t, s, ada.ID, "location", "lives in Berlin", 0.6, vecEast)

	outcome, err := p.commitFact(context.Background(), ada.ID, extract.ExtractedFact{
		FactType: "location", Value: "lives in Berlin, Germany", Confidence: 0.9,
	})
	if err != nil {
		t.Fatalf("commitFact: %v", err)
	}
	if outcome != FactDuplicate {
		t.Fatalf("outcome = %s, want duplicate", outcome)
	}

	facts, err := s.FactsByType(context.Background(), ada.ID, "location")
	if err != nil {
		t.Fatalf("FactsByType: %v", err)
	}
	if len(facts) != 1 {
		t.Fatalf("%d facts stored, want 1", len(facts))
	}
	if facts[0].Value != "lives in Berlin" {
		t.Errorf("surviving value = %q, want the original", facts[0].Value)
	}
	if facts[0].Confidence != 0.9 {
		t.Errorf("confidence = %v, want raised to 0.9", facts[0].Confidence)
	}
}

func TestCommitFactInsertsAndFlagsConflict(t *testing.T) {
	em := &fakeEmbedder{vectors: map[string][]float32{
		"works remotely from Bali": vecNorth,
	}}
	p, s := newTestPipeline(t, &fakeExtractor{}, em, dedupConfig())
	ada := seedContact(t, s, "Ada Lovelace")
	seedFact(t, s, ada.ID, "location", "lives in Berlin", 0.6, vecEast)

	outcome, err := p.commitFact(context.Background(), ada.ID, extract.ExtractedFact{
		FactType: "location", Value: "works remotely from Bali", Confidence: 0.7,
	})
	if err != nil {
		t.Fatalf("commitFact: %v", err)
	}
	if outcome != FactInserted {
		t.Fatalf("outcome = %s, want inserted: similarity is far below threshold", outcome)
	}

	facts, err := s.FactsByType(context.Background(), ada.ID, "location")
	if err != nil {
		t.Fatalf("FactsByType: %v", err)
	}
	if len(facts) != 2 {
		t.Fatalf("%d live facts, want 2", len(facts))
	}
	for _, f := range facts {
		if !f.HasConflict {
			t.Errorf("fact %q not flagged despite two live values", f.Value)
		}
	}
}

func TestCommitFactSupersedes(t *testing.T) {
	em := &fakeEmbedder{vectors: map[string][]float32{
		"moved to Munich": vecNorth,
	}}
	p, s := newTestPipeline(t, &fakeExtractor{}, em, dedupConfig())
	ada := seedContact(t, s, "Ada Lovelace")
	oldID := seedFact(t, s, ada.ID, "location", "lives in Berlin", 0.6, vecEast)

	outcome, err := p.commitFact(context.Background(), ada.ID, extract.ExtractedFact{
		FactType: "location", Value: "moved to Munich", Confidence: 0.95,
	})
	if err != nil {
		t.Fatalf("commitFact: %v", err)
	}
	if outcome != FactSuperseded {
		t.Fatalf("outcome = %s, want superseded", outcome)
	}

	live, err := s.FactsByType(context.Background(), ada.ID, "location")
	if err != nil {
		t.Fatalf("FactsByType: %v", err)
	}
	if len(live) != 1 || live[0].Value != "moved to Munich" {
		t.Fatalf("live facts = %+v, want only the new value", live)
	}
	if live[0].HasConflict {
		t.Error("winner flagged as conflicted after the loser was retired")
	}

	old, err := s.GetFact(context.Background(), oldID)
	if err != nil {
		t.Fatalf("GetFact: %v", err)
	}
	if old.DeletedAt == nil {
		t.Fatal("superseded fact not tombstoned")
	}
	if old.SupersededBy == nil || *old.SupersededBy != live[0].ID {
		t.Errorf("SupersededBy = %v, want %d", old.SupersededBy, live[0].ID)
	}
}

func TestCommitFactTimidCandidateCoexists(t *testing.T) {
	em := &fakeEmbedder{vectors: map[string][]float32{
		"moved to Munich": vecNorth,
	}}
	p, s := newTestPipeline(t, &fakeExtractor{}, em, dedupConfig())
	ada := seedContact(t, s, "Ada Lovelace")
	seedFact(t, s, ada.ID, "location", "lives in Berlin", 0.6, vecEast)

	// Below the supersede bar: both values stay live and conflicted.
	outcome, err := p.commitFact(context.Background(), ada.ID, extract.ExtractedFact{
		FactType: "location", Value: "moved to Munich", Confidence: 0.8,
	})
	if err != nil {
		t.Fatalf("commitFact: %v", err)
	}
	if outcome != FactInserted {
		t.Fatalf("outcome = %s, want inserted", outcome)
	}

	live, err := s.FactsByType(context.Background(), ada.ID, "location")
	if err != nil {
		t.Fatalf("FactsByType: %v", err)
	}
	if len(live) != 2 {
		t.Fatalf("%d live facts, want 2", len(live))
	}
}

func TestCommitFactDoesNotOutrankStrongerExisting(t *testing.T) {
	em := &fakeEmbedder{vectors: map[string][]float32{
		"moved to Munich": vecNorth,
	}}
	p, s := newTestPipeline(t, &fakeExtractor{}, em, dedupConfig())
	ada := seedContact(t, s, "Ada Lovelace")
	oldID := seedFact(t, s, ada.ID, "location", "lives in Berlin", 0.97, vecEast)

	// Confident enough for the bar, but weaker than the incumbent.
	outcome, err := p.commitFact(context.Background(), ada.ID, extract.ExtractedFact{
		FactType: "location", Value: "moved to Munich", Confidence: 0.92,
	})
	if err != nil {
		t.Fatalf("commitFact: %v", err)
	}
	if outcome != FactInserted {
		t.Fatalf("outcome = %s, want inserted", outcome)
	}

	old, err := s.GetFact(context.Background(), oldID)
	if err != nil {
		t.Fatalf("GetFact: %v", err)
	}
	if old.DeletedAt != nil {
		t.Error("stronger incumbent was tombstoned by a weaker candidate")
	}
}

func TestCommitFactEmbedFailOpen(t *testing.T) {
	em := &fakeEmbedder{err: errors.New("embedding service down")}
	p, s := newTestPipeline(t, &fakeExtractor{}, em, dedupConfig())
	ada := seedContact(t, s, "Ada Lovelace")
	seedFact(t, s, ada.ID, "location", "lives in Berlin", 0.9, vecEast)

	outcome, err := p.commitFact(context.Background(), ada.ID, extract.ExtractedFact{
		FactType: "location", Value: "somewhere in Bavaria now", Confidence: 0.95,
	})
	if err != nil {
		t.Fatalf("commitFact must not fail on embedding errors: %v", err)
	}
	if outcome != FactInserted {
		t.Fatalf("outcome = %s, want inserted without dedup", outcome)
	}

	live, err := s.FactsByType(context.Background(), ada.ID, "location")
	if err != nil {
		t.Fatalf("FactsByType: %v", err)
	}
	if len(live) != 2 {
		t.Fatalf("%d live facts, want 2: no supersede without a vector", len(live))
	}
	for _, f := range live {
		if !f.HasConflict {
			t.Errorf("fact %q not flagged; conflict tracking must survive embedding outages", f.Value)
		}
	}

	inserted := live[1]
	vec, err := s.FactEmbedding(context.Background(), inserted.ID)
	if err != nil {
		t.Fatalf("FactEmbedding: %v", err)
	}
	if vec != nil {
		t.Error("a vector was stored despite the embedding failure")
	}
}
