package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// SaveFactEmbedding stores the embedding vector for a fact.
// Replaces any existing vector for the same fact_id.
func (s *SQLiteStore) SaveFactEmbedding(ctx context.Context, factID int64, vector []float32, model string) error {
	if len(vector) == 0 {
		return fmt.Errorf("embedding vector cannot be empty")
	}
	blob := float32ToBytes(vector)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fact_embeddings (fact_id, vector, dimensions, model, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(fact_id) DO UPDATE SET vector = excluded.vector, dimensions = excluded.dimensions, model = excluded.model`,
		factID, blob, len(vector), model, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("storing embedding for fact %d: %w", factID, err)
	}
	return nil
}

// FactEmbedding retrieves the stored vector for a fact. Returns nil if the
// fact has no embedding.
func (s *SQLiteStore) FactEmbedding(ctx context.Context, factID int64) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT vector FROM fact_embeddings WHERE fact_id = ?", factID,
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting embedding for fact %d: %w", factID, err)
	}
	return bytesToFloat32(blob), nil
}

// NearestFact finds the live fact of the same (contact, fact_type) group
// whose stored vector is closest to the candidate by cosine similarity.
// Facts without stored vectors are invisible here. Returns nil when the
// group has no embedded facts. Brute force: groups are small.
func (s *SQLiteStore) NearestFact(ctx context.Context, contactID int64, factType string, vector []float32) (*FactMatch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.vector,
		        f.id, f.contact_id, f.fact_type, f.value, f.structured_value, f.source,
		        f.confidence, f.has_conflict, f.superseded_by, f.deleted_at, f.created_at, f.updated_at
		 FROM fact_embeddings e
		 JOIN facts f ON e.fact_id = f.id
		 WHERE f.contact_id = ? AND f.fact_type = ? AND f.deleted_at IS NULL`,
		contactID, factType,
	)
	if err != nil {
		return nil, fmt.Errorf("querying fact embeddings: %w", err)
	}
	defer rows.Close()

	var best *FactMatch
	for rows.Next() {
		var blob []byte
		f := &Fact{}
		if err := rows.Scan(&blob, &f.ID, &f.ContactID, &f.FactType, &f.Value,
			&f.StructuredValue, &f.Source, &f.Confidence, &f.HasConflict,
			&f.SupersededBy, &f.DeletedAt, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning fact embedding row: %w", err)
		}

		sim := cosineSimilarity(vector, bytesToFloat32(blob))
		if best == nil || sim > best.Similarity {
			best = &FactMatch{Fact: f, Similarity: sim}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return best, nil
}

// cosineSimilarity computes cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// float32ToBytes converts a float32 slice to a byte slice (little-endian).
func float32ToBytes(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// bytesToFloat32 converts a byte slice back to float32 slice (little-endian).
func bytesToFloat32(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
