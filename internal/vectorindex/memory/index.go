// Package memory is a brute-force in-process vector index for local runs and
// tests.
package memory

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"

	"github.com/JakeFAU/synthesis-engine/internal/engine"
)

// Index keeps vectors in a map and scans them on query.
type Index struct {
	mu      sync.RWMutex
	records map[string]engine.EmbeddingRecord
}

// New returns an empty Index.
func New() *Index {
	return &Index{records: make(map[string]engine.EmbeddingRecord)}
}

// Upsert implements engine.VectorIndex.
func (x *Index) Upsert(_ context.Context, rec engine.EmbeddingRecord) error {
	if rec.ID == "" {
		return errors.New("embedding id is required")
	}
	vec := make([]float32, len(rec.Vector))
	copy(vec, rec.Vector)
	rec.Vector = vec
	x.mu.Lock()
	x.records[rec.ID] = rec
	x.mu.Unlock()
	return nil
}

// Query implements engine.VectorIndex using cosine distance.
func (x *Index) Query(_ context.Context, vector []float32, topK int) ([]engine.VectorMatch, error) {
	x.mu.RLock()
	matches := make([]engine.VectorMatch, 0, len(x.records))
	for id, rec := range x.records {
		if len(rec.Vector) != len(vector) {
			continue
		}
		matches = append(matches, engine.VectorMatch{ID: id, Distance: 1 - cosine(vector, rec.Vector)})
	}
	x.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance == matches[j].Distance {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Distance < matches[j].Distance
	})
	if topK >= 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Len returns the number of stored vectors.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.records)
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
