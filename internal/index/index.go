// Package index scores chunk candidates against a query embedding. Storage
// and filtering live in the store layer; this package owns the similarity
// math and the stable ordering of results.
package index

import (
	"math"
	"sort"

	"github.com/atheneum-ai/atheneum/internal/provider"
	"github.com/atheneum-ai/atheneum/internal/store"
)

// Scored pairs a chunk with its cosine similarity to the query.
type Scored struct {
	Chunk store.Chunk
	Score float64
}

// Cosine returns the cosine similarity of a and b, or 0 when either vector
// has zero magnitude or the dimensions differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Normalize scales v to unit length in place and returns it. The zero vector
// is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}

// TopK scores candidates against query and returns the k best, descending by
// similarity. Zero-vector candidates are skipped. Ties break by chunk_index
// ascending, then document_id ascending, so repeated queries over the same
// corpus return a stable order.
func TopK(query []float32, candidates []store.Chunk, k int) []Scored {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	scored := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		if provider.IsZeroVector(c.Embedding) {
			continue
		}
		scored = append(scored, Scored{Chunk: c, Score: Cosine(query, c.Embedding)})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].Chunk.ChunkIndex != scored[j].Chunk.ChunkIndex {
			return scored[i].Chunk.ChunkIndex < scored[j].Chunk.ChunkIndex
		}
		return scored[i].Chunk.DocumentID < scored[j].Chunk.DocumentID
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}
