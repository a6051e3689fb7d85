package index

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atheneum-ai/atheneum/internal/store"
)

func chunk(docID int64, idx int, emb ...float32) store.Chunk {
	return store.Chunk{ID: docID*100 + int64(idx), DocumentID: docID, ChunkIndex: idx, Embedding: emb}
}

func TestCosineBasics(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-3, 0}), 1e-9)
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 1}))
	assert.Zero(t, Cosine([]float32{1}, []float32{1, 2}))
}

func TestTopKOrdersByScore(t *testing.T) {
	query := []float32{1, 0}
	candidates := []store.Chunk{
		chunk(1, 0, 0, 1),
		chunk(1, 1, 1, 0.1),
		chunk(2, 0, 1, 0),
	}
	got := TopK(query, candidates, 2)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].Chunk.DocumentID)
	assert.Equal(t, int64(1), got[1].Chunk.DocumentID)
	assert.Equal(t, 1, got[1].Chunk.ChunkIndex)
}

func TestTopKFiltersZeroVectors(t *testing.T) {
	query := []float32{1, 0}
	candidates := []store.Chunk{
		chunk(1, 0, 0, 0),
		chunk(1, 1, 1, 0),
	}
	got := TopK(query, candidates, 10)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Chunk.ChunkIndex)
}

func TestTopKTieBreak(t *testing.T) {
	query := []float32{1, 0}
	candidates := []store.Chunk{
		chunk(7, 3, 1, 0),
		chunk(2, 1, 1, 0),
		chunk(5, 1, 1, 0),
	}
	got := TopK(query, candidates, 3)
	require.Len(t, got, 3)
	assert.Equal(t, int64(2), got[0].Chunk.DocumentID)
	assert.Equal(t, int64(5), got[1].Chunk.DocumentID)
	assert.Equal(t, int64(7), got[2].Chunk.DocumentID)
}

func genVector(dim int) gopter.Gen {
	return gen.SliceOfN(dim, gen.Float32Range(-10, 10))
}

func TestCosineProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("similarity is bounded", prop.ForAll(
		func(a, b []float32) bool {
			s := Cosine(a, b)
			return s >= -1.0000001 && s <= 1.0000001
		},
		genVector(8), genVector(8),
	))

	properties.Property("similarity is symmetric", prop.ForAll(
		func(a, b []float32) bool {
			return math.Abs(Cosine(a, b)-Cosine(b, a)) < 1e-9
		},
		genVector(8), genVector(8),
	))

	properties.Property("invariant under renormalisation", prop.ForAll(
		func(a, b []float32) bool {
			before := Cosine(a, b)
			na := Normalize(append([]float32(nil), a...))
			after := Cosine(na, b)
			return math.Abs(before-after) < 1e-5
		},
		genVector(8), genVector(8),
	))

	properties.TestingRun(t)
}

func TestTopKStableUnderRenormalisation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("ranking unchanged when query is normalized", prop.ForAll(
		func(q []float32, vecs [][]float32) bool {
			candidates := make([]store.Chunk, len(vecs))
			for i, v := range vecs {
				candidates[i] = chunk(int64(i+1), i, v...)
			}
			before := TopK(q, candidates, 5)
			after := TopK(Normalize(append([]float32(nil), q...)), candidates, 5)
			if len(before) != len(after) {
				return false
			}
			for i := range before {
				if before[i].Chunk.ID != after[i].Chunk.ID {
					return false
				}
			}
			return true
		},
		genVector(4), gen.SliceOf(genVector(4)),
	))

	properties.TestingRun(t)
}
