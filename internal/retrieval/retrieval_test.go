package retrieval

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atheneum-ai/atheneum/internal/credential"
	"github.com/atheneum-ai/atheneum/internal/store"
)

type fakeGateway struct {
	queryVec    []float32
	rerank      []float64
	rerankCalls int
}

func (f *fakeGateway) Embed(_ context.Context, _ credential.Credential, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = f.queryVec
	}
	return out, nil
}

func (f *fakeGateway) Rerank(_ context.Context, _ credential.Credential, _ string, candidates []string) ([]float64, error) {
	f.rerankCalls++
	if f.rerank != nil {
		return f.rerank, nil
	}
	return make([]float64, len(candidates)), nil
}

type fakeCreds struct{}

func (fakeCreds) Embedding(context.Context, int64) (credential.Credential, error) {
	return credential.Credential{APIKey: "k"}, nil
}

func (fakeCreds) Rerank(context.Context, int64) (credential.Credential, error) {
	return credential.Credential{APIKey: "k"}, nil
}

type fakeChunks struct {
	chunks      []store.Chunk
	lastOwnerID int64
}

func (f *fakeChunks) ChunkCandidates(_ context.Context, ownerID int64, _, _ []int64) ([]store.Chunk, error) {
	f.lastOwnerID = ownerID
	return f.chunks, nil
}

type fakeTemps struct {
	files []store.TempFile
}

func (f *fakeTemps) TempFilesForConversation(context.Context, int64) ([]store.TempFile, error) {
	return f.files, nil
}

func axisChunk(id int64, x, y float32) store.Chunk {
	return store.Chunk{ID: id, DocumentID: id, ChunkIndex: 0, Text: fmt.Sprintf("chunk %d", id), Embedding: []float32{x, y}}
}

func TestSearchZeroQueryVectorReturnsDiagnostic(t *testing.T) {
	gw := &fakeGateway{queryVec: []float32{0, 0}}
	e := New(gw, fakeCreds{}, &fakeChunks{}, nil)
	res, err := e.Search(context.Background(), 1, "q", Scope{KBIDs: []int64{1}})
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
	assert.Equal(t, ReasonNoEmbedding, res.Reason)
}

func TestSearchFewHitsSkipsRerank(t *testing.T) {
	gw := &fakeGateway{queryVec: []float32{1, 0}}
	chunks := &fakeChunks{chunks: []store.Chunk{
		axisChunk(1, 1, 0),
		axisChunk(2, 0.5, 0.5),
	}}
	e := New(gw, fakeCreds{}, chunks, nil)
	res, err := e.Search(context.Background(), 1, "q", Scope{KBIDs: []int64{1}})
	require.NoError(t, err)
	require.Len(t, res.Hits, 2)
	assert.Equal(t, int64(1), res.Hits[0].Chunk.ID)
	assert.Zero(t, gw.rerankCalls)
}

func TestSearchKBScopeDropsOwnerPredicate(t *testing.T) {
	gw := &fakeGateway{queryVec: []float32{1, 0}}
	foreign := axisChunk(1, 1, 0)
	foreign.OwnerID = 99
	chunks := &fakeChunks{chunks: []store.Chunk{foreign}}
	e := New(gw, fakeCreds{}, chunks, nil)
	res, err := e.Search(context.Background(), 1, "q", Scope{OwnerID: 1, KBIDs: []int64{3}})
	require.NoError(t, err)
	assert.Zero(t, chunks.lastOwnerID)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, int64(99), res.Hits[0].Chunk.OwnerID)
}

func TestSearchDocumentScopeKeepsOwnerPredicate(t *testing.T) {
	gw := &fakeGateway{queryVec: []float32{1, 0}}
	chunks := &fakeChunks{chunks: []store.Chunk{axisChunk(1, 1, 0)}}
	e := New(gw, fakeCreds{}, chunks, nil)
	_, err := e.Search(context.Background(), 1, "q", Scope{OwnerID: 1, DocumentIDs: []int64{2}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), chunks.lastOwnerID)
}

func manyChunks(n int) []store.Chunk {
	out := make([]store.Chunk, n)
	for i := range out {
		// Increasing alignment with the x axis.
		out[i] = axisChunk(int64(i+1), float32(i+1), float32(n-i))
	}
	return out
}

func TestSearchRerankReordersResults(t *testing.T) {
	gw := &fakeGateway{queryVec: []float32{1, 0}}
	chunks := &fakeChunks{chunks: manyChunks(10)}
	// Reranker inverts the similarity order.
	gw.rerank = make([]float64, 10)
	for i := range gw.rerank {
		gw.rerank[i] = float64(i + 1)
	}
	e := New(gw, fakeCreds{}, chunks, nil)
	res, err := e.Search(context.Background(), 1, "q", Scope{KBIDs: []int64{1}})
	require.NoError(t, err)
	require.Len(t, res.Hits, KFinal)
	assert.Equal(t, 1, gw.rerankCalls)
	// The last similarity candidate got the highest rerank score.
	assert.Equal(t, float64(10), res.Hits[0].Score)
	assert.Greater(t, res.Hits[0].Score, res.Hits[1].Score)
}

func TestSearchExactlyFinalCountStillReranks(t *testing.T) {
	gw := &fakeGateway{queryVec: []float32{1, 0}}
	chunks := &fakeChunks{chunks: manyChunks(KFinal)}
	gw.rerank = []float64{1, 2, 3, 4, 5}
	e := New(gw, fakeCreds{}, chunks, nil)
	res, err := e.Search(context.Background(), 1, "q", Scope{KBIDs: []int64{1}})
	require.NoError(t, err)
	require.Len(t, res.Hits, KFinal)
	assert.Equal(t, 1, gw.rerankCalls)
	assert.Equal(t, float64(5), res.Hits[0].Score)
}

func TestSearchAllZeroRerankFallsBackToSimilarity(t *testing.T) {
	gw := &fakeGateway{queryVec: []float32{1, 0}}
	chunks := &fakeChunks{chunks: manyChunks(10)}
	e := New(gw, fakeCreds{}, chunks, nil)
	res, err := e.Search(context.Background(), 1, "q", Scope{KBIDs: []int64{1}})
	require.NoError(t, err)
	require.Len(t, res.Hits, KFinal)
	assert.Equal(t, 1, gw.rerankCalls)
	// Similarity order: chunk 10 is most x-aligned.
	assert.Equal(t, int64(10), res.Hits[0].Chunk.ID)
	assert.GreaterOrEqual(t, res.Hits[0].Score, res.Hits[1].Score)
}

func TestSearchIncludesCompletedTempFiles(t *testing.T) {
	gw := &fakeGateway{queryVec: []float32{1, 0}}
	temps := &fakeTemps{files: []store.TempFile{
		{ID: 7, Status: store.StatusCompleted, ExtractedText: "attachment", Embedding: []float32{1, 0}},
		{ID: 8, Status: store.StatusFailed, ExtractedText: "ignored", Embedding: []float32{1, 0}},
		{ID: 9, Status: store.StatusCompleted, ExtractedText: "", Embedding: []float32{1, 0}},
	}}
	e := New(gw, fakeCreds{}, &fakeChunks{}, temps)
	res, err := e.Search(context.Background(), 1, "q", Scope{ConversationID: 4})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, int64(7), res.Hits[0].Chunk.ID)
	assert.Equal(t, "attachment", res.Hits[0].Chunk.Text)
}

func TestSearchEmptyScopeReturnsNothing(t *testing.T) {
	gw := &fakeGateway{queryVec: []float32{1, 0}}
	e := New(gw, fakeCreds{}, &fakeChunks{chunks: manyChunks(3)}, nil)
	res, err := e.Search(context.Background(), 1, "q", Scope{})
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
	assert.Empty(t, res.Reason)
}
