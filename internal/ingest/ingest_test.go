package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atheneum-ai/atheneum/internal/credential"
	"github.com/atheneum-ai/atheneum/internal/store"
)

type fakeBlob struct {
	objects map[string][]byte
	deleted []string
}

func (f *fakeBlob) Download(_ context.Context, key string) ([]byte, error) {
	return f.objects[key], nil
}

func (f *fakeBlob) Delete(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

type fakeDocs struct {
	doc      store.Document
	statuses []string
	messages []string
	chunks   []store.Chunk
	total    int
}

func (f *fakeDocs) GetDocument(context.Context, int64) (*store.Document, error) {
	d := f.doc
	return &d, nil
}

func (f *fakeDocs) SetDocumentStatus(_ context.Context, _ int64, status, message string) error {
	f.statuses = append(f.statuses, status)
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeDocs) CompleteDocument(_ context.Context, _ int64, totalChunks int) error {
	f.statuses = append(f.statuses, store.StatusCompleted)
	f.total = totalChunks
	return nil
}

func (f *fakeDocs) DeleteChunks(context.Context, int64) error {
	f.chunks = nil
	return nil
}

func (f *fakeDocs) InsertChunks(_ context.Context, chunks []store.Chunk) error {
	f.chunks = append(f.chunks, chunks...)
	return nil
}

type fakeTemps struct {
	file     store.TempFile
	statuses []string
	messages []string
	text     string
	vector   []float32
}

func (f *fakeTemps) GetTempFile(context.Context, int64) (*store.TempFile, error) {
	t := f.file
	return &t, nil
}

func (f *fakeTemps) SetTempFileStatus(_ context.Context, _ int64, status, message string) error {
	f.statuses = append(f.statuses, status)
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeTemps) CompleteTempFile(_ context.Context, _ int64, text string, embedding []float32) error {
	f.statuses = append(f.statuses, store.StatusCompleted)
	f.text = text
	f.vector = embedding
	return nil
}

type fakeEmbedder struct {
	dim  int
	err  error
	miss bool // return one vector short
}

func (f *fakeEmbedder) Embed(_ context.Context, _ credential.Credential, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	n := len(texts)
	if f.miss && n > 0 {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, f.dim)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}

type fakeCreds struct{}

func (fakeCreds) Embedding(context.Context, int64) (credential.Credential, error) {
	return credential.Credential{ProviderType: credential.ProviderSiliconFlow, APIKey: "k", ModelID: "m"}, nil
}

func newTestPipeline(blob *fakeBlob, docs *fakeDocs, temps *fakeTemps, emb Embedder) *Pipeline {
	return New(Options{
		Blob:        blob,
		Documents:   docs,
		TempFiles:   temps,
		Embedder:    emb,
		Credentials: fakeCreds{},
	})
}

func TestProcessDocumentCompletes(t *testing.T) {
	blob := &fakeBlob{objects: map[string][]byte{"k1": []byte("Some document content that will be indexed.")}}
	docs := &fakeDocs{doc: store.Document{ID: 1, KBID: 2, OwnerID: 3, BlobKey: "k1", MIME: "text/plain"}}
	p := newTestPipeline(blob, docs, nil, &fakeEmbedder{dim: 4})

	require.NoError(t, p.ProcessDocument(context.Background(), 1))

	require.NotEmpty(t, docs.statuses)
	assert.Equal(t, store.StatusProcessing, docs.statuses[0])
	assert.Equal(t, "downloading", docs.messages[0])
	assert.Equal(t, store.StatusCompleted, docs.statuses[len(docs.statuses)-1])
	require.Len(t, docs.chunks, docs.total)
	for i, c := range docs.chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, int64(3), c.OwnerID)
		assert.Equal(t, int64(2), c.KBID)
		assert.NotEmpty(t, c.Embedding)
	}
}

func TestProcessDocumentUnsupportedMIME(t *testing.T) {
	blob := &fakeBlob{objects: map[string][]byte{"k1": []byte("binary")}}
	docs := &fakeDocs{doc: store.Document{ID: 1, BlobKey: "k1", MIME: "application/octet-stream"}}
	p := newTestPipeline(blob, docs, nil, &fakeEmbedder{dim: 4})

	require.NoError(t, p.ProcessDocument(context.Background(), 1))
	assert.Equal(t, store.StatusFailed, docs.statuses[len(docs.statuses)-1])
	assert.Equal(t, ReasonUnsupported, docs.messages[len(docs.messages)-1])
	assert.Empty(t, docs.chunks)
}

func TestProcessDocumentEmptyContent(t *testing.T) {
	blob := &fakeBlob{objects: map[string][]byte{"k1": []byte("   \n ")}}
	docs := &fakeDocs{doc: store.Document{ID: 1, BlobKey: "k1", MIME: "text/plain"}}
	p := newTestPipeline(blob, docs, nil, &fakeEmbedder{dim: 4})

	require.NoError(t, p.ProcessDocument(context.Background(), 1))
	assert.Equal(t, store.StatusFailed, docs.statuses[len(docs.statuses)-1])
	assert.Equal(t, ReasonEmptyContent, docs.messages[len(docs.messages)-1])
}

func TestProcessDocumentEmbeddingCountMismatch(t *testing.T) {
	blob := &fakeBlob{objects: map[string][]byte{"k1": []byte("First paragraph.\n\nSecond paragraph.")}}
	docs := &fakeDocs{doc: store.Document{ID: 1, BlobKey: "k1", MIME: "text/plain"}}
	p := newTestPipeline(blob, docs, nil, &fakeEmbedder{dim: 4, miss: true})

	require.NoError(t, p.ProcessDocument(context.Background(), 1))
	assert.Equal(t, store.StatusFailed, docs.statuses[len(docs.statuses)-1])
	assert.Equal(t, ReasonEmbedMismatch, docs.messages[len(docs.messages)-1])
	assert.Empty(t, docs.chunks)
}

func TestProcessDocumentIsIdempotent(t *testing.T) {
	blob := &fakeBlob{objects: map[string][]byte{"k1": []byte("Stable content for retries.")}}
	docs := &fakeDocs{doc: store.Document{ID: 1, BlobKey: "k1", MIME: "text/plain"}}
	p := newTestPipeline(blob, docs, nil, &fakeEmbedder{dim: 4})

	require.NoError(t, p.ProcessDocument(context.Background(), 1))
	first := len(docs.chunks)
	require.NoError(t, p.ProcessDocument(context.Background(), 1))
	assert.Equal(t, first, len(docs.chunks))
}

func TestProcessTempFileCompletes(t *testing.T) {
	blob := &fakeBlob{objects: map[string][]byte{"t1": []byte("Attachment text body.")}}
	temps := &fakeTemps{file: store.TempFile{ID: 9, ConversationID: 4, BlobKey: "t1", MIME: "text/plain"}}
	p := newTestPipeline(blob, nil, temps, &fakeEmbedder{dim: 4})

	require.NoError(t, p.ProcessTempFile(context.Background(), 9, 3))
	assert.Equal(t, store.StatusCompleted, temps.statuses[len(temps.statuses)-1])
	assert.Equal(t, "Attachment text body.", temps.text)
	assert.Len(t, temps.vector, 4)
}

func TestProcessTempFileUnsupported(t *testing.T) {
	blob := &fakeBlob{objects: map[string][]byte{"t1": {0x1}}}
	temps := &fakeTemps{file: store.TempFile{ID: 9, BlobKey: "t1", MIME: "video/mp4"}}
	p := newTestPipeline(blob, nil, temps, &fakeEmbedder{dim: 4})

	require.NoError(t, p.ProcessTempFile(context.Background(), 9, 3))
	assert.Equal(t, store.StatusFailed, temps.statuses[len(temps.statuses)-1])
	assert.Equal(t, ReasonUnsupported, temps.messages[len(temps.messages)-1])
}

func TestSubmitRunsOnPool(t *testing.T) {
	blob := &fakeBlob{objects: map[string][]byte{"k1": []byte("Pooled content.")}}
	docs := &fakeDocs{doc: store.Document{ID: 1, BlobKey: "k1", MIME: "text/plain"}}
	p := newTestPipeline(blob, docs, nil, &fakeEmbedder{dim: 4})

	p.SubmitDocument(context.Background(), 1)
	p.Wait()
	assert.Equal(t, store.StatusCompleted, docs.statuses[len(docs.statuses)-1])
}
