// Package ingest runs the document ingestion pipeline: download the blob,
// extract text, chunk, embed with the owner's credential and index the
// chunks. Every artifact walks the pending, processing, completed/failed
// state machine and failures always land in failed with a reason, never in a
// silent hang.
package ingest

import (
	"context"
	"fmt"

	"goa.design/clue/log"
	"golang.org/x/sync/errgroup"

	"github.com/atheneum-ai/atheneum/internal/chunk"
	"github.com/atheneum-ai/atheneum/internal/credential"
	"github.com/atheneum-ai/atheneum/internal/errs"
	"github.com/atheneum-ai/atheneum/internal/extract"
	"github.com/atheneum-ai/atheneum/internal/store"
)

// Failure reasons written to status_message.
const (
	ReasonUnsupported   = "unsupported content"
	ReasonEmptyContent  = "empty content"
	ReasonChunkFailed   = "chunk failed"
	ReasonEmbedMismatch = "embedding count mismatch"
)

// Blob is the slice of the blob store the pipeline needs.
type Blob interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Documents is the slice of the knowledge store the pipeline needs.
type Documents interface {
	GetDocument(ctx context.Context, id int64) (*store.Document, error)
	SetDocumentStatus(ctx context.Context, id int64, status, message string) error
	CompleteDocument(ctx context.Context, id int64, totalChunks int) error
	DeleteChunks(ctx context.Context, documentID int64) error
	InsertChunks(ctx context.Context, chunks []store.Chunk) error
}

// TempFiles is the slice of the conversation store the pipeline needs.
type TempFiles interface {
	GetTempFile(ctx context.Context, id int64) (*store.TempFile, error)
	SetTempFileStatus(ctx context.Context, id int64, status, message string) error
	CompleteTempFile(ctx context.Context, id int64, text string, embedding []float32) error
}

// Embedder abstracts the provider gateway's embedding capability.
type Embedder interface {
	Embed(ctx context.Context, cred credential.Credential, texts []string) ([][]float32, error)
}

// Credentials resolves the embedding credential of an owner.
type Credentials interface {
	Embedding(ctx context.Context, userID int64) (credential.Credential, error)
}

// Options configures a Pipeline.
type Options struct {
	Blob        Blob
	Documents   Documents
	TempFiles   TempFiles
	Embedder    Embedder
	Credentials Credentials
	Splitter    *chunk.Splitter
	// Workers bounds concurrent ingestions. Zero means 4.
	Workers int
}

// Pipeline ingests documents and temporary files off the request path.
type Pipeline struct {
	blob     Blob
	docs     Documents
	temps    TempFiles
	embedder Embedder
	creds    Credentials
	splitter *chunk.Splitter
	group    *errgroup.Group
}

// New builds a Pipeline with a bounded worker group.
func New(opts Options) *Pipeline {
	if opts.Splitter == nil {
		opts.Splitter = chunk.New()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	g := &errgroup.Group{}
	g.SetLimit(opts.Workers)
	return &Pipeline{
		blob:     opts.Blob,
		docs:     opts.Documents,
		temps:    opts.TempFiles,
		embedder: opts.Embedder,
		creds:    opts.Credentials,
		splitter: opts.Splitter,
		group:    g,
	}
}

// SubmitDocument schedules a document ingestion on the worker pool. ctx must
// outlive the request; callers pass the server's base context.
func (p *Pipeline) SubmitDocument(ctx context.Context, documentID int64) {
	p.group.Go(func() error {
		if err := p.ProcessDocument(ctx, documentID); err != nil {
			log.Errorf(ctx, err, "ingest: document %d", documentID)
		}
		return nil
	})
}

// SubmitTempFile schedules a temporary-file ingestion on the worker pool.
func (p *Pipeline) SubmitTempFile(ctx context.Context, tempFileID, ownerID int64) {
	p.group.Go(func() error {
		if err := p.ProcessTempFile(ctx, tempFileID, ownerID); err != nil {
			log.Errorf(ctx, err, "ingest: temp file %d", tempFileID)
		}
		return nil
	})
}

// Wait blocks until all submitted ingestions finish. Used at shutdown.
func (p *Pipeline) Wait() { _ = p.group.Wait() }

// ProcessDocument runs the full pipeline for one document. It is idempotent:
// re-running replaces the document's chunks rather than duplicating them.
func (p *Pipeline) ProcessDocument(ctx context.Context, documentID int64) error {
	doc, err := p.docs.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if err := p.docs.SetDocumentStatus(ctx, doc.ID, store.StatusProcessing, "downloading"); err != nil {
		return err
	}
	fail := func(reason string) error {
		if serr := p.docs.SetDocumentStatus(ctx, doc.ID, store.StatusFailed, reason); serr != nil {
			return serr
		}
		log.Printf(ctx, "ingest: document %d failed: %s", doc.ID, reason)
		return nil
	}

	if !extract.Supported(doc.MIME) {
		return fail(ReasonUnsupported)
	}
	data, err := p.blob.Download(ctx, doc.BlobKey)
	if err != nil {
		return fail(fmt.Sprintf("download: %v", err))
	}
	text := extract.Text(data, doc.MIME)
	if text == "" {
		return fail(ReasonEmptyContent)
	}
	pieces := p.splitter.Split(text)
	if len(pieces) == 0 {
		return fail(ReasonChunkFailed)
	}
	if err := p.docs.SetDocumentStatus(ctx, doc.ID, store.StatusProcessing, "embedding"); err != nil {
		return err
	}
	cred, err := p.creds.Embedding(ctx, doc.OwnerID)
	if err != nil {
		return fail(fmt.Sprintf("credential: %v", err))
	}
	vectors, err := p.embedder.Embed(ctx, cred, pieces)
	if err != nil {
		if errs.Is(err, errs.KindProviderFatal) {
			return fail(ReasonEmbedMismatch)
		}
		return fail(fmt.Sprintf("embedding: %v", err))
	}
	if len(vectors) != len(pieces) {
		return fail(ReasonEmbedMismatch)
	}

	chunks := make([]store.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = store.Chunk{
			DocumentID: doc.ID,
			OwnerID:    doc.OwnerID,
			KBID:       doc.KBID,
			ChunkIndex: i,
			Text:       piece,
			Embedding:  vectors[i],
		}
	}
	if err := p.docs.DeleteChunks(ctx, doc.ID); err != nil {
		return fail(fmt.Sprintf("index: %v", err))
	}
	if err := p.docs.InsertChunks(ctx, chunks); err != nil {
		return fail(fmt.Sprintf("index: %v", err))
	}
	if err := p.docs.CompleteDocument(ctx, doc.ID, len(chunks)); err != nil {
		return err
	}
	log.Printf(ctx, "ingest: document %d completed with %d chunks", doc.ID, len(chunks))
	return nil
}

// ProcessTempFile ingests a conversation attachment. A temp file behaves like
// a single-chunk document: one extracted text, one embedding.
func (p *Pipeline) ProcessTempFile(ctx context.Context, tempFileID, ownerID int64) error {
	tf, err := p.temps.GetTempFile(ctx, tempFileID)
	if err != nil {
		return err
	}
	if err := p.temps.SetTempFileStatus(ctx, tf.ID, store.StatusProcessing, "downloading"); err != nil {
		return err
	}
	fail := func(reason string) error {
		if serr := p.temps.SetTempFileStatus(ctx, tf.ID, store.StatusFailed, reason); serr != nil {
			return serr
		}
		log.Printf(ctx, "ingest: temp file %d failed: %s", tf.ID, reason)
		return nil
	}

	if !extract.Supported(tf.MIME) {
		return fail(ReasonUnsupported)
	}
	data, err := p.blob.Download(ctx, tf.BlobKey)
	if err != nil {
		return fail(fmt.Sprintf("download: %v", err))
	}
	text := extract.Text(data, tf.MIME)
	if text == "" {
		return fail(ReasonEmptyContent)
	}
	cred, err := p.creds.Embedding(ctx, ownerID)
	if err != nil {
		return fail(fmt.Sprintf("credential: %v", err))
	}
	vectors, err := p.embedder.Embed(ctx, cred, []string{text})
	if err != nil || len(vectors) != 1 {
		return fail(fmt.Sprintf("embedding: %v", err))
	}
	if err := p.temps.CompleteTempFile(ctx, tf.ID, text, vectors[0]); err != nil {
		return err
	}
	log.Printf(ctx, "ingest: temp file %d completed", tf.ID)
	return nil
}
