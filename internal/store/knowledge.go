package store

import (
	"context"
	"fmt"
	"time"

	"github.com/atheneum-ai/atheneum/internal/errs"
)

// Document ingestion statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// KnowledgeBase is an owner-scoped corpus container.
type KnowledgeBase struct {
	ID          int64
	OwnerID     int64
	Name        string
	Description string
	Access      string // private | public
	CreatedAt   time.Time
}

// Document is an ingested artifact inside a knowledge base.
type Document struct {
	ID            int64
	KBID          int64
	OwnerID       int64
	FolderID      *int64
	FileName      string
	BlobKey       string
	BlobPublicURL string
	MIME          string
	Status        string
	StatusMessage string
	TotalChunks   int
	CreatedAt     time.Time
}

// Chunk is the atomic retrieval unit.
type Chunk struct {
	ID         int64
	DocumentID int64
	OwnerID    int64
	KBID       int64
	ChunkIndex int
	Text       string
	Embedding  []float32
}

// Knowledge persists knowledge bases, documents and chunks.
type Knowledge struct {
	q Querier
}

// NewKnowledge binds the repository to a Querier.
func NewKnowledge(q Querier) *Knowledge { return &Knowledge{q: q} }

// CreateKB inserts a knowledge base.
func (r *Knowledge) CreateKB(ctx context.Context, kb *KnowledgeBase) error {
	return r.q.QueryRow(ctx, `
		INSERT INTO knowledge_bases (owner_id, name, description, access)
		VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		kb.OwnerID, kb.Name, kb.Description, kb.Access).
		Scan(&kb.ID, &kb.CreatedAt)
}

// GetKB loads a knowledge base by id.
func (r *Knowledge) GetKB(ctx context.Context, id int64) (*KnowledgeBase, error) {
	var kb KnowledgeBase
	err := r.q.QueryRow(ctx, `
		SELECT id, owner_id, name, description, access, created_at
		FROM knowledge_bases WHERE id = $1`, id).
		Scan(&kb.ID, &kb.OwnerID, &kb.Name, &kb.Description, &kb.Access, &kb.CreatedAt)
	if IsNoRows(err) {
		return nil, errs.NotFound("knowledge base")
	}
	if err != nil {
		return nil, fmt.Errorf("store: get kb: %w", err)
	}
	return &kb, nil
}

// AccessibleKBIDs filters the requested ids down to those the user may read:
// bases they own plus public ones.
func (r *Knowledge) AccessibleKBIDs(ctx context.Context, userID int64, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.q.Query(ctx, `
		SELECT id FROM knowledge_bases
		WHERE id = ANY($1) AND (owner_id = $2 OR access = 'public')`, ids, userID)
	if err != nil {
		return nil, fmt.Errorf("store: accessible kbs: %w", err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// CreateDocument inserts a document row in pending state.
func (r *Knowledge) CreateDocument(ctx context.Context, d *Document) error {
	return r.q.QueryRow(ctx, `
		INSERT INTO knowledge_documents
			(kb_id, owner_id, folder_id, file_name, blob_key, blob_public_url, mime, status, status_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`,
		d.KBID, d.OwnerID, d.FolderID, d.FileName, d.BlobKey, d.BlobPublicURL, d.MIME,
		StatusPending, "").
		Scan(&d.ID, &d.CreatedAt)
}

// GetDocument loads a document row.
func (r *Knowledge) GetDocument(ctx context.Context, id int64) (*Document, error) {
	var d Document
	err := r.q.QueryRow(ctx, `
		SELECT id, kb_id, owner_id, folder_id, file_name, blob_key, blob_public_url,
		       mime, status, status_message, total_chunks, created_at
		FROM knowledge_documents WHERE id = $1`, id).
		Scan(&d.ID, &d.KBID, &d.OwnerID, &d.FolderID, &d.FileName, &d.BlobKey,
			&d.BlobPublicURL, &d.MIME, &d.Status, &d.StatusMessage, &d.TotalChunks, &d.CreatedAt)
	if IsNoRows(err) {
		return nil, errs.NotFound("document")
	}
	if err != nil {
		return nil, fmt.Errorf("store: get document: %w", err)
	}
	return &d, nil
}

// SetDocumentStatus transitions the ingestion state machine.
func (r *Knowledge) SetDocumentStatus(ctx context.Context, id int64, status, message string) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE knowledge_documents SET status = $2, status_message = $3 WHERE id = $1`,
		id, status, message)
	if err != nil {
		return fmt.Errorf("store: set document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("document")
	}
	return nil
}

// CompleteDocument marks completion and records the chunk count.
func (r *Knowledge) CompleteDocument(ctx context.Context, id int64, totalChunks int) error {
	_, err := r.q.Exec(ctx, `
		UPDATE knowledge_documents
		SET status = $2, status_message = '', total_chunks = $3
		WHERE id = $1`, id, StatusCompleted, totalChunks)
	if err != nil {
		return fmt.Errorf("store: complete document: %w", err)
	}
	return nil
}

// DeleteDocument removes a document and all of its chunks. Returns the blob
// key so the caller can schedule blob deletion.
func (r *Knowledge) DeleteDocument(ctx context.Context, id int64) (blobKey string, err error) {
	err = r.q.QueryRow(ctx,
		`SELECT blob_key FROM knowledge_documents WHERE id = $1`, id).Scan(&blobKey)
	if IsNoRows(err) {
		return "", errs.NotFound("document")
	}
	if err != nil {
		return "", fmt.Errorf("store: delete document: %w", err)
	}
	if _, err = r.q.Exec(ctx,
		`DELETE FROM knowledge_document_chunks WHERE document_id = $1`, id); err != nil {
		return "", fmt.Errorf("store: delete chunks: %w", err)
	}
	if _, err = r.q.Exec(ctx,
		`DELETE FROM knowledge_documents WHERE id = $1`, id); err != nil {
		return "", fmt.Errorf("store: delete document: %w", err)
	}
	return blobKey, nil
}

// ListDocuments pages a knowledge base's documents.
func (r *Knowledge) ListDocuments(ctx context.Context, kbID int64, limit, offset int) ([]Document, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, kb_id, owner_id, folder_id, file_name, blob_key, blob_public_url,
		       mime, status, status_message, total_chunks, created_at
		FROM knowledge_documents
		WHERE kb_id = $1 ORDER BY id DESC LIMIT $2 OFFSET $3`, kbID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list documents: %w", err)
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.KBID, &d.OwnerID, &d.FolderID, &d.FileName, &d.BlobKey,
			&d.BlobPublicURL, &d.MIME, &d.Status, &d.StatusMessage, &d.TotalChunks, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteChunks removes all chunks of a document. Ingestion calls this before
// re-inserting so retries stay idempotent.
func (r *Knowledge) DeleteChunks(ctx context.Context, documentID int64) error {
	_, err := r.q.Exec(ctx,
		`DELETE FROM knowledge_document_chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("store: delete chunks: %w", err)
	}
	return nil
}

// InsertChunks bulk-inserts a document's chunks.
func (r *Knowledge) InsertChunks(ctx context.Context, chunks []Chunk) error {
	for i := range chunks {
		c := &chunks[i]
		err := r.q.QueryRow(ctx, `
			INSERT INTO knowledge_document_chunks
				(document_id, owner_id, kb_id, chunk_index, text, embedding)
			VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			c.DocumentID, c.OwnerID, c.KBID, c.ChunkIndex, c.Text, c.Embedding).
			Scan(&c.ID)
		if err != nil {
			return fmt.Errorf("store: insert chunk %d: %w", c.ChunkIndex, err)
		}
	}
	return nil
}

// ChunkCandidates streams the chunk rows matching the retrieval filter. The
// similarity scoring happens in the index layer; this only narrows by
// ownership and scope. ownerID <= 0 skips the owner predicate, used when the
// kb set was already access-checked and may include public bases.
func (r *Knowledge) ChunkCandidates(ctx context.Context, ownerID int64, kbIDs, documentIDs []int64) ([]Chunk, error) {
	query := `
		SELECT id, document_id, owner_id, kb_id, chunk_index, text, embedding
		FROM knowledge_document_chunks
		WHERE 1 = 1`
	var args []any
	if ownerID > 0 {
		args = append(args, ownerID)
		query += fmt.Sprintf(" AND owner_id = $%d", len(args))
	}
	if len(kbIDs) > 0 {
		args = append(args, kbIDs)
		query += fmt.Sprintf(" AND kb_id = ANY($%d)", len(args))
	}
	if len(documentIDs) > 0 {
		args = append(args, documentIDs)
		query += fmt.Sprintf(" AND document_id = ANY($%d)", len(args))
	}
	query += " ORDER BY document_id, chunk_index"
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: chunk candidates: %w", err)
	}
	defer rows.Close()
	var out []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.OwnerID, &c.KBID, &c.ChunkIndex,
			&c.Text, &c.Embedding); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountChunks returns the number of chunks for a document.
func (r *Knowledge) CountChunks(ctx context.Context, documentID int64) (int, error) {
	var n int
	err := r.q.QueryRow(ctx,
		`SELECT count(*) FROM knowledge_document_chunks WHERE document_id = $1`,
		documentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count chunks: %w", err)
	}
	return n, nil
}
