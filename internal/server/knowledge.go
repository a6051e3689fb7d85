package server

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/atheneum-ai/atheneum/internal/blob"
	"github.com/atheneum-ai/atheneum/internal/errs"
	"github.com/atheneum-ai/atheneum/internal/retrieval"
	"github.com/atheneum-ai/atheneum/internal/store"
)

// executableMIMEs are rejected for every upload.
var executableMIMEs = map[string]bool{
	"application/x-msdownload":                      true,
	"application/x-executable":                      true,
	"application/x-elf":                             true,
	"application/x-sh":                              true,
	"application/x-mach-binary":                     true,
	"application/vnd.microsoft.portable-executable": true,
}

func blockedMIME(mime string) bool {
	mime = strings.ToLower(strings.TrimSpace(strings.Split(mime, ";")[0]))
	return executableMIMEs[mime]
}

// kbUploadAllowed additionally rejects video for knowledge base uploads.
func kbUploadAllowed(mime string) bool {
	if blockedMIME(mime) {
		return false
	}
	return !strings.HasPrefix(strings.ToLower(mime), "video/")
}

type createKBRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Access      string `json:"access"`
}

func (req *createKBRequest) Validate() error {
	if strings.TrimSpace(req.Name) == "" {
		return errs.New(errs.KindBadRequest, "name is required")
	}
	switch req.Access {
	case "", "private", "public":
	default:
		return errs.Newf(errs.KindBadRequest, "access must be private or public, got %q", req.Access)
	}
	return nil
}

func (s *Server) handleCreateKB(w http.ResponseWriter, r *http.Request) {
	var req createKBRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		respondErr(w, r, err)
		return
	}
	if req.Access == "" {
		req.Access = "private"
	}
	kb := &store.KnowledgeBase{
		OwnerID:     callerID(r),
		Name:        req.Name,
		Description: req.Description,
		Access:      req.Access,
	}
	if err := s.kb.CreateKB(r.Context(), kb); err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, kb)
}

func (s *Server) handleGetKB(w http.ResponseWriter, r *http.Request) {
	kb, err := s.ownedKB(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, kb)
}

// handleUploadDocument accepts a multipart document, stores the blob, creates
// the pending row and schedules ingestion. Responds 202 with the current row.
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	kb, err := s.ownedKB(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadMB<<20)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadMB << 20); err != nil {
		respondErr(w, r, err)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondErr(w, r, errs.New(errs.KindBadRequest, "file is required"))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	mime := header.Header.Get("Content-Type")
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	if !kbUploadAllowed(mime) {
		respondErr(w, r, errs.Newf(errs.KindBadRequest, "file type %s is not allowed for knowledge base uploads", mime))
		return
	}

	key := blob.NewKey(blob.PrefixKnowledgeDocuments, header.Filename)
	url, err := s.blob.Upload(r.Context(), key, data, mime)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	doc := &store.Document{
		KBID:          kb.ID,
		OwnerID:       callerID(r),
		FileName:      header.Filename,
		BlobKey:       key,
		BlobPublicURL: url,
		MIME:          mime,
	}
	if err := s.kb.CreateDocument(r.Context(), doc); err != nil {
		s.compensateBlob(r.Context(), key)
		respondErr(w, r, err)
		return
	}
	s.ingest.SubmitDocument(context.WithoutCancel(r.Context()), doc.ID)
	respondJSON(w, http.StatusAccepted, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	kb, err := s.ownedKB(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	limit, offset := pagination(r, 50, 200)
	docs, err := s.kb.ListDocuments(r.Context(), kb.ID, limit, offset)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.ownedDocument(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.ownedDocument(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	blobKey, err := s.kb.DeleteDocument(r.Context(), doc.ID)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if blobKey != "" {
		if err := s.blob.Delete(r.Context(), blobKey); err != nil {
			s.compensateBlob(r.Context(), blobKey)
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": doc.ID})
}

type semanticSearchRequest struct {
	Query       string  `json:"query"`
	KBIDs       []int64 `json:"kb_ids"`
	DocumentIDs []int64 `json:"document_ids"`
	// ConversationID widens the scope to that conversation's temporary files.
	ConversationID int64 `json:"conversation_id"`
}

// handleSemanticSearch runs ad-hoc retrieval over the caller's corpora.
func (s *Server) handleSemanticSearch(w http.ResponseWriter, r *http.Request) {
	var req semanticSearchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		respondErr(w, r, errs.New(errs.KindBadRequest, "query is required"))
		return
	}
	userID := callerID(r)
	kbIDs, err := s.kb.AccessibleKBIDs(r.Context(), userID, req.KBIDs)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	result, err := s.searcher.Search(r.Context(), userID, req.Query, retrieval.Scope{
		OwnerID:        userID,
		KBIDs:          kbIDs,
		DocumentIDs:    req.DocumentIDs,
		ConversationID: req.ConversationID,
	})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	type span struct {
		DocumentID int64   `json:"document_id"`
		ChunkID    int64   `json:"chunk_id"`
		ChunkIndex int     `json:"chunk_index"`
		Text       string  `json:"text"`
		Score      float64 `json:"score"`
	}
	spans := make([]span, len(result.Hits))
	for i, h := range result.Hits {
		spans[i] = span{
			DocumentID: h.Chunk.DocumentID,
			ChunkID:    h.Chunk.ID,
			ChunkIndex: h.Chunk.ChunkIndex,
			Text:       h.Chunk.Text,
			Score:      h.Score,
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"results": spans, "reason": result.Reason})
}

// ownedKB loads the path knowledge base and hides other owners' private
// bases behind a not-found.
func (s *Server) ownedKB(r *http.Request) (*store.KnowledgeBase, error) {
	id, err := pathID(r, "kb_id")
	if err != nil {
		return nil, err
	}
	kb, err := s.kb.GetKB(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if kb.OwnerID != callerID(r) && kb.Access != "public" {
		return nil, errs.NotFound("knowledge base")
	}
	return kb, nil
}

// ownedDocument loads the path document and checks both the kb_id binding and
// ownership.
func (s *Server) ownedDocument(r *http.Request) (*store.Document, error) {
	kb, err := s.ownedKB(r)
	if err != nil {
		return nil, err
	}
	id, err := pathID(r, "id")
	if err != nil {
		return nil, err
	}
	doc, err := s.kb.GetDocument(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if doc.KBID != kb.ID {
		return nil, errs.NotFound("document")
	}
	return doc, nil
}
