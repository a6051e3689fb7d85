package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"goa.design/clue/log"

	"github.com/atheneum-ai/atheneum/internal/agent"
	"github.com/atheneum-ai/atheneum/internal/blob"
	"github.com/atheneum-ai/atheneum/internal/errs"
	"github.com/atheneum-ai/atheneum/internal/queue"
	"github.com/atheneum-ai/atheneum/internal/store"
)

// handleQA runs one agent turn. Multipart form: query, conversation_id,
// kb_ids (JSON array), use_tools, preferred_tools (JSON array or "all"),
// llm_model_id, optional file.
func (s *Server) handleQA(w http.ResponseWriter, r *http.Request) {
	userID := callerID(r)
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadMB<<20)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadMB << 20); err != nil {
		respondErr(w, r, err)
		return
	}

	req := agent.Request{
		UserID:        userID,
		Query:         r.FormValue("query"),
		ModelOverride: r.FormValue("llm_model_id"),
	}
	if raw := r.FormValue("conversation_id"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.ConversationID); err != nil {
			respondErr(w, r, errs.New(errs.KindBadRequest, "invalid conversation_id"))
			return
		}
	}
	if raw := r.FormValue("kb_ids"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.KBIDs); err != nil {
			respondErr(w, r, errs.New(errs.KindBadRequest, "kb_ids must be a JSON array"))
			return
		}
	}
	if raw := r.FormValue("use_tools"); raw == "true" || raw == "1" {
		req.UseTools = true
	}
	if raw := r.FormValue("preferred_tools"); raw != "" && raw != `"all"` && raw != "all" {
		if err := json.Unmarshal([]byte(raw), &req.PreferredTools); err != nil {
			respondErr(w, r, errs.New(errs.KindBadRequest, "preferred_tools must be a JSON array or \"all\""))
			return
		}
	}

	if file, header, err := r.FormFile("file"); err == nil {
		defer file.Close()
		tempID, convID, aerr := s.attachTempFile(r.Context(), userID, req.ConversationID, file, header.Filename, header.Header.Get("Content-Type"))
		if aerr != nil {
			respondErr(w, r, aerr)
			return
		}
		req.ConversationID = convID
		req.AttachedTempFileID = tempID
	}

	resp, err := s.agent.Ask(r.Context(), req)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// attachTempFile uploads a chat attachment and schedules its ingestion,
// creating the conversation first when the turn starts a new one.
func (s *Server) attachTempFile(ctx context.Context, userID, conversationID int64, file io.Reader, filename, mime string) (tempID, convID int64, err error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return 0, 0, err
	}
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	if blockedMIME(mime) {
		return 0, 0, errs.Newf(errs.KindBadRequest, "file type %s is not allowed", mime)
	}
	convID = conversationID
	if convID == 0 {
		conv, err := s.convs.Create(ctx, userID)
		if err != nil {
			return 0, 0, err
		}
		convID = conv.ID
	}
	key := blob.NewKey(blob.PrefixChatTempFiles, filename)
	if _, err := s.blob.Upload(ctx, key, data, mime); err != nil {
		return 0, 0, err
	}
	tf := &store.TempFile{ConversationID: convID, BlobKey: key, MIME: mime}
	if err := s.convs.CreateTempFile(ctx, tf); err != nil {
		s.compensateBlob(ctx, key)
		return 0, 0, err
	}
	s.ingest.SubmitTempFile(context.WithoutCancel(ctx), tf.ID, userID)
	return tf.ID, convID, nil
}

// compensateBlob enqueues a delete for a blob whose DB row never landed, so a
// crashed request does not leak a live object.
func (s *Server) compensateBlob(ctx context.Context, key string) {
	task := &queue.Task{
		Type:     queue.TypeBlobCompensation,
		Priority: queue.PriorityLow,
		Data:     map[string]string{"blob_key": key},
	}
	if err := s.tasks.Enqueue(ctx, task); err != nil {
		log.Errorf(ctx, err, "enqueue blob compensation for %s", key)
	}
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50, 200)
	convs, err := s.convs.ListForOwner(r.Context(), callerID(r), limit, offset)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	conv, err := s.ownedConversation(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	limit, offset := pagination(r, 100, 500)
	msgs, err := s.convs.ListMessages(r.Context(), conv.ID, limit, offset)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.ownedConversation(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	blobKeys, err := s.convs.Delete(r.Context(), conv.ID)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	for _, key := range blobKeys {
		if err := s.blob.Delete(r.Context(), key); err != nil {
			s.compensateBlob(r.Context(), key)
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": conv.ID})
}

func (s *Server) handleRegenerateTitle(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	title, err := s.agent.RegenerateTitle(r.Context(), callerID(r), id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"title": title})
}

// ownedConversation loads the path conversation and hides other owners'
// conversations behind a not-found.
func (s *Server) ownedConversation(r *http.Request) (*store.Conversation, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return nil, err
	}
	conv, err := s.convs.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if conv.OwnerID != callerID(r) {
		return nil, errs.NotFound("conversation")
	}
	return conv, nil
}
