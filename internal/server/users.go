package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/atheneum-ai/atheneum/internal/credential"
	"github.com/atheneum-ai/atheneum/internal/errs"
	"github.com/atheneum-ai/atheneum/internal/store"
)

func (s *Server) handlePointsHistory(w http.ResponseWriter, r *http.Request) {
	userID := callerID(r)
	limit, offset := pagination(r, 50, 200)
	txs, err := s.points.ListTransactions(r.Context(), userID, limit, offset)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	u, err := s.users.Get(r.Context(), userID)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"total_points": u.TotalPoints,
		"transactions": txs,
	})
}

func (s *Server) handleAchievements(w http.ResponseWriter, r *http.Request) {
	earned, err := s.points.ListEarned(r.Context(), callerID(r))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	type achievement struct {
		Name         string `json:"name"`
		Description  string `json:"description"`
		RewardPoints int64  `json:"reward_points"`
		EarnedAt     string `json:"earned_at"`
	}
	out := make([]achievement, len(earned))
	for i, e := range earned {
		out[i] = achievement{
			Name:         e.Definition.Name,
			Description:  e.Definition.Description,
			RewardPoints: e.Definition.RewardPoints,
			EarnedAt:     e.Grant.EarnedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"achievements": out})
}

func (s *Server) handleCheckin(w http.ResponseWriter, r *http.Request) {
	awarded, balance, err := s.social.DailyCheckin(r.Context(), callerID(r))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"awarded":      awarded,
		"total_points": balance,
	})
}

type upsertCredentialRequest struct {
	ProviderType string   `json:"provider_type"`
	APIKey       string   `json:"api_key"`
	BaseURL      string   `json:"base_url"`
	ModelID      string   `json:"model_id"`
	ModelIDs     []string `json:"model_ids"`
}

func (req *upsertCredentialRequest) Validate() error {
	if !credential.Known(credential.Provider(req.ProviderType)) {
		return errs.Newf(errs.KindBadRequest, "unknown provider type %q", req.ProviderType)
	}
	if strings.TrimSpace(req.APIKey) == "" {
		return errs.New(errs.KindBadRequest, "api_key is required")
	}
	return nil
}

// handleUpsertCredential seals the key at rest and stores the record.
func (s *Server) handleUpsertCredential(w http.ResponseWriter, r *http.Request) {
	var req upsertCredentialRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		respondErr(w, r, err)
		return
	}
	sealed, err := s.sealer.Seal(req.APIKey)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	rec := credential.Record{
		UserID:       callerID(r),
		ProviderType: credential.Provider(req.ProviderType),
		EncryptedKey: sealed,
		BaseURL:      req.BaseURL,
		ModelID:      req.ModelID,
		ModelIDs:     req.ModelIDs,
	}
	if err := s.users.UpsertCredential(r.Context(), rec); err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"provider_type": req.ProviderType})
}

func (s *Server) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	if err := s.users.DeleteCredential(r.Context(), callerID(r), provider); err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"deleted": provider})
}

func (s *Server) handleListMCPTools(w http.ResponseWriter, r *http.Request) {
	tools, err := s.mcp.ListEnabled(r.Context(), callerID(r))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"tools": tools})
}

type upsertMCPToolRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Endpoint    string          `json:"endpoint"`
	InputSchema json.RawMessage `json:"input_schema"`
	Enabled     *bool           `json:"enabled"`
}

func (req *upsertMCPToolRequest) Validate() error {
	if strings.TrimSpace(req.Name) == "" {
		return errs.New(errs.KindBadRequest, "name is required")
	}
	if !strings.HasPrefix(req.Endpoint, "http://") && !strings.HasPrefix(req.Endpoint, "https://") {
		return errs.New(errs.KindBadRequest, "endpoint must be an http(s) URL")
	}
	return nil
}

func (s *Server) handleUpsertMCPTool(w http.ResponseWriter, r *http.Request) {
	var req upsertMCPToolRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		respondErr(w, r, err)
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	tool := &store.MCPTool{
		UserID:      callerID(r),
		Name:        req.Name,
		Description: req.Description,
		Endpoint:    req.Endpoint,
		InputSchema: req.InputSchema,
		Enabled:     enabled,
	}
	if err := s.mcp.Upsert(r.Context(), tool); err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, tool)
}

func (s *Server) handleDeleteMCPTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.mcp.Delete(r.Context(), callerID(r), name); err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"deleted": name})
}

type createForumTopicRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (req *createForumTopicRequest) Validate() error {
	if strings.TrimSpace(req.Title) == "" {
		return errs.New(errs.KindBadRequest, "title is required")
	}
	if strings.TrimSpace(req.Content) == "" {
		return errs.New(errs.KindBadRequest, "content is required")
	}
	return nil
}

func (s *Server) handleCreateForumTopic(w http.ResponseWriter, r *http.Request) {
	var req createForumTopicRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		respondErr(w, r, err)
		return
	}
	id, err := s.social.CreateForumTopic(r.Context(), callerID(r), req.Title, req.Content)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]int64{"topic_id": id})
}
