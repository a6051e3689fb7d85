package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atheneum-ai/atheneum/internal/errs"
	"github.com/atheneum-ai/atheneum/internal/queue"
)

type submitTaskRequest struct {
	TaskType     string            `json:"task_type"`
	Priority     int               `json:"priority"`
	Data         map[string]string `json:"data"`
	Dependencies []string          `json:"dependencies"`
	MaxRetries   int               `json:"max_retries"`
	TimeoutSec   int               `json:"timeout_seconds"`
}

func (req *submitTaskRequest) Validate() error {
	switch req.TaskType {
	case queue.TypeDocumentProcessing, queue.TypeTempFileProcessing,
		queue.TypeBatchEmbedding, queue.TypeBlobCompensation,
		queue.TypeThumbnail, queue.TypeFormatConversion:
	default:
		return errs.Newf(errs.KindBadRequest, "unknown task type %q", req.TaskType)
	}
	return nil
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		respondErr(w, r, err)
		return
	}
	task := &queue.Task{
		Type:         req.TaskType,
		Priority:     req.Priority,
		Data:         req.Data,
		Dependencies: req.Dependencies,
		MaxRetries:   req.MaxRetries,
		Timeout:      time.Duration(req.TimeoutSec) * time.Second,
	}
	if err := s.tasks.Enqueue(r.Context(), task); err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.tasks.Cancel(r.Context(), id); err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"cancelled": id})
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.nodes.Active(r.Context())
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"nodes": nodes})
}

// handleWorkerExecute receives a scheduler assignment and runs it to a
// terminal state. The response mirrors the task outcome.
func (s *Server) handleWorkerExecute(w http.ResponseWriter, r *http.Request) {
	var task queue.Task
	if err := decodeJSON(r, &task); err != nil {
		respondErr(w, r, err)
		return
	}
	if task.ID == "" || task.Type == "" {
		respondErr(w, r, errs.New(errs.KindBadRequest, "task id and type are required"))
		return
	}
	if err := s.executor.Execute(r.Context(), task); err != nil {
		respondJSON(w, http.StatusOK, map[string]string{"status": "error", "error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "success"})
}
