// Package server exposes the HTTP API: the agent turn endpoint, knowledge
// base and document management, semantic search, the distributed task API,
// points and achievements, and the worker execute endpoint. Handlers are
// explicit (ctx, request, services); all collaborators arrive as interfaces
// so tests substitute fakes.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"goa.design/clue/log"

	"github.com/atheneum-ai/atheneum/internal/agent"
	"github.com/atheneum-ai/atheneum/internal/config"
	"github.com/atheneum-ai/atheneum/internal/credential"
	"github.com/atheneum-ai/atheneum/internal/queue"
	"github.com/atheneum-ai/atheneum/internal/retrieval"
	"github.com/atheneum-ai/atheneum/internal/store"
)

// Agent runs question-answering turns.
type Agent interface {
	Ask(ctx context.Context, req agent.Request) (*agent.Response, error)
	RegenerateTitle(ctx context.Context, userID, conversationID int64) (string, error)
}

// Searcher runs scoped semantic search.
type Searcher interface {
	Search(ctx context.Context, userID int64, query string, scope retrieval.Scope) (retrieval.Result, error)
}

// Blob is the slice of the blob store the handlers need.
type Blob interface {
	Upload(ctx context.Context, key string, data []byte, mime string) (string, error)
	Delete(ctx context.Context, key string) error
	UrlToKey(url string) (string, bool)
}

// Ingest schedules ingestion work off the request path.
type Ingest interface {
	SubmitDocument(ctx context.Context, documentID int64)
	SubmitTempFile(ctx context.Context, tempFileID, ownerID int64)
}

// Tasks is the slice of the queue the task API needs.
type Tasks interface {
	Enqueue(ctx context.Context, t *queue.Task) error
	Get(ctx context.Context, id string) (*queue.Task, error)
	Cancel(ctx context.Context, id string) error
}

// Nodes lists the live worker roster.
type Nodes interface {
	Active(ctx context.Context) ([]queue.Node, error)
}

// Executor runs assigned tasks on worker nodes.
type Executor interface {
	Execute(ctx context.Context, t queue.Task) error
}

// Knowledge is the slice of the knowledge store the handlers need.
type Knowledge interface {
	CreateKB(ctx context.Context, kb *store.KnowledgeBase) error
	GetKB(ctx context.Context, id int64) (*store.KnowledgeBase, error)
	AccessibleKBIDs(ctx context.Context, userID int64, ids []int64) ([]int64, error)
	CreateDocument(ctx context.Context, d *store.Document) error
	GetDocument(ctx context.Context, id int64) (*store.Document, error)
	ListDocuments(ctx context.Context, kbID int64, limit, offset int) ([]store.Document, error)
	DeleteDocument(ctx context.Context, id int64) (blobKey string, err error)
}

// Conversations is the slice of the conversation store the handlers need.
type Conversations interface {
	Create(ctx context.Context, ownerID int64) (*store.Conversation, error)
	Get(ctx context.Context, id int64) (*store.Conversation, error)
	ListForOwner(ctx context.Context, ownerID int64, limit, offset int) ([]store.Conversation, error)
	ListMessages(ctx context.Context, conversationID int64, limit, offset int) ([]store.Message, error)
	Delete(ctx context.Context, id int64) (blobKeys []string, err error)
	CreateTempFile(ctx context.Context, f *store.TempFile) error
}

// Points is the read side of the points store.
type Points interface {
	ListTransactions(ctx context.Context, userID int64, limit, offset int) ([]store.PointTransaction, error)
	ListEarned(ctx context.Context, userID int64) ([]store.EarnedAchievement, error)
}

// Users is the slice of the user store the handlers need.
type Users interface {
	Get(ctx context.Context, id int64) (*store.User, error)
	UpsertCredential(ctx context.Context, rec credential.Record) error
	DeleteCredential(ctx context.Context, userID int64, providerType string) error
}

// MCP persists the user's remote tool configurations.
type MCP interface {
	ListEnabled(ctx context.Context, userID int64) ([]store.MCPTool, error)
	Upsert(ctx context.Context, t *store.MCPTool) error
	Delete(ctx context.Context, userID int64, name string) error
}

// Social runs the transactional point-earning actions.
type Social interface {
	CreateForumTopic(ctx context.Context, userID int64, title, content string) (int64, error)
	DailyCheckin(ctx context.Context, userID int64) (awarded bool, balance int64, err error)
}

// Options carries the server's collaborators.
type Options struct {
	Config        *config.Config
	Agent         Agent
	Searcher      Searcher
	Blob          Blob
	Ingest        Ingest
	Tasks         Tasks
	Nodes         Nodes
	Executor      Executor
	Knowledge     Knowledge
	Conversations Conversations
	Points        Points
	Users         Users
	MCP           MCP
	Social        Social
	Sealer        *credential.Sealer
}

// Server owns the HTTP API.
type Server struct {
	cfg      *config.Config
	agent    Agent
	searcher Searcher
	blob     Blob
	ingest   Ingest
	tasks    Tasks
	nodes    Nodes
	executor Executor
	kb       Knowledge
	convs    Conversations
	points   Points
	users    Users
	mcp      MCP
	social   Social
	sealer   *credential.Sealer
}

// New builds a Server.
func New(opts Options) *Server {
	return &Server{
		cfg:      opts.Config,
		agent:    opts.Agent,
		searcher: opts.Searcher,
		blob:     opts.Blob,
		ingest:   opts.Ingest,
		tasks:    opts.Tasks,
		nodes:    opts.Nodes,
		executor: opts.Executor,
		kb:       opts.Knowledge,
		convs:    opts.Conversations,
		points:   opts.Points,
		users:    opts.Users,
		mcp:      opts.MCP,
		social:   opts.Social,
		sealer:   opts.Sealer,
	}
}

// Router mounts all routes. logCtx carries the process logger so request
// handlers log through it.
func (s *Server) Router(logCtx context.Context) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(log.HTTP(logCtx))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Node-to-node; not behind user auth.
	if s.executor != nil {
		r.Post("/api/worker/execute", s.handleWorkerExecute)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/ai/qa", s.handleQA)
		r.Get("/ai/conversations", s.handleListConversations)
		r.Get("/ai/conversations/{id}/messages", s.handleListMessages)
		r.Delete("/ai/conversations/{id}", s.handleDeleteConversation)
		r.Post("/ai/conversations/{id}/regenerate-title", s.handleRegenerateTitle)

		r.Post("/knowledge-bases", s.handleCreateKB)
		r.Get("/knowledge-bases/{kb_id}", s.handleGetKB)
		r.Post("/knowledge-bases/{kb_id}/documents/", s.handleUploadDocument)
		r.Get("/knowledge-bases/{kb_id}/documents", s.handleListDocuments)
		r.Get("/knowledge-bases/{kb_id}/documents/{id}", s.handleGetDocument)
		r.Delete("/knowledge-bases/{kb_id}/documents/{id}", s.handleDeleteDocument)

		r.Post("/search/semantic", s.handleSemanticSearch)

		r.Post("/distributed/tasks/submit", s.handleSubmitTask)
		r.Get("/distributed/tasks/{id}/status", s.handleGetTask)
		r.Post("/distributed/tasks/{id}/cancel", s.handleCancelTask)
		r.Get("/distributed/nodes", s.handleListNodes)

		r.Get("/users/me/points/history", s.handlePointsHistory)
		r.Get("/users/me/achievements", s.handleAchievements)
		r.Post("/users/me/checkin", s.handleCheckin)
		r.Put("/users/me/credentials", s.handleUpsertCredential)
		r.Delete("/users/me/credentials/{provider}", s.handleDeleteCredential)
		r.Get("/users/me/mcp-tools", s.handleListMCPTools)
		r.Post("/users/me/mcp-tools", s.handleUpsertMCPTool)
		r.Delete("/users/me/mcp-tools/{name}", s.handleDeleteMCPTool)

		r.Post("/forum/topics", s.handleCreateForumTopic)
	})

	return r
}
