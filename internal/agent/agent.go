// Package agent runs the single-turn question answering loop: resolve the
// conversation and credential, wait briefly for an attached file, let the
// planner model pick tools, execute them sequentially, synthesise the final
// answer and persist the whole turn in one transaction.
package agent

import (
	"context"
	"strings"
	"time"

	"goa.design/clue/log"

	"github.com/atheneum-ai/atheneum/internal/credential"
	"github.com/atheneum-ai/atheneum/internal/errs"
	"github.com/atheneum-ai/atheneum/internal/provider"
	"github.com/atheneum-ai/atheneum/internal/retrieval"
	"github.com/atheneum-ai/atheneum/internal/store"
)

const (
	historyWindow = 20
	attachWait    = 5 * time.Second
	attachPoll    = time.Second
	titleMaxRunes = 16

	systemPrompt = "You are the learning platform's AI assistant. Answer using the " +
		"conversation history and any tool outputs provided. Be accurate and concise; " +
		"when knowledge base excerpts are given, ground your answer in them."
	titlePrompt = "请用不超过16个字概括这段对话的主题，只输出标题本身，不要加引号或标点。"
)

// Answer modes reported to clients.
const (
	ModeGeneral = "general"
	ModeTools   = "tools"
)

// Conversations is the slice of the conversation store the agent needs.
type Conversations interface {
	Create(ctx context.Context, ownerID int64) (*store.Conversation, error)
	Get(ctx context.Context, id int64) (*store.Conversation, error)
	LastMessages(ctx context.Context, conversationID int64, n int) ([]store.Message, error)
	CountMessages(ctx context.Context, conversationID int64) (int, error)
	SetTitleIfUnset(ctx context.Context, id int64, title string) (string, error)
	GetTempFile(ctx context.Context, id int64) (*store.TempFile, error)
}

// Knowledge access-checks requested knowledge bases.
type Knowledge interface {
	AccessibleKBIDs(ctx context.Context, userID int64, ids []int64) ([]int64, error)
}

// Gateway is the slice of the provider gateway the agent needs.
type Gateway interface {
	Chat(ctx context.Context, cred credential.Credential, req provider.ChatRequest) (provider.ChatResult, error)
	WebSearch(ctx context.Context, engine provider.SearchEngine, query string) ([]provider.SearchResult, error)
}

// Credentials resolves the user's chat credential.
type Credentials interface {
	Chat(ctx context.Context, userID int64, modelOverride string) (credential.Credential, error)
}

// Retriever runs scoped retrieval for the rag tool.
type Retriever interface {
	Search(ctx context.Context, userID int64, query string, scope retrieval.Scope) (retrieval.Result, error)
}

// TurnWriter persists a completed turn atomically, crediting points and
// running the achievement check in the same transaction.
type TurnWriter interface {
	PersistTurn(ctx context.Context, conversationID, userID int64, msgs []store.Message) ([]store.Message, error)
}

// Request is one agent turn.
type Request struct {
	UserID         int64
	Query          string
	ConversationID int64
	KBIDs          []int64
	UseTools       bool
	PreferredTools []string
	ModelOverride  string
	// AttachedTempFileID is a just-enqueued temp file ingestion the turn
	// briefly waits for.
	AttachedTempFileID int64
}

// SourceArticle references a chunk that grounded the answer.
type SourceArticle struct {
	DocumentID int64   `json:"document_id"`
	ChunkID    int64   `json:"chunk_id"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// Response is the turn outcome.
type Response struct {
	Answer         string                  `json:"answer"`
	AnswerMode     string                  `json:"answer_mode"`
	LLMTypeUsed    string                  `json:"llm_type_used"`
	LLMModelUsed   string                  `json:"llm_model_used"`
	ConversationID int64                   `json:"conversation_id"`
	Title          string                  `json:"title,omitempty"`
	TurnMessages   []store.Message         `json:"turn_messages"`
	SourceArticles []SourceArticle         `json:"source_articles,omitempty"`
	SearchResults  []provider.SearchResult `json:"search_results,omitempty"`
}

// Options configures an Agent.
type Options struct {
	Conversations Conversations
	Knowledge     Knowledge
	Gateway       Gateway
	Credentials   Credentials
	Retriever     Retriever
	MCP           MCPTools
	MCPInvoker    MCPInvoker
	Turns         TurnWriter
	SearchEngine  provider.SearchEngine

	// AttachWait and AttachPoll override the temp-file wait for tests.
	AttachWait time.Duration
	AttachPoll time.Duration
}

// Agent executes single turns.
type Agent struct {
	convs      Conversations
	knowledge  Knowledge
	gateway    Gateway
	creds      Credentials
	retriever  Retriever
	mcp        MCPTools
	invoker    MCPInvoker
	turns      TurnWriter
	search     provider.SearchEngine
	attachWait time.Duration
	attachPoll time.Duration
}

// New builds an Agent.
func New(opts Options) *Agent {
	if opts.AttachWait <= 0 {
		opts.AttachWait = attachWait
	}
	if opts.AttachPoll <= 0 {
		opts.AttachPoll = attachPoll
	}
	return &Agent{
		convs:      opts.Conversations,
		knowledge:  opts.Knowledge,
		gateway:    opts.Gateway,
		creds:      opts.Credentials,
		retriever:  opts.Retriever,
		mcp:        opts.MCP,
		invoker:    opts.MCPInvoker,
		turns:      opts.Turns,
		search:     opts.SearchEngine,
		attachWait: opts.AttachWait,
		attachPoll: opts.AttachPoll,
	}
}

// Ask runs one turn.
func (a *Agent) Ask(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, errs.New(errs.KindBadRequest, "query is required")
	}

	conv, history, firstExchange, err := a.resolveConversation(ctx, req)
	if err != nil {
		return nil, err
	}
	cred, err := a.creds.Chat(ctx, req.UserID, req.ModelOverride)
	if err != nil {
		return nil, err
	}
	kbIDs, err := a.knowledge.AccessibleKBIDs(ctx, req.UserID, req.KBIDs)
	if err != nil {
		return nil, err
	}
	a.awaitAttachment(ctx, req.AttachedTempFileID)

	tools, err := a.selectTools(ctx, req)
	if err != nil {
		return nil, err
	}

	// Planner call: one chat completion with the tool schema attached.
	prefix := make([]provider.Message, 0, len(history)+2)
	prefix = append(prefix, provider.Message{Role: store.RoleSystem, Content: systemPrompt})
	for _, m := range history {
		prefix = append(prefix, provider.Message{Role: m.Role, Content: m.Content})
	}
	prefix = append(prefix, provider.Message{Role: store.RoleUser, Content: req.Query})

	planned, err := a.gateway.Chat(ctx, cred, provider.ChatRequest{
		Messages: prefix,
		Tools:    tools.definitions(),
	})
	if err != nil {
		return nil, err
	}

	resp := &Response{
		AnswerMode:     ModeGeneral,
		LLMTypeUsed:    string(cred.ProviderType),
		LLMModelUsed:   cred.ModelID,
		ConversationID: conv.ID,
	}

	var toolMsgs []store.Message
	answer := planned.Content
	if len(planned.ToolCalls) > 0 {
		toolMsgs = a.executeTools(ctx, req, conv.ID, kbIDs, tools, planned.ToolCalls, resp)
		resp.AnswerMode = ModeTools

		// Synthesis call: same history with the tool outputs inlined.
		synth := append(prefix, provider.Message{
			Role:    store.RoleUser,
			Content: inlineOutputs(toolMsgs),
		})
		final, err := a.gateway.Chat(ctx, cred, provider.ChatRequest{Messages: synth})
		if err != nil {
			return nil, err
		}
		answer = final.Content
	}
	resp.Answer = answer

	msgs := make([]store.Message, 0, len(toolMsgs)+2)
	msgs = append(msgs, store.Message{Role: store.RoleUser, Content: req.Query})
	msgs = append(msgs, toolMsgs...)
	msgs = append(msgs, store.Message{
		Role:         store.RoleAssistant,
		Content:      answer,
		LLMTypeUsed:  &resp.LLMTypeUsed,
		LLMModelUsed: &resp.LLMModelUsed,
	})
	persisted, err := a.turns.PersistTurn(ctx, conv.ID, req.UserID, msgs)
	if err != nil {
		return nil, err
	}
	resp.TurnMessages = persisted

	if firstExchange {
		if n, err := a.convs.CountMessages(ctx, conv.ID); err == nil && n >= 2 {
			resp.Title = a.generateTitle(ctx, cred, conv.ID, req.Query, answer)
		}
	} else if conv.Title != nil {
		resp.Title = *conv.Title
	}
	return resp, nil
}

func (a *Agent) resolveConversation(ctx context.Context, req Request) (*store.Conversation, []store.Message, bool, error) {
	if req.ConversationID == 0 {
		conv, err := a.convs.Create(ctx, req.UserID)
		if err != nil {
			return nil, nil, false, err
		}
		return conv, nil, true, nil
	}
	conv, err := a.convs.Get(ctx, req.ConversationID)
	if err != nil {
		return nil, nil, false, err
	}
	if conv.OwnerID != req.UserID {
		return nil, nil, false, errs.New(errs.KindUnauthorized, "not your conversation")
	}
	history, err := a.convs.LastMessages(ctx, conv.ID, historyWindow)
	if err != nil {
		return nil, nil, false, err
	}
	return conv, history, false, nil
}

// awaitAttachment polls the attached temp file until it settles or the wait
// budget runs out. The turn proceeds regardless of the outcome.
func (a *Agent) awaitAttachment(ctx context.Context, tempFileID int64) {
	if tempFileID == 0 {
		return
	}
	deadline := time.Now().Add(a.attachWait)
	for {
		tf, err := a.convs.GetTempFile(ctx, tempFileID)
		if err == nil && (tf.Status == store.StatusCompleted || tf.Status == store.StatusFailed) {
			return
		}
		if time.Now().After(deadline) {
			log.Printf(ctx, "agent: temp file %d still ingesting, proceeding", tempFileID)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(a.attachPoll):
		}
	}
}

// generateTitle asks the model for a short conversation title. Failures are
// swallowed; the title stays null and can be regenerated on demand.
func (a *Agent) generateTitle(ctx context.Context, cred credential.Credential, conversationID int64, query, answer string) string {
	res, err := a.gateway.Chat(ctx, cred, provider.ChatRequest{
		Messages: []provider.Message{
			{Role: store.RoleSystem, Content: titlePrompt},
			{Role: store.RoleUser, Content: query + "\n\n" + answer},
		},
	})
	if err != nil {
		log.Printf(ctx, "agent: title generation failed for conversation %d: %v", conversationID, err)
		return ""
	}
	title := clampTitle(res.Content)
	if title == "" {
		return ""
	}
	final, err := a.convs.SetTitleIfUnset(ctx, conversationID, title)
	if err != nil {
		log.Printf(ctx, "agent: title update failed for conversation %d: %v", conversationID, err)
		return ""
	}
	return final
}

// RegenerateTitle produces and applies a title for an existing conversation
// on demand, using its first user and assistant messages.
func (a *Agent) RegenerateTitle(ctx context.Context, userID, conversationID int64) (string, error) {
	conv, err := a.convs.Get(ctx, conversationID)
	if err != nil {
		return "", err
	}
	if conv.OwnerID != userID {
		return "", errs.New(errs.KindUnauthorized, "not your conversation")
	}
	history, err := a.convs.LastMessages(ctx, conversationID, historyWindow)
	if err != nil {
		return "", err
	}
	if len(history) == 0 {
		return "", errs.New(errs.KindBadRequest, "conversation has no messages")
	}
	cred, err := a.creds.Chat(ctx, userID, "")
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, m := range history {
		if m.Role == store.RoleUser || m.Role == store.RoleAssistant {
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
	}
	res, err := a.gateway.Chat(ctx, cred, provider.ChatRequest{
		Messages: []provider.Message{
			{Role: store.RoleSystem, Content: titlePrompt},
			{Role: store.RoleUser, Content: b.String()},
		},
	})
	if err != nil {
		return "", err
	}
	title := clampTitle(res.Content)
	if title == "" {
		return "", errs.New(errs.KindProviderFatal, "model returned an empty title")
	}
	return a.convs.SetTitleIfUnset(ctx, conversationID, title)
}

func clampTitle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'“”‘’「」《》")
	if runes := []rune(s); len(runes) > titleMaxRunes {
		s = string(runes[:titleMaxRunes])
	}
	return strings.TrimSpace(s)
}
