package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"goa.design/clue/log"

	"github.com/atheneum-ai/atheneum/internal/errs"
	"github.com/atheneum-ai/atheneum/internal/provider"
	"github.com/atheneum-ai/atheneum/internal/retrieval"
	"github.com/atheneum-ai/atheneum/internal/store"
)

// Tool categories a request may select.
const (
	ToolRAG       = "rag"
	ToolWebSearch = "web_search"
	ToolMCP       = "mcp_tool"
	ToolAll       = "all"
)

// MCPTools lists a user's configured remote tools.
type MCPTools interface {
	ListEnabled(ctx context.Context, userID int64) ([]store.MCPTool, error)
}

// MCPInvoker calls one remote tool.
type MCPInvoker interface {
	Invoke(ctx context.Context, tool store.MCPTool, args json.RawMessage) (json.RawMessage, error)
}

// toolset is the per-turn resolved tool surface.
type toolset struct {
	rag       bool
	webSearch bool
	mcp       map[string]store.MCPTool // by tool name
}

var queryArgSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"query": map[string]any{
			"type":        "string",
			"description": "the search query",
		},
	},
	"required": []any{"query"},
}

// selectTools resolves the request's tool preferences against the system set
// and the user's MCP tool configs. Unknown preference names are rejected.
func (a *Agent) selectTools(ctx context.Context, req Request) (*toolset, error) {
	ts := &toolset{mcp: map[string]store.MCPTool{}}
	if !req.UseTools {
		return ts, nil
	}
	want := map[string]bool{}
	if len(req.PreferredTools) == 0 {
		want[ToolAll] = true
	}
	for _, name := range req.PreferredTools {
		switch name {
		case ToolRAG, ToolWebSearch, ToolMCP, ToolAll:
			want[name] = true
		default:
			return nil, errs.Newf(errs.KindBadRequest, "unknown tool %q", name)
		}
	}
	ts.rag = want[ToolAll] || want[ToolRAG]
	ts.webSearch = want[ToolAll] || want[ToolWebSearch]
	if want[ToolAll] || want[ToolMCP] {
		if a.mcp != nil {
			tools, err := a.mcp.ListEnabled(ctx, req.UserID)
			if err != nil {
				return nil, err
			}
			for _, t := range tools {
				ts.mcp[t.Name] = t
			}
		}
	}
	return ts, nil
}

// definitions renders the toolset as planner tool declarations.
func (ts *toolset) definitions() []provider.ToolDefinition {
	var defs []provider.ToolDefinition
	if ts.rag {
		defs = append(defs, provider.ToolDefinition{
			Name:        ToolRAG,
			Description: "Search the user's knowledge bases and attached files for relevant excerpts.",
			InputSchema: queryArgSchema,
		})
	}
	if ts.webSearch {
		defs = append(defs, provider.ToolDefinition{
			Name:        ToolWebSearch,
			Description: "Search the public web for current information.",
			InputSchema: queryArgSchema,
		})
	}
	for _, t := range ts.mcp {
		schema := map[string]any{"type": "object"}
		if len(t.InputSchema) > 0 {
			var parsed map[string]any
			if err := json.Unmarshal(t.InputSchema, &parsed); err == nil {
				schema = parsed
			}
		}
		defs = append(defs, provider.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return defs
}

// executeTools runs the planner's tool calls sequentially. A failed tool is
// recorded as that call's output so the synthesis model can explain it.
func (a *Agent) executeTools(ctx context.Context, req Request, conversationID int64, kbIDs []int64, ts *toolset, calls []provider.ToolCall, resp *Response) []store.Message {
	msgs := make([]store.Message, 0, len(calls))
	for _, call := range calls {
		output, raw := a.executeOne(ctx, req, conversationID, kbIDs, ts, call, resp)
		callJSON, _ := json.Marshal(call)
		msgs = append(msgs, store.Message{
			Role:           store.RoleTool,
			Content:        output,
			ToolCallsJSON:  callJSON,
			ToolOutputJSON: raw,
		})
	}
	return msgs
}

func (a *Agent) executeOne(ctx context.Context, req Request, conversationID int64, kbIDs []int64, ts *toolset, call provider.ToolCall, resp *Response) (content string, raw []byte) {
	switch {
	case call.Name == ToolRAG && ts.rag:
		return a.runRAG(ctx, req, conversationID, kbIDs, call, resp)
	case call.Name == ToolWebSearch && ts.webSearch:
		return a.runWebSearch(ctx, call, req.Query, resp)
	default:
		if tool, ok := ts.mcp[call.Name]; ok {
			return a.runMCP(ctx, tool, call)
		}
		log.Printf(ctx, "agent: planner requested unknown tool %q", call.Name)
		return fmt.Sprintf("tool %q is not available", call.Name), nil
	}
}

type queryArgs struct {
	Query string `json:"query"`
}

func (a *Agent) runRAG(ctx context.Context, req Request, conversationID int64, kbIDs []int64, call provider.ToolCall, resp *Response) (string, []byte) {
	var args queryArgs
	_ = json.Unmarshal(call.Arguments, &args)
	if args.Query == "" {
		args.Query = req.Query
	}
	result, err := a.retriever.Search(ctx, req.UserID, args.Query, retrieval.Scope{
		OwnerID:        req.UserID,
		KBIDs:          kbIDs,
		ConversationID: conversationID,
	})
	if err != nil {
		return "knowledge base search failed: " + err.Error(), nil
	}
	if len(result.Hits) == 0 {
		reason := result.Reason
		if reason == "" {
			reason = "no matching excerpts"
		}
		return "knowledge base search returned nothing: " + reason, nil
	}
	var b strings.Builder
	for i, hit := range result.Hits {
		resp.SourceArticles = append(resp.SourceArticles, SourceArticle{
			DocumentID: hit.Chunk.DocumentID,
			ChunkID:    hit.Chunk.ID,
			Text:       hit.Chunk.Text,
			Score:      hit.Score,
		})
		fmt.Fprintf(&b, "[%d] (score %.3f) %s\n", i+1, hit.Score, hit.Chunk.Text)
	}
	raw, _ := json.Marshal(resp.SourceArticles)
	return b.String(), raw
}

func (a *Agent) runWebSearch(ctx context.Context, call provider.ToolCall, fallbackQuery string, resp *Response) (string, []byte) {
	var args queryArgs
	_ = json.Unmarshal(call.Arguments, &args)
	if args.Query == "" {
		args.Query = fallbackQuery
	}
	results, err := a.gateway.WebSearch(ctx, a.search, args.Query)
	if err != nil {
		return "web search failed: " + err.Error(), nil
	}
	if len(results) == 0 {
		return "web search returned no results", nil
	}
	resp.SearchResults = append(resp.SearchResults, results...)
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] %s (%s)\n%s\n", i+1, r.Title, r.URL, r.Snippet)
	}
	raw, _ := json.Marshal(results)
	return b.String(), raw
}

func (a *Agent) runMCP(ctx context.Context, tool store.MCPTool, call provider.ToolCall) (string, []byte) {
	if a.invoker == nil {
		return "remote tools are not configured", nil
	}
	out, err := a.invoker.Invoke(ctx, tool, call.Arguments)
	if err != nil {
		return fmt.Sprintf("tool %s failed: %v", tool.Name, err), nil
	}
	return string(out), out
}

// inlineOutputs renders the executed tool results as a single synthesis
// message.
func inlineOutputs(toolMsgs []store.Message) string {
	var b strings.Builder
	b.WriteString("Tool outputs for the question above:\n\n")
	for _, m := range toolMsgs {
		var call provider.ToolCall
		name := "tool"
		if len(m.ToolCallsJSON) > 0 {
			if err := json.Unmarshal(m.ToolCallsJSON, &call); err == nil && call.Name != "" {
				name = call.Name
			}
		}
		fmt.Fprintf(&b, "### %s\n%s\n\n", name, m.Content)
	}
	b.WriteString("Answer the question using these outputs. If a tool failed, explain what is missing.")
	return b.String()
}
