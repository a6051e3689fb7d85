// Package provider is the stateless gateway to external model providers:
// chat completion, embeddings, reranking and web search. Every call carries
// its own credential; the gateway holds no per-user state. Calls are bounded
// by a default 30 s timeout, retried up to three times with jittered
// exponential backoff on transient failures, and classified into the shared
// error kinds (4xx vs 5xx vs missing credential).
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/atheneum-ai/atheneum/internal/credential"
	"github.com/atheneum-ai/atheneum/internal/errs"
)

// Message is one chat turn sent to a provider.
type Message struct {
	Role    string // system | user | assistant | tool
	Content string
}

// ToolDefinition declares a callable tool to the chat model.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolCall is a model-initiated structured tool request.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Usage reports token accounting for one chat call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
}

// ChatRequest is a single chat-completion call.
type ChatRequest struct {
	Model    string
	Messages []Message
	Tools    []ToolDefinition
}

// ChatResult is the provider's reply.
type ChatResult struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

// SearchResult is one web-search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// SearchEngine configures a web-search call. The engine config is per-user
// state resolved by the caller; the gateway stays stateless.
type SearchEngine struct {
	Engine  string // tavily | bocha
	APIKey  string
	BaseURL string
}

// chatClient abstracts a vendor SDK. Implementations exist for
// OpenAI-compatible endpoints and Anthropic.
type chatClient interface {
	Chat(ctx context.Context, cred credential.Credential, req ChatRequest) (ChatResult, error)
}

// embedClient abstracts an embeddings endpoint.
type embedClient interface {
	Embed(ctx context.Context, cred credential.Credential, texts []string) ([][]float32, error)
}

// Options configures the Gateway. Zero values get defaults; the client
// fields exist so tests can substitute fakes.
type Options struct {
	EmbeddingDim int
	Timeout      time.Duration
	Retry        RetryConfig
	// RequestsPerSecond bounds outbound provider calls process-wide.
	// Zero disables limiting.
	RequestsPerSecond float64
	HTTPClient        *http.Client

	OpenAI    chatClient
	Anthropic chatClient
	Embedder  embedClient
	Reranker  rerankClient
	Searcher  searchClient
}

// Gateway implements the four provider capabilities.
type Gateway struct {
	dim       int
	timeout   time.Duration
	retry     RetryConfig
	limiter   *rate.Limiter
	tracer    trace.Tracer
	openai    chatClient
	anthropic chatClient
	embedder  embedClient
	reranker  rerankClient
	searcher  searchClient
}

// New builds a Gateway.
func New(opts Options) *Gateway {
	if opts.EmbeddingDim <= 0 {
		opts.EmbeddingDim = 1024
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryConfig()
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	g := &Gateway{
		dim:       opts.EmbeddingDim,
		timeout:   opts.Timeout,
		retry:     opts.Retry,
		tracer:    otel.Tracer("atheneum/provider"),
		openai:    opts.OpenAI,
		anthropic: opts.Anthropic,
		embedder:  opts.Embedder,
		reranker:  opts.Reranker,
		searcher:  opts.Searcher,
	}
	if opts.RequestsPerSecond > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), int(opts.RequestsPerSecond)+1)
	}
	if g.openai == nil {
		g.openai = &openAIClient{}
	}
	if g.anthropic == nil {
		g.anthropic = &anthropicClient{}
	}
	if g.embedder == nil {
		g.embedder = &openAIClient{}
	}
	if g.reranker == nil {
		g.reranker = &httpReranker{client: hc}
	}
	if g.searcher == nil {
		g.searcher = &httpSearcher{client: hc}
	}
	return g
}

// ZeroVector returns the well-known sentinel embedding used when no
// credential is available. It never matches a real query above threshold.
func ZeroVector(dim int) []float32 { return make([]float32, dim) }

// IsZeroVector reports whether v is empty or all zeros.
func IsZeroVector(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// Embed returns one vector per input text. A missing credential degrades to
// zero-vector sentinels instead of failing, so ingestion can proceed and be
// re-embedded later.
func (g *Gateway) Embed(ctx context.Context, cred credential.Credential, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if cred.Empty() {
		out := make([][]float32, len(texts))
		for i := range out {
			out[i] = ZeroVector(g.dim)
		}
		return out, nil
	}
	ctx, span := g.tracer.Start(ctx, "provider.Embed",
		trace.WithAttributes(
			attribute.String("provider", string(cred.ProviderType)),
			attribute.Int("texts", len(texts))))
	defer span.End()

	var vectors [][]float32
	err := g.do(ctx, func(ctx context.Context) error {
		var err error
		vectors, err = g.embedder.Embed(ctx, cred, texts)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, errs.Newf(errs.KindProviderFatal,
			"embedding count mismatch: got %d vectors for %d texts", len(vectors), len(texts))
	}
	return vectors, nil
}

// Chat performs one chat-completion call. A missing credential is a hard
// ProviderUnconfigured failure.
func (g *Gateway) Chat(ctx context.Context, cred credential.Credential, req ChatRequest) (ChatResult, error) {
	if cred.Empty() {
		return ChatResult{}, errs.New(errs.KindProviderUnconfigured, "no chat credential configured")
	}
	if req.Model == "" {
		req.Model = cred.ModelID
	}
	ctx, span := g.tracer.Start(ctx, "provider.Chat",
		trace.WithAttributes(
			attribute.String("provider", string(cred.ProviderType)),
			attribute.String("model", req.Model),
			attribute.Int("tools", len(req.Tools))))
	defer span.End()

	client := g.openai
	if cred.ProviderType == credential.ProviderAnthropic {
		client = g.anthropic
	}
	var result ChatResult
	err := g.do(ctx, func(ctx context.Context) error {
		var err error
		result, err = client.Chat(ctx, cred, req)
		return err
	})
	return result, err
}

// Rerank scores candidates against the query. A missing credential returns
// all-zero scores, the documented signal for callers to fall back to
// similarity ordering.
func (g *Gateway) Rerank(ctx context.Context, cred credential.Credential, query string, candidates []string) ([]float64, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	if cred.Empty() || cred.ModelID == "" {
		return make([]float64, len(candidates)), nil
	}
	ctx, span := g.tracer.Start(ctx, "provider.Rerank",
		trace.WithAttributes(attribute.Int("candidates", len(candidates))))
	defer span.End()

	var scores []float64
	err := g.do(ctx, func(ctx context.Context) error {
		var err error
		scores, err = g.reranker.Rerank(ctx, cred, query, candidates)
		return err
	})
	if err != nil {
		// Reranking is best-effort; degrade to the fallback signal.
		return make([]float64, len(candidates)), nil
	}
	if len(scores) != len(candidates) {
		return make([]float64, len(candidates)), nil
	}
	return scores, nil
}

// WebSearch queries an external search engine.
func (g *Gateway) WebSearch(ctx context.Context, engine SearchEngine, query string) ([]SearchResult, error) {
	if engine.APIKey == "" || engine.Engine == "" {
		return nil, errs.New(errs.KindProviderUnconfigured, "no search engine configured")
	}
	ctx, span := g.tracer.Start(ctx, "provider.WebSearch",
		trace.WithAttributes(attribute.String("engine", engine.Engine)))
	defer span.End()

	var results []SearchResult
	err := g.do(ctx, func(ctx context.Context) error {
		var err error
		results, err = g.searcher.Search(ctx, engine, query)
		return err
	})
	return results, err
}

// do applies the rate limit, per-call timeout and retry policy around one
// provider invocation.
func (g *Gateway) do(ctx context.Context, fn func(ctx context.Context) error) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return errs.Wrap(err, errs.KindResourceExhausted, "provider rate limit")
		}
	}
	return Retry(ctx, g.retry, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		return fn(ctx)
	})
}

// classifyStatus maps a provider HTTP status to an error kind.
func classifyStatus(status int, body string) error {
	detail := fmt.Sprintf("provider returned HTTP %d", status)
	if body != "" {
		const max = 200
		if len(body) > max {
			body = body[:max]
		}
		detail = fmt.Sprintf("provider returned HTTP %d: %s", status, body)
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errs.New(errs.KindProviderUnconfigured, "provider rejected credential")
	case status == http.StatusTooManyRequests || status >= 500:
		return errs.New(errs.KindProviderTransient, detail)
	case status >= 400:
		return errs.New(errs.KindProviderFatal, detail)
	}
	return nil
}
