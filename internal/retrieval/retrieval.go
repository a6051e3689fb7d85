// Package retrieval answers "which chunks ground this query": embed the
// query, score the scoped corpus by cosine similarity, then rerank the best
// candidates with a cross-encoder. When the reranker is unavailable (the
// gateway signals this with all-zero scores) the similarity order stands.
package retrieval

import (
	"context"
	"sort"

	"goa.design/clue/log"

	"github.com/atheneum-ai/atheneum/internal/credential"
	"github.com/atheneum-ai/atheneum/internal/index"
	"github.com/atheneum-ai/atheneum/internal/provider"
	"github.com/atheneum-ai/atheneum/internal/store"
)

const (
	// KInitial candidates go to the reranker.
	KInitial = 50
	// KFinal results come back to the caller.
	KFinal = 5
)

// ReasonNoEmbedding is returned when the query embedded to the zero vector,
// typically because the user has no embedding credential.
const ReasonNoEmbedding = "no embedding available"

// Gateway is the slice of the provider gateway retrieval needs.
type Gateway interface {
	Embed(ctx context.Context, cred credential.Credential, texts []string) ([][]float32, error)
	Rerank(ctx context.Context, cred credential.Credential, query string, candidates []string) ([]float64, error)
}

// Credentials resolves per-user provider credentials.
type Credentials interface {
	Embedding(ctx context.Context, userID int64) (credential.Credential, error)
	Rerank(ctx context.Context, userID int64) (credential.Credential, error)
}

// Chunks supplies scoped chunk candidates.
type Chunks interface {
	ChunkCandidates(ctx context.Context, ownerID int64, kbIDs, documentIDs []int64) ([]store.Chunk, error)
}

// TempFiles supplies a conversation's ingested attachments.
type TempFiles interface {
	TempFilesForConversation(ctx context.Context, conversationID int64) ([]store.TempFile, error)
}

// Scope narrows the searched corpus. KBIDs must already be access-checked by
// the caller; a kb-scoped search drops the owner predicate so chunks in
// public bases owned by others stay retrievable. ConversationID, when
// non-zero, adds that conversation's completed temporary files to the corpus.
type Scope struct {
	OwnerID        int64
	KBIDs          []int64
	DocumentIDs    []int64
	ConversationID int64
}

// Hit is one retrieved chunk with its final score.
type Hit struct {
	Chunk store.Chunk
	Score float64
}

// Result is the outcome of one retrieval.
type Result struct {
	Hits []Hit
	// Reason is set when Hits is empty for a diagnosable cause.
	Reason string
}

// Engine wires the retrieval dependencies.
type Engine struct {
	gateway Gateway
	creds   Credentials
	chunks  Chunks
	temps   TempFiles
}

// New builds an Engine.
func New(gateway Gateway, creds Credentials, chunks Chunks, temps TempFiles) *Engine {
	return &Engine{gateway: gateway, creds: creds, chunks: chunks, temps: temps}
}

// Search retrieves the best chunks for query within scope.
func (e *Engine) Search(ctx context.Context, userID int64, query string, scope Scope) (Result, error) {
	cred, err := e.creds.Embedding(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	vectors, err := e.gateway.Embed(ctx, cred, []string{query})
	if err != nil {
		return Result{}, err
	}
	if len(vectors) != 1 || provider.IsZeroVector(vectors[0]) {
		return Result{Reason: ReasonNoEmbedding}, nil
	}
	queryVec := vectors[0]

	candidates, err := e.gather(ctx, scope)
	if err != nil {
		return Result{}, err
	}
	initial := index.TopK(queryVec, candidates, KInitial)
	if len(initial) == 0 {
		return Result{}, nil
	}
	if len(initial) < KFinal {
		return Result{Hits: toHits(initial)}, nil
	}

	texts := make([]string, len(initial))
	for i, s := range initial {
		texts[i] = s.Chunk.Text
	}
	rerankCred, err := e.creds.Rerank(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	scores, err := e.gateway.Rerank(ctx, rerankCred, query, texts)
	if err != nil {
		return Result{}, err
	}
	if allZero(scores) {
		log.Printf(ctx, "retrieval: reranker unavailable, using similarity order")
		return Result{Hits: toHits(initial[:KFinal])}, nil
	}

	hits := make([]Hit, len(initial))
	for i, s := range initial {
		hits[i] = Hit{Chunk: s.Chunk, Score: scores[i]}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return Result{Hits: hits[:KFinal]}, nil
}

func (e *Engine) gather(ctx context.Context, scope Scope) ([]store.Chunk, error) {
	var candidates []store.Chunk
	if len(scope.KBIDs) > 0 || len(scope.DocumentIDs) > 0 {
		owner := scope.OwnerID
		if len(scope.KBIDs) > 0 {
			// The kb set is access-checked upstream and may include public
			// bases owned by others.
			owner = 0
		}
		chunks, err := e.chunks.ChunkCandidates(ctx, owner, scope.KBIDs, scope.DocumentIDs)
		if err != nil {
			return nil, err
		}
		candidates = chunks
	}
	if scope.ConversationID != 0 && e.temps != nil {
		files, err := e.temps.TempFilesForConversation(ctx, scope.ConversationID)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if f.Status != store.StatusCompleted || f.ExtractedText == "" {
				continue
			}
			// Temp files behave like single-chunk documents outside any KB.
			candidates = append(candidates, store.Chunk{
				ID:        f.ID,
				Text:      f.ExtractedText,
				Embedding: f.Embedding,
			})
		}
	}
	return candidates, nil
}

func toHits(scored []index.Scored) []Hit {
	hits := make([]Hit, len(scored))
	for i, s := range scored {
		hits[i] = Hit{Chunk: s.Chunk, Score: s.Score}
	}
	return hits
}

func allZero(scores []float64) bool {
	for _, s := range scores {
		if s != 0 {
			return false
		}
	}
	return true
}
