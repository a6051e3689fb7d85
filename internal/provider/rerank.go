package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/atheneum-ai/atheneum/internal/credential"
)

// rerankClient abstracts the cross-encoder endpoint.
type rerankClient interface {
	Rerank(ctx context.Context, cred credential.Credential, query string, candidates []string) ([]float64, error)
}

// httpReranker calls the OpenAI-compatible `/rerank` endpoint exposed by
// SiliconFlow-style vendors. Scores are opaque reals; only their order
// matters to callers.
type httpReranker struct {
	client *http.Client
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank implements rerankClient.
func (r *httpReranker) Rerank(ctx context.Context, cred credential.Credential, query string, candidates []string) ([]float64, error) {
	payload, err := json.Marshal(rerankRequest{
		Model:     cred.ModelID,
		Query:     query,
		Documents: candidates,
	})
	if err != nil {
		return nil, fmt.Errorf("rerank: marshal: %w", err)
	}
	url := strings.TrimRight(cred.BaseURL, "/") + "/rerank"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("rerank: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred.APIKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("rerank: read: %w", err)
	}
	if classified := classifyStatus(resp.StatusCode, string(body)); classified != nil {
		return nil, classified
	}
	var parsed rerankResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("rerank: decode: %w", err)
	}
	scores := make([]float64, len(candidates))
	for _, res := range parsed.Results {
		if res.Index >= 0 && res.Index < len(scores) {
			scores[res.Index] = res.RelevanceScore
		}
	}
	return scores, nil
}
