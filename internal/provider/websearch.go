package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/atheneum-ai/atheneum/internal/errs"
)

// searchClient abstracts a web-search engine.
type searchClient interface {
	Search(ctx context.Context, engine SearchEngine, query string) ([]SearchResult, error)
}

// httpSearcher speaks the JSON POST dialects of the supported engines.
type httpSearcher struct {
	client *http.Client
}

// Search implements searchClient.
func (s *httpSearcher) Search(ctx context.Context, engine SearchEngine, query string) ([]SearchResult, error) {
	switch strings.ToLower(engine.Engine) {
	case "tavily":
		return s.tavily(ctx, engine, query)
	case "bocha":
		return s.bocha(ctx, engine, query)
	default:
		return nil, errs.Newf(errs.KindBadRequest, "unsupported search engine %q", engine.Engine)
	}
}

func (s *httpSearcher) tavily(ctx context.Context, engine SearchEngine, query string) ([]SearchResult, error) {
	base := engine.BaseURL
	if base == "" {
		base = "https://api.tavily.com"
	}
	body, _ := json.Marshal(map[string]any{
		"api_key":     engine.APIKey,
		"query":       query,
		"max_results": 5,
	})
	var parsed struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := s.post(ctx, strings.TrimRight(base, "/")+"/search", "", body, &parsed); err != nil {
		return nil, err
	}
	out := make([]SearchResult, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		out = append(out, SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return out, nil
}

func (s *httpSearcher) bocha(ctx context.Context, engine SearchEngine, query string) ([]SearchResult, error) {
	base := engine.BaseURL
	if base == "" {
		base = "https://api.bochaai.com/v1"
	}
	body, _ := json.Marshal(map[string]any{
		"query": query,
		"count": 5,
	})
	var parsed struct {
		Data struct {
			WebPages struct {
				Value []struct {
					Name    string `json:"name"`
					URL     string `json:"url"`
					Snippet string `json:"snippet"`
				} `json:"value"`
			} `json:"webPages"`
		} `json:"data"`
	}
	if err := s.post(ctx, strings.TrimRight(base, "/")+"/web-search", engine.APIKey, body, &parsed); err != nil {
		return nil, err
	}
	value := parsed.Data.WebPages.Value
	out := make([]SearchResult, 0, len(value))
	for _, r := range value {
		out = append(out, SearchResult{Title: r.Name, URL: r.URL, Snippet: r.Snippet})
	}
	return out, nil
}

func (s *httpSearcher) post(ctx context.Context, url, bearer string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("websearch: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("websearch: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("websearch: read: %w", err)
	}
	if classified := classifyStatus(resp.StatusCode, string(data)); classified != nil {
		return classified
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("websearch: decode: %w", err)
	}
	return nil
}
