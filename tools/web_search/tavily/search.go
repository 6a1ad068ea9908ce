package tavily

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mohammad-safakhou/researchd/internal/httpclient"
	"github.com/mohammad-safakhou/researchd/tools/web_search/models"
)

const defaultBaseURL = "https://api.tavily.com"

type Search struct {
	APIKey  string
	BaseURL string
	HTTP    *httpclient.Client
}

func (s Search) Search(ctx context.Context, q string, k int) ([]models.Result, error) {
	// https://docs.tavily.com/documentation/api-reference/endpoint/search
	base := s.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	hc := s.HTTP
	if hc == nil {
		hc = httpclient.New(0, 1, 0)
	}
	payload := map[string]any{
		"api_key":      s.APIKey,
		"query":        q,
		"max_results":  k,
		"search_depth": "basic",
	}
	var raw struct {
		Results []struct {
			Title   string  `json:"title"`
			URL     string  `json:"url"`
			Content string  `json:"content"`
			Score   float64 `json:"score"`
		} `json:"results"`
	}
	if err := hc.DoJSON(ctx, http.MethodPost, base+"/search", nil, payload, &raw); err != nil {
		return nil, fmt.Errorf("tavily search: %w", err)
	}
	out := make([]models.Result, 0, len(raw.Results))
	for i, r := range raw.Results {
		if i >= k {
			break
		}
		out = append(out, models.Result{Title: r.Title, URL: r.URL, Snippet: r.Content, Score: r.Score})
	}
	return out, nil
}
