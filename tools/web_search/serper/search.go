package serper

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mohammad-safakhou/researchd/internal/httpclient"
	"github.com/mohammad-safakhou/researchd/tools/web_search/models"
)

const defaultBaseURL = "https://google.serper.dev"

type Search struct {
	APIKey  string
	BaseURL string
	HTTP    *httpclient.Client
}

func (s Search) Search(ctx context.Context, q string, k int) ([]models.Result, error) {
	// https://serper.dev/ docs
	base := s.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	hc := s.HTTP
	if hc == nil {
		hc = httpclient.New(0, 1, 0)
	}
	var raw struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
	headers := map[string]string{"X-API-KEY": s.APIKey}
	if err := hc.DoJSON(ctx, http.MethodPost, base+"/search", headers, map[string]any{"q": q, "num": k}, &raw); err != nil {
		return nil, fmt.Errorf("serper search: %w", err)
	}
	out := make([]models.Result, 0, len(raw.Organic))
	for i, it := range raw.Organic {
		if i >= k {
			break
		}
		out = append(out, models.Result{
			Title: it.Title, URL: it.Link, Snippet: it.Snippet, Score: models.RankScore(i, k),
		})
	}
	return out, nil
}
