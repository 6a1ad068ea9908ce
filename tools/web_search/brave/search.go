package brave

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mohammad-safakhou/researchd/internal/httpclient"
	"github.com/mohammad-safakhou/researchd/tools/web_search/models"
)

const defaultBaseURL = "https://api.search.brave.com"

type Search struct {
	APIKey  string
	BaseURL string
	HTTP    *httpclient.Client
}

func (s Search) Search(ctx context.Context, q string, k int) ([]models.Result, error) {
	// https://api.search.brave.com/app/documentation/web-search
	base := s.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	hc := s.HTTP
	if hc == nil {
		hc = httpclient.New(0, 1, 0)
	}
	// brave caps count at 20
	count := k
	if count > 20 {
		count = 20
	}
	endpoint := fmt.Sprintf("%s/res/v1/web/search?q=%s&count=%d", base, url.QueryEscape(q), count)
	headers := map[string]string{
		"Accept":               "application/json",
		"X-Subscription-Token": s.APIKey,
	}
	var raw struct {
		Web struct {
			Results []struct {
				Title   string `json:"title"`
				URL     string `json:"url"`
				Snippet string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := hc.DoJSON(ctx, http.MethodGet, endpoint, headers, nil, &raw); err != nil {
		return nil, fmt.Errorf("brave search: %w", err)
	}
	out := make([]models.Result, 0, len(raw.Web.Results))
	for i, r := range raw.Web.Results {
		if i >= k {
			break
		}
		out = append(out, models.Result{Title: r.Title, URL: r.URL, Snippet: r.Snippet, Score: models.RankScore(i, k)})
	}
	return out, nil
}
