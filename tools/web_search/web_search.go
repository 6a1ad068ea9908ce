package web_search

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/researchd/internal/httpclient"
	"github.com/mohammad-safakhou/researchd/tools/web_search/brave"
	"github.com/mohammad-safakhou/researchd/tools/web_search/models"
	"github.com/mohammad-safakhou/researchd/tools/web_search/serper"
	"github.com/mohammad-safakhou/researchd/tools/web_search/tavily"
)

// WebSearcher returns up to max results for a query, best first.
type WebSearcher interface {
	Search(ctx context.Context, query string, max int) ([]models.Result, error)
}

type Provider string

const (
	TavilyProvider Provider = "tavily"
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

var (
	ErrUnsupportedProvider = errors.New("unsupported search provider")
	ErrMissingAPIKey       = errors.New("search api key not set")
)

// NewWebSearcher builds the adapter for provider. baseURL overrides the
// provider endpoint and is mostly useful in tests.
func NewWebSearcher(provider Provider, apiKey, baseURL string, hc *httpclient.Client) (WebSearcher, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	switch provider {
	case TavilyProvider, "":
		return tavily.Search{APIKey: apiKey, BaseURL: baseURL, HTTP: hc}, nil
	case SerperProvider:
		return serper.Search{APIKey: apiKey, BaseURL: baseURL, HTTP: hc}, nil
	case BraveProvider:
		return brave.Search{APIKey: apiKey, BaseURL: baseURL, HTTP: hc}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, provider)
	}
}
