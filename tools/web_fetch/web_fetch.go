package web_fetch

import (
	"context"
	"errors"
	"time"

	"github.com/mohammad-safakhou/researchd/tools/web_fetch/models"
	"github.com/mohammad-safakhou/researchd/tools/web_fetch/readable"
)

const (
	DefaultTimeout  = 10 * time.Second
	MaxCharsDefault = 20000
)

// WebFetcher downloads a page and extracts its main text.
type WebFetcher interface {
	Exec(ctx context.Context, url string) (models.Result, error)
}

type FetcherType string

const (
	ReadabilityFetcherType FetcherType = "readability"
)

var ErrUnsupportedFetcher = errors.New("unsupported fetcher type")

func NewWebFetcher(fetcherType FetcherType, timeout time.Duration, maxChars int) (WebFetcher, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxChars <= 0 {
		maxChars = MaxCharsDefault
	}

	switch fetcherType {
	case ReadabilityFetcherType, "":
		return readable.New(timeout, maxChars), nil
	default:
		return nil, ErrUnsupportedFetcher
	}
}
