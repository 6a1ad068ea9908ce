package readable

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/mohammad-safakhou/researchd/tools/web_fetch/models"
)

const userAgent = "researchd/1.0 (+https://github.com/mohammad-safakhou/researchd)"

// maxBody bounds how much HTML is read from a single page.
const maxBody = 4 << 20

// Fetch downloads pages over plain HTTP and runs readability extraction.
type Fetch struct {
	Client   *http.Client
	MaxChars int
}

func New(timeout time.Duration, maxChars int) *Fetch {
	return &Fetch{Client: &http.Client{Timeout: timeout}, MaxChars: maxChars}
}

func (f *Fetch) Exec(ctx context.Context, raw string) (models.Result, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if raw == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return models.Result{}, errors.New("invalid url")
	}
	t0 := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return models.Result{}, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	resp, err := f.Client.Do(req)
	if err != nil {
		return models.Result{URL: raw}, fmt.Errorf("fetch %s: %w", raw, err)
	}
	defer resp.Body.Close()
	res := models.Result{URL: raw, Status: resp.StatusCode}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		res.FetchMS = int(time.Since(t0) / time.Millisecond)
		return res, fmt.Errorf("fetch %s: status %d", raw, resp.StatusCode)
	}

	article, err := readability.FromReader(io.LimitReader(resp.Body, maxBody), u)
	res.FetchMS = int(time.Since(t0) / time.Millisecond)
	if err != nil {
		return res, fmt.Errorf("extract %s: %w", raw, err)
	}
	text := strings.TrimSpace(article.TextContent)
	if f.MaxChars > 0 && len([]rune(text)) > f.MaxChars {
		text = string([]rune(text)[:f.MaxChars])
	}
	res.Title = strings.TrimSpace(article.Title)
	res.Byline = strings.TrimSpace(article.Byline)
	res.SiteName = article.SiteName
	res.Excerpt = strings.TrimSpace(article.Excerpt)
	res.Text = text
	return res, nil
}
