// Package agentstest provides deterministic port implementations for tests
// of the pipeline and the packages built on it.
package agentstest

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/mohammad-safakhou/researchd/provider"
	"github.com/mohammad-safakhou/researchd/tools/web_search/models"
)

// ErrDown is returned by failing stubs.
var ErrDown = errors.New("stub: upstream unavailable")

// LLM answers by recognising which stage built the prompt.
type LLM struct {
	// Respond overrides the canned answers when set.
	Respond func(req provider.Request) (string, error)
	// Chunks is what Stream yields; defaults to a two-chunk answer.
	Chunks []string
	// StreamErr, when set, is returned by Recv after the Chunks are sent
	// (or by Stream itself when FailOpen is true).
	StreamErr error
	FailOpen  bool
	// Hang makes Complete block until its context ends; HangStream does the
	// same for the first Recv of a stream.
	Hang       bool
	HangStream bool

	mu    sync.Mutex
	calls []provider.Request
}

// Failing returns an LLM whose every call fails.
func Failing() *LLM {
	return &LLM{
		Respond:   func(provider.Request) (string, error) { return "", ErrDown },
		StreamErr: ErrDown,
		FailOpen:  true,
	}
}

// Calls returns the requests seen so far.
func (l *LLM) Calls() []provider.Request {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]provider.Request(nil), l.calls...)
}

func (l *LLM) record(req provider.Request) {
	l.mu.Lock()
	l.calls = append(l.calls, req)
	l.mu.Unlock()
}

func userText(req provider.Request) string {
	for _, m := range req.Messages {
		if m.Role == provider.RoleUser {
			return m.Content
		}
	}
	return ""
}

func (l *LLM) Complete(ctx context.Context, req provider.Request) (string, error) {
	l.record(req)
	if l.Hang {
		<-ctx.Done()
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if l.Respond != nil {
		return l.Respond(req)
	}
	return Canned(req), nil
}

// Canned is the default deterministic answer for req.
func Canned(req provider.Request) string {
	u := userText(req)
	switch {
	case strings.HasPrefix(u, "Provide a concise summary"):
		return "2+2 equals 4 according to the source."
	case strings.HasPrefix(u, "Given the following summaries"):
		return "The sources agree that 2+2 equals 4."
	case strings.HasPrefix(u, "Extract the"):
		return "- 2+2 equals 4\n- Addition is commutative"
	case strings.HasPrefix(u, "You are a fact-checker"):
		return "VERDICT: SUPPORTED\nCONFIDENCE: 0.9\nEXPLANATION: Basic arithmetic."
	default:
		return "ok"
	}
}

func (l *LLM) Stream(ctx context.Context, req provider.Request) (provider.ChunkStream, error) {
	l.record(req)
	if l.FailOpen {
		return nil, l.StreamErr
	}
	chunks := l.Chunks
	if chunks == nil {
		chunks = []string{"## Answer\n\n", "2+2 is **4**."}
	}
	return &chunkStream{ctx: ctx, chunks: chunks, err: l.StreamErr, hang: l.HangStream}, nil
}

type chunkStream struct {
	ctx    context.Context
	chunks []string
	err    error
	pos    int
	hang   bool
}

func (s *chunkStream) Recv() (string, error) {
	if s.hang && s.pos == 0 {
		<-s.ctx.Done()
	}
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	if s.pos < len(s.chunks) {
		s.pos++
		return s.chunks[s.pos-1], nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *chunkStream) Close() error { return nil }

// Search returns fixed results, or Err. With Hang set it blocks until the
// call's context ends.
type Search struct {
	Results []models.Result
	Err     error
	Hang    bool

	mu      sync.Mutex
	queries []string
}

func (s *Search) Search(ctx context.Context, query string, max int) ([]models.Result, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.mu.Unlock()
	if s.Hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.Err != nil {
		return nil, s.Err
	}
	out := s.Results
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return append([]models.Result(nil), out...), nil
}

// Queries returns the queries seen so far.
func (s *Search) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

// MathSearch returns the single "Math" source used by end-to-end tests.
func MathSearch() *Search {
	return &Search{Results: []models.Result{{Title: "Math", URL: "http://x", Snippet: "2+2=4", Score: 0.9}}}
}
