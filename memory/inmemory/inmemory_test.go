package inmemory

import (
	"context"
	"errors"
	"testing"

	"github.com/mohammad-safakhou/researchd/memory"
)

type stubEmbedder struct{ fail bool }

func (e stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.fail {
		return nil, errors.New("embeddings down")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		var v [2]float32
		for _, r := range t {
			if r == 'g' {
				v[0]++
			} else {
				v[1] += 0.01
			}
		}
		out[i] = v[:]
	}
	return out, nil
}

func TestSimilarFindsKeywordMatches(t *testing.T) {
	s, err := New(nil, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	for _, rec := range []memory.Record{
		{Query: "history of the roman empire", Answer: "Rome fell in 476."},
		{Query: "goroutines and channels", Answer: "Go concurrency uses CSP."},
	} {
		if err := s.Store(ctx, rec); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}
	hits, err := s.Similar(ctx, "roman empire", 3)
	if err != nil {
		t.Fatalf("Similar: %v", err)
	}
	if len(hits) == 0 || hits[0].Query != "history of the roman empire" {
		t.Fatalf("unexpected hits %+v", hits)
	}
	if hits, _ := s.Similar(ctx, "   ", 3); len(hits) != 0 {
		t.Fatalf("blank query should return nothing")
	}
}

func TestStoreEvictsOldest(t *testing.T) {
	s, _ := New(stubEmbedder{}, 2)
	ctx := context.Background()
	for _, q := range []string{"alpha topic", "beta topic", "gamma topic"} {
		if err := s.Store(ctx, memory.Record{Query: q, Answer: q}); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}
	hits, err := s.Similar(ctx, "alpha", 5)
	if err != nil {
		t.Fatalf("Similar: %v", err)
	}
	for _, h := range hits {
		if h.Query == "alpha topic" {
			t.Fatalf("evicted record still returned")
		}
	}
	if err := s.Store(ctx, memory.Record{}); err == nil {
		t.Fatalf("expected error for empty record")
	}
}

func TestEmbedderFailureFallsBackToBM25(t *testing.T) {
	s, _ := New(stubEmbedder{fail: true}, 0)
	ctx := context.Background()
	_ = s.Store(ctx, memory.Record{Query: "what is two plus two", Answer: "four"})
	hits, err := s.Similar(ctx, "two plus two", 3)
	if err != nil || len(hits) != 1 {
		t.Fatalf("expected bm25 hit, got %+v %v", hits, err)
	}
}
