package memory

import (
	"context"
	"errors"
	"testing"
)

func TestNoopIsUnavailable(t *testing.T) {
	var s Store = Noop{}
	if err := s.Ping(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := s.Similar(context.Background(), "q", 3); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestRankPrefersVectorsThenTerms(t *testing.T) {
	recs := []Record{
		{ID: "a", Query: "history of rome", Answer: "the empire", Vector: []float32{0, 1}},
		{ID: "b", Query: "go concurrency patterns", Answer: "channels and goroutines", Vector: []float32{1, 0}},
		{ID: "c", Query: "unrelated", Answer: "nothing"},
	}
	hits := Rank("goroutines", []float32{1, 0.1}, recs, 2)
	if len(hits) != 2 || hits[0].ID != "b" {
		t.Fatalf("unexpected vector ranking %+v", hits)
	}
	hits = Rank("go concurrency with channels", nil, recs, 3)
	if len(hits) != 1 || hits[0].ID != "b" {
		t.Fatalf("unexpected term ranking %+v", hits)
	}
}

func TestCosine(t *testing.T) {
	if Cosine(nil, []float32{1}) != 0 {
		t.Fatalf("empty vector must score 0")
	}
	if c := Cosine([]float32{1, 1}, []float32{2, 2}); c < 0.999 {
		t.Fatalf("parallel vectors should score 1, got %f", c)
	}
}
