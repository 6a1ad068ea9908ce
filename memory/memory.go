// Package memory stores answered research queries so later queries on a
// similar topic can start from prior findings.
package memory

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"
)

// ErrUnavailable is returned by stores that have no backend.
var ErrUnavailable = errors.New("memory store unavailable")

// Record is one remembered answer.
type Record struct {
	ID         string    `json:"id"`
	Query      string    `json:"query"`
	Answer     string    `json:"answer"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
	Vector     []float32 `json:"vector,omitempty"`
}

// Hit is a record returned by a similarity lookup.
type Hit struct {
	Record
	Score float64 `json:"score"`
}

// Store is the memory port consumed by the pipeline. Every method may fail;
// callers treat failures as "no memory".
type Store interface {
	Store(ctx context.Context, rec Record) error
	Similar(ctx context.Context, query string, limit int) ([]Hit, error)
	Ping(ctx context.Context) error
}

// Noop is used when no memory backend is configured.
type Noop struct{}

func (Noop) Store(context.Context, Record) error { return ErrUnavailable }
func (Noop) Similar(context.Context, string, int) ([]Hit, error) {
	return nil, ErrUnavailable
}
func (Noop) Ping(context.Context) error { return ErrUnavailable }

// Cosine similarity of two vectors; 0 when either is empty.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Terms lower-cases s and splits it into alphanumeric words of 3+ runes.
func Terms(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(w)) >= 3 {
			out[w] = struct{}{}
		}
	}
	return out
}

// Overlap is the Jaccard similarity of the term sets of a and b.
func Overlap(a, b string) float64 {
	ta, tb := Terms(a), Terms(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for w := range ta {
		if _, ok := tb[w]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(ta)+len(tb)-inter)
}

// Rank scores candidates against query, preferring vector similarity when
// both sides carry a vector. Zero-score candidates are dropped.
func Rank(query string, qvec []float32, candidates []Record, limit int) []Hit {
	hits := make([]Hit, 0, len(candidates))
	for _, rec := range candidates {
		var score float64
		if len(qvec) > 0 && len(rec.Vector) > 0 {
			score = Cosine(qvec, rec.Vector)
		} else {
			score = Overlap(query, rec.Query+" "+rec.Answer)
		}
		if score > 0 {
			hits = append(hits, Hit{Record: rec, Score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}
