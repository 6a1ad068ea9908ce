package inmemory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve"
	"github.com/google/uuid"
	"github.com/mohammad-safakhou/researchd/memory"
	"github.com/mohammad-safakhou/researchd/provider"
)

const rrfK = 60 // reciprocal-rank-fusion constant

// DefaultMaxRecords bounds the store; the oldest records are evicted first.
const DefaultMaxRecords = 1000

type doc struct {
	Query  string `json:"query"`
	Answer string `json:"answer"`
}

// Store is a process-local memory combining a bleve BM25 index with cosine
// search over embeddings when an embedder is configured.
type Store struct {
	index    bleve.Index
	embedder provider.Embedder
	max      int

	mu      sync.RWMutex
	records map[string]memory.Record
	order   []string
}

var _ memory.Store = (*Store)(nil)

// New returns an empty store. embedder may be nil.
func New(embedder provider.Embedder, maxRecords int) (*Store, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("bleve index: %w", err)
	}
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &Store{index: index, embedder: embedder, max: maxRecords, records: map[string]memory.Record{}}, nil
}

func (s *Store) Ping(context.Context) error { return nil }

// Close releases the index.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Close()
}

func (s *Store) embed(ctx context.Context, text string) []float32 {
	if s.embedder == nil {
		return nil
	}
	vecs, err := s.embedder.Embed(ctx, []string{text})
	if err != nil || len(vecs) == 0 {
		return nil
	}
	return vecs[0]
}

func (s *Store) Store(ctx context.Context, rec memory.Record) error {
	if strings.TrimSpace(rec.Query) == "" {
		return fmt.Errorf("memory record without query")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if rec.Vector == nil {
		rec.Vector = s.embed(ctx, rec.Query)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.index.Index(rec.ID, doc{Query: rec.Query, Answer: rec.Answer}); err != nil {
		return fmt.Errorf("index record: %w", err)
	}
	if _, exists := s.records[rec.ID]; !exists {
		s.order = append(s.order, rec.ID)
	}
	s.records[rec.ID] = rec
	for len(s.order) > s.max {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.records, oldest)
		_ = s.index.Delete(oldest)
	}
	return nil
}

func (s *Store) Similar(ctx context.Context, query string, limit int) ([]memory.Hit, error) {
	if limit <= 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	qvec := s.embed(ctx, query)

	s.mu.RLock()
	defer s.mu.RUnlock()
	bm25, err := s.bm25(query, limit)
	if err != nil {
		return nil, err
	}
	var vec []memory.Hit
	if len(qvec) > 0 {
		candidates := make([]memory.Record, 0, len(s.records))
		for _, id := range s.order {
			candidates = append(candidates, s.records[id])
		}
		vec = memory.Rank(query, qvec, candidates, limit*3)
	}
	return fuseRRF(bm25, vec, limit), nil
}

func (s *Store) bm25(q string, k int) ([]memory.Hit, error) {
	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(q), k*3, 0, false)
	res, err := s.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("bleve search: %w", err)
	}
	out := make([]memory.Hit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		rec, ok := s.records[hit.ID]
		if !ok {
			continue
		}
		out = append(out, memory.Hit{Record: rec, Score: hit.Score})
	}
	return out, nil
}

// fuseRRF merges two ranked lists; list position is the rank.
func fuseRRF(a, b []memory.Hit, k int) []memory.Hit {
	type agg struct {
		hit   memory.Hit
		score float64
	}
	m := map[string]*agg{}
	var order []string
	add := func(list []memory.Hit) {
		for i, h := range list {
			x, ok := m[h.ID]
			if !ok {
				x = &agg{hit: h}
				m[h.ID] = x
				order = append(order, h.ID)
			}
			x.score += 1.0 / float64(rrfK+i+1)
		}
	}
	add(a)
	add(b)
	out := make([]memory.Hit, 0, len(order))
	for _, id := range order {
		h := m[id].hit
		h.Score = m[id].score
		out = append(out, h)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out
}
