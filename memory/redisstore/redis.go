package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/researchd/memory"
	"github.com/mohammad-safakhou/researchd/provider"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "researchd:memory"
	// DefaultWindow is how many recent records a lookup scores.
	DefaultWindow = 200
)

// Options configures the Redis memory store.
type Options struct {
	Prefix string
	TTL    time.Duration // 0 keeps records until evicted by MaxRecords
	// MaxRecords trims the index to the newest records; 0 is unlimited.
	MaxRecords int
	Window     int
	Embedder   provider.Embedder
}

// Store keeps records as JSON strings indexed by a sorted set of creation
// times. Similarity is computed client-side over the newest Window records.
type Store struct {
	client *redis.Client
	opts   Options
}

var _ memory.Store = (*Store)(nil)

// NewFromURL parses a redis:// URL.
func NewFromURL(rawURL string, opts Options) (*Store, error) {
	ro, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return New(redis.NewClient(ro), opts), nil
}

func New(client *redis.Client, opts Options) *Store {
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	return &Store{client: client, opts: opts}
}

func (s *Store) indexKey() string { return s.opts.Prefix + ":ids" }
func (s *Store) recordKey(id string) string { return s.opts.Prefix + ":rec:" + id }

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.client.Close() }

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
	if rec.Vector == nil && s.opts.Embedder != nil {
		if vecs, err := s.opts.Embedder.Embed(ctx, []string{rec.Query}); err == nil && len(vecs) > 0 {
			rec.Vector = vecs[0]
		}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.recordKey(rec.ID), data, s.opts.TTL)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(rec.CreatedAt.UnixNano()), Member: rec.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis store: %w", err)
	}
	return s.trim(ctx)
}

// trim evicts the oldest records beyond MaxRecords.
func (s *Store) trim(ctx context.Context) error {
	if s.opts.MaxRecords <= 0 {
		return nil
	}
	victims, err := s.client.ZRange(ctx, s.indexKey(), 0, int64(-s.opts.MaxRecords-1)).Result()
	if err != nil {
		return fmt.Errorf("redis trim: %w", err)
	}
	if len(victims) == 0 {
		return nil
	}
	keys := make([]string, len(victims))
	members := make([]interface{}, len(victims))
	for i, id := range victims {
		keys[i] = s.recordKey(id)
		members[i] = id
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.ZRem(ctx, s.indexKey(), members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis trim: %w", err)
	}
	return nil
}

func (s *Store) Similar(ctx context.Context, query string, limit int) ([]memory.Hit, error) {
	if limit <= 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, int64(s.opts.Window-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	var stale []interface{}
	candidates := make([]memory.Record, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// expired by TTL; drop it from the index
			stale = append(stale, ids[i])
			continue
		}
		var rec memory.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		candidates = append(candidates, rec)
	}
	if len(stale) > 0 {
		_ = s.client.ZRem(ctx, s.indexKey(), stale...).Err()
	}

	var qvec []float32
	if s.opts.Embedder != nil {
		if vecs, err := s.opts.Embedder.Embed(ctx, []string{query}); err == nil && len(vecs) > 0 {
			qvec = vecs[0]
		}
	}
	return memory.Rank(query, qvec, candidates, limit), nil
}
