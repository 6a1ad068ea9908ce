package agents

import (
	"context"
	"errors"
	"sync/atomic"
	"unicode/utf8"

	"github.com/mohammad-safakhou/researchd/internal/helpers"
	"github.com/mohammad-safakhou/researchd/internal/research"
	"github.com/mohammad-safakhou/researchd/memory"
	"golang.org/x/sync/errgroup"
)

// Researcher gathers ranked web sources and prior answers for the query.
type Researcher struct{ base }

func (r *Researcher) Message() string { return "Researching web sources..." }

func (r *Researcher) Owns() research.Field {
	return research.FieldMemoryContext | research.FieldResearchResults
}

func (r *Researcher) Apply(ctx context.Context, s research.State, _ Emitter) (Result, error) {
	out := research.State{Query: s.Query, ResearchResults: []research.Source{}}
	var logs []research.LogLine

	out.MemoryContext, logs = r.recall(ctx, s.Query, logs)

	if r.deps.Search == nil {
		logs = append(logs, r.line(research.LevelWarn, "Web search is not configured; continuing without sources"))
		return Result{State: out, Logs: logs}, nil
	}

	sctx, cancel := context.WithTimeout(ctx, r.opts.PortTimeout)
	results, err := r.deps.Search.Search(sctx, s.Query, r.opts.MaxSources)
	cancel()
	if err != nil {
		r.logf("search failed: %v", err)
		logs = append(logs, r.line(research.LevelWarn, "Web search failed; continuing without sources"))
		return Result{State: out, Logs: logs}, nil
	}
	if len(results) == 0 {
		logs = append(logs, r.line(research.LevelWarn, "Web search returned no results"))
		return Result{State: out, Logs: logs}, nil
	}

	sources := make([]research.Source, 0, len(results))
	for _, res := range results {
		if res.URL == "" {
			continue
		}
		sources = append(sources, research.Source{
			Title:          helpers.PlainText(res.Title),
			URL:            res.URL,
			Excerpt:        helpers.Excerpt(res.Snippet, r.opts.ExcerptChars),
			RelevanceScore: res.Score,
		})
	}
	out.ResearchResults = research.RankSources(sources, r.opts.MaxSources)

	if n := r.enrich(ctx, out.ResearchResults); n > 0 {
		logs = append(logs, r.line(research.LevelInfo, "Expanded %d short excerpts from the source pages", n))
	}
	logs = append(logs, r.line(research.LevelInfo, "Found %d relevant sources", len(out.ResearchResults)))
	return Result{State: out, Logs: logs}, nil
}

// recall looks up prior answers; every failure means "no memory".
func (r *Researcher) recall(ctx context.Context, query string, logs []research.LogLine) (string, []research.LogLine) {
	mctx, cancel := context.WithTimeout(ctx, r.opts.PortTimeout)
	defer cancel()
	hits, err := r.deps.Memory.Similar(mctx, query, r.opts.MemoryHits)
	switch {
	case errors.Is(err, memory.ErrUnavailable):
		return "", logs
	case err != nil:
		r.logf("memory lookup failed: %v", err)
		return "", append(logs, r.line(research.LevelWarn, "Memory lookup failed; continuing without prior context"))
	case len(hits) == 0:
		return "", logs
	}
	return memoryContextText(hits, r.opts.ExcerptChars),
		append(logs, r.line(research.LevelInfo, "Found %d related past answers in memory", len(hits)))
}

// enrich replaces excerpts shorter than MinExcerptChars with readable page
// text. It edits sources in place and returns how many were expanded.
func (r *Researcher) enrich(ctx context.Context, sources []research.Source) int {
	if r.deps.Fetch == nil || r.opts.MinExcerptChars <= 0 {
		return 0
	}
	var expanded atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for i := range sources {
		if utf8.RuneCountInString(sources[i].Excerpt) >= r.opts.MinExcerptChars {
			continue
		}
		i := i
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, r.opts.PortTimeout)
			defer cancel()
			page, err := r.deps.Fetch.Exec(fctx, sources[i].URL)
			if err != nil {
				r.logf("fetch %s: %v", sources[i].URL, err)
				return nil
			}
			text := helpers.Excerpt(page.Text, r.opts.ExcerptChars)
			if utf8.RuneCountInString(text) > utf8.RuneCountInString(sources[i].Excerpt) {
				sources[i].Excerpt = text
				expanded.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(expanded.Load())
}
