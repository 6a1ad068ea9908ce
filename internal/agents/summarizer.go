package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/researchd/internal/research"
	"github.com/mohammad-safakhou/researchd/provider"
	"golang.org/x/sync/errgroup"
)

// Summarizer digests the top sources and synthesizes one combined summary.
type Summarizer struct{ base }

func (s *Summarizer) Message() string { return "Summarizing findings..." }

func (s *Summarizer) Owns() research.Field {
	return research.FieldSummaries | research.FieldCombinedSummary
}

func (s *Summarizer) Apply(ctx context.Context, st research.State, _ Emitter) (Result, error) {
	out := research.State{Query: st.Query, Summaries: []research.Digest{}}
	var logs []research.LogLine

	if len(st.ResearchResults) == 0 {
		out.CombinedSummary = NoSourcesMessage
		logs = append(logs, s.line(research.LevelWarn, "No sources to summarize"))
		return Result{State: out, Logs: logs}, nil
	}

	sources := st.ResearchResults
	if len(sources) > s.opts.DigestSources {
		sources = sources[:s.opts.DigestSources]
	}

	if s.deps.LLM == nil {
		out.Summaries = excerptDigests(sources)
		out.CombinedSummary = joinDigests(out.Summaries)
		logs = append(logs, s.line(research.LevelWarn, "Language model is not configured; using source excerpts as summaries"))
		return Result{State: out, Logs: logs}, nil
	}

	digests, failed := s.digest(ctx, st.Query, sources)
	for _, src := range failed {
		logs = append(logs, s.line(research.LevelWarn, "Could not summarize %q", src.Title))
	}
	if len(digests) == 0 {
		return Result{State: out, Logs: logs}, fmt.Errorf("summarize: all %d sources failed", len(sources))
	}
	out.Summaries = digests

	combined, err := s.complete(ctx, provider.Prompt(synthesisSystem, synthesisPrompt(st.Query, st.MemoryContext, digests), 0.4, 800))
	combined = strings.TrimSpace(combined)
	if err != nil || combined == "" {
		if err != nil {
			s.logf("synthesis failed: %v", err)
		}
		out.CombinedSummary = joinDigests(digests)
		logs = append(logs, s.line(research.LevelWarn, "Synthesis failed; combined summary built from individual digests"))
	} else {
		out.CombinedSummary = combined
	}
	logs = append(logs, s.line(research.LevelInfo, "Summarized %d of %d sources", len(digests), len(sources)))
	return Result{State: out, Logs: logs}, nil
}

// digest summarizes sources concurrently. Digests keep source order; the
// failed sources are returned in order too.
func (s *Summarizer) digest(ctx context.Context, query string, sources []research.Source) ([]research.Digest, []research.Source) {
	slots := make([]*research.Digest, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			text, err := s.complete(gctx, provider.Prompt(digestSystem, digestPrompt(query, src, s.opts.DigestWords), 0.3, 500))
			text = strings.TrimSpace(text)
			if err != nil || text == "" {
				if err != nil {
					s.logf("digest %s: %v", src.URL, err)
				}
				return nil
			}
			slots[i] = &research.Digest{
				SourceTitle:   src.Title,
				SourceURL:     src.URL,
				Summary:       text,
				OriginalScore: src.RelevanceScore,
			}
			return nil
		})
	}
	_ = g.Wait()

	var digests []research.Digest
	var failed []research.Source
	for i, d := range slots {
		if d == nil {
			failed = append(failed, sources[i])
			continue
		}
		digests = append(digests, *d)
	}
	return digests, failed
}

func excerptDigests(sources []research.Source) []research.Digest {
	out := make([]research.Digest, 0, len(sources))
	for _, src := range sources {
		if strings.TrimSpace(src.Excerpt) == "" {
			continue
		}
		out = append(out, research.Digest{
			SourceTitle:   src.Title,
			SourceURL:     src.URL,
			Summary:       src.Excerpt,
			OriginalScore: src.RelevanceScore,
		})
	}
	return out
}

func joinDigests(digests []research.Digest) string {
	parts := make([]string, 0, len(digests))
	for _, d := range digests {
		parts = append(parts, d.Summary)
	}
	return strings.Join(parts, "\n\n")
}
