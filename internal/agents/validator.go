package agents

import (
	"context"
	"sort"
	"strings"

	"github.com/mohammad-safakhou/researchd/internal/helpers"
	"github.com/mohammad-safakhou/researchd/internal/research"
	"github.com/mohammad-safakhou/researchd/memory"
	"github.com/mohammad-safakhou/researchd/provider"
	"golang.org/x/sync/errgroup"
)

// Validator extracts the key claims of the combined summary and checks each
// one against web evidence.
type Validator struct{ base }

func (v *Validator) Message() string { return "Validating facts..." }

func (v *Validator) Owns() research.Field {
	return research.FieldValidations | research.FieldOverallConfidence | research.FieldValidationStats
}

func (v *Validator) Apply(ctx context.Context, st research.State, _ Emitter) (Result, error) {
	out := research.State{Query: st.Query, Validations: []research.Claim{}, OverallConfidence: research.Float(0)}
	var logs []research.LogLine

	summary := strings.TrimSpace(st.CombinedSummary)
	if summary == "" || summary == NoSourcesMessage {
		logs = append(logs, v.line(research.LevelWarn, "No summary to validate"))
		return Result{State: out, Logs: logs}, nil
	}
	if v.deps.LLM == nil {
		logs = append(logs, v.line(research.LevelWarn, "Language model is not configured; skipping fact validation"))
		return Result{State: out, Logs: logs}, nil
	}

	listing, err := v.complete(ctx, provider.Prompt(claimsSystem, claimsPrompt(summary, v.opts.MaxClaims), 0.3, 300))
	if err != nil {
		v.logf("claim extraction failed: %v", err)
		logs = append(logs, v.line(research.LevelWarn, "Could not extract claims; skipping fact validation"))
		return Result{State: out, Logs: logs}, nil
	}
	texts := parseClaims(listing, v.opts.MaxClaims)
	if len(texts) == 0 {
		logs = append(logs, v.line(research.LevelWarn, "No factual claims found in the summary"))
		return Result{State: out, Logs: logs}, nil
	}

	claims := make([]research.Claim, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.opts.Concurrency)
	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			claims[i] = v.check(gctx, text, st.ResearchResults)
			return nil
		})
	}
	_ = g.Wait()

	out.Validations = claims
	out.OverallConfidence = research.Float(research.MeanConfidence(claims))
	out.ValidationStats = research.Tally(claims)
	stats := out.ValidationStats
	logs = append(logs,
		v.line(research.LevelInfo, "Validated %d claims (confidence: %.2f)", stats.Total, *out.OverallConfidence),
		v.line(research.LevelInfo, "Supported: %d, Unsupported: %d, Uncertain: %d", stats.Supported, stats.Unsupported, stats.Uncertain),
	)
	return Result{State: out, Logs: logs}, nil
}

// check produces a verdict for one claim. It never fails; an unreachable
// model yields UNCERTAIN with zero confidence.
func (v *Validator) check(ctx context.Context, claim string, sources []research.Source) research.Claim {
	ev := v.evidence(ctx, claim, sources)
	urls := make([]string, 0, len(ev))
	for _, e := range ev {
		urls = append(urls, e.URL)
	}

	resp, err := v.complete(ctx, provider.Prompt(verdictSystem, verdictPrompt(claim, ev), 0.2, 300))
	if err != nil {
		v.logf("verdict for %q: %v", claim, err)
		return research.Claim{
			Text:              claim,
			Verdict:           research.VerdictUncertain,
			Explanation:       "Validation failed: the fact-checking model could not be reached",
			SupportingSources: urls,
		}
	}
	verdict, confidence, explanation := parseVerdict(resp)
	return research.Claim{
		Text:              claim,
		Verdict:           verdict,
		Confidence:        confidence,
		Explanation:       explanation,
		SupportingSources: urls,
	}
}

// evidence prefers a dedicated verification search and falls back to the
// research results that share the most terms with the claim.
func (v *Validator) evidence(ctx context.Context, claim string, sources []research.Source) []evidence {
	if v.opts.VerifyWithSearch && v.deps.Search != nil {
		sctx, cancel := context.WithTimeout(ctx, v.opts.PortTimeout)
		results, err := v.deps.Search.Search(sctx, "verify: "+claim, v.opts.EvidenceResults)
		cancel()
		if err == nil && len(results) > 0 {
			out := make([]evidence, 0, len(results))
			for _, r := range results {
				out = append(out, evidence{Title: helpers.PlainText(r.Title), URL: r.URL, Snippet: helpers.Excerpt(r.Snippet, v.opts.ExcerptChars)})
			}
			return out
		}
		if err != nil {
			v.logf("verification search for %q: %v", claim, err)
		}
	}

	type scored struct {
		src   research.Source
		score float64
	}
	var ranked []scored
	for _, src := range sources {
		if s := memory.Overlap(claim, src.Title+" "+src.Excerpt); s > 0 {
			ranked = append(ranked, scored{src, s})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	out := make([]evidence, 0, v.opts.EvidenceResults)
	for _, r := range ranked {
		if len(out) == v.opts.EvidenceResults {
			break
		}
		out = append(out, evidence{Title: r.src.Title, URL: r.src.URL, Snippet: r.src.Excerpt})
	}
	return out
}
