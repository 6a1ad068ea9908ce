package agents

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/researchd/internal/agents/agentstest"
	"github.com/mohammad-safakhou/researchd/internal/research"
	"github.com/mohammad-safakhou/researchd/memory"
	"github.com/mohammad-safakhou/researchd/provider"
	"github.com/mohammad-safakhou/researchd/tools/web_fetch/models"
	searchmodels "github.com/mohammad-safakhou/researchd/tools/web_search/models"
)

func stages(d Deps, o Options) (*Researcher, *Summarizer, *Validator, *Presenter) {
	d.Logger = log.New(io.Discard, "", 0)
	p := Pipeline(d, o)
	return p[0].(*Researcher), p[1].(*Summarizer), p[2].(*Validator), p[3].(*Presenter)
}

func hasLevel(logs []research.LogLine, level research.Level) bool {
	for _, l := range logs {
		if l.Level == level {
			return true
		}
	}
	return false
}

func TestPipelineOrderAndOwnership(t *testing.T) {
	p := Pipeline(Deps{}, Options{})
	want := []string{StageResearcher, StageSummarizer, StageValidator, StagePresenter}
	var all research.Field
	for i, s := range p {
		if s.Name() != want[i] {
			t.Fatalf("stage %d: got %s want %s", i, s.Name(), want[i])
		}
		if s.Owns()&all != 0 {
			t.Fatalf("stage %s owns fields already owned by an earlier stage", s.Name())
		}
		all |= s.Owns()
		if s.Message() == "" {
			t.Fatalf("stage %s has no message", s.Name())
		}
	}
}

func TestResearcherRanksAndCaps(t *testing.T) {
	search := &agentstest.Search{Results: []searchmodels.Result{
		{Title: "Low", URL: "https://a.example/x", Snippet: "low", Score: 0.2},
		{Title: "<b>High</b>", URL: "https://b.example/", Snippet: "<p>high &amp; mighty</p>", Score: 0.9},
		{Title: "Dup", URL: "https://B.example/?utm_source=x", Snippet: "dup", Score: 0.5},
		{Title: "", URL: "", Snippet: "no url"},
	}}
	r, _, _, _ := stages(Deps{Search: search}, Options{MaxSources: 10})
	res, err := r.Apply(context.Background(), research.NewState("q"), nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got := res.State.ResearchResults
	if len(got) != 2 {
		t.Fatalf("expected 2 sources after dedup, got %+v", got)
	}
	if got[0].Title != "High" || got[0].Excerpt != "high & mighty" {
		t.Fatalf("expected sanitized top source, got %+v", got[0])
	}
	if hasLevel(res.Logs, research.LevelWarn) {
		t.Fatalf("unexpected warning: %+v", res.Logs)
	}
}

func TestResearcherDegradesWithoutSearch(t *testing.T) {
	cases := map[string]Deps{
		"absent":  {},
		"failing": {Search: &agentstest.Search{Err: agentstest.ErrDown}},
		"empty":   {Search: &agentstest.Search{}},
	}
	for name, d := range cases {
		r, _, _, _ := stages(d, Options{})
		res, err := r.Apply(context.Background(), research.NewState("q"), nil)
		if err != nil {
			t.Fatalf("%s: search problems must not fail the stage: %v", name, err)
		}
		if res.State.ResearchResults == nil || len(res.State.ResearchResults) != 0 {
			t.Fatalf("%s: expected empty non-nil results", name)
		}
		if !hasLevel(res.Logs, research.LevelWarn) {
			t.Fatalf("%s: expected a warning line", name)
		}
	}
}

type memStub struct {
	hits []memory.Hit
	err  error
}

func (m memStub) Store(context.Context, memory.Record) error { return nil }
func (m memStub) Similar(context.Context, string, int) ([]memory.Hit, error) {
	return m.hits, m.err
}
func (m memStub) Ping(context.Context) error { return m.err }

func TestResearcherUsesMemoryContext(t *testing.T) {
	mem := memStub{hits: []memory.Hit{{Record: memory.Record{Query: "what is 1+1", Answer: "2", Confidence: 0.8}}}}
	r, _, _, _ := stages(Deps{Memory: mem, Search: agentstest.MathSearch()}, Options{})
	res, _ := r.Apply(context.Background(), research.NewState("what is 2+2"), nil)
	if !strings.Contains(res.State.MemoryContext, "what is 1+1") {
		t.Fatalf("memory context missing: %q", res.State.MemoryContext)
	}

	r, _, _, _ = stages(Deps{Memory: memStub{err: errors.New("boom")}, Search: agentstest.MathSearch()}, Options{})
	res, err := r.Apply(context.Background(), research.NewState("q"), nil)
	if err != nil || res.State.MemoryContext != "" || len(res.State.ResearchResults) != 1 {
		t.Fatalf("memory failure should only degrade: %+v %v", res.State, err)
	}
}

type fetchStub struct{}

func (fetchStub) Exec(_ context.Context, url string) (models.Result, error) {
	if strings.Contains(url, "broken") {
		return models.Result{}, errors.New("fetch failed")
	}
	return models.Result{URL: url, Text: "A much longer body of page text that explains the arithmetic in detail."}, nil
}

func TestResearcherEnrichesShortExcerpts(t *testing.T) {
	search := &agentstest.Search{Results: []searchmodels.Result{
		{Title: "A", URL: "https://a.example", Snippet: "short", Score: 0.9},
		{Title: "B", URL: "https://broken.example", Snippet: "tiny", Score: 0.8},
	}}
	r, _, _, _ := stages(Deps{Search: search, Fetch: fetchStub{}}, Options{MinExcerptChars: 20})
	res, _ := r.Apply(context.Background(), research.NewState("q"), nil)
	if !strings.HasPrefix(res.State.ResearchResults[0].Excerpt, "A much longer") {
		t.Fatalf("excerpt not enriched: %q", res.State.ResearchResults[0].Excerpt)
	}
	if res.State.ResearchResults[1].Excerpt != "tiny" {
		t.Fatalf("failed fetch should keep the snippet")
	}
}

func TestResearcherEnrichmentCountsRunes(t *testing.T) {
	snippet := strings.Repeat("é", 40)
	search := &agentstest.Search{Results: []searchmodels.Result{{Title: "A", URL: "https://a.example", Snippet: snippet, Score: 0.9}}}
	r, _, _, _ := stages(Deps{Search: search, Fetch: fetchStub{}}, Options{MinExcerptChars: 50})
	res, _ := r.Apply(context.Background(), research.NewState("q"), nil)
	if !strings.HasPrefix(res.State.ResearchResults[0].Excerpt, "A much longer") {
		t.Fatalf("a longer page should replace a multi-byte snippet, got %q", res.State.ResearchResults[0].Excerpt)
	}
}

func sourcesState(n int) research.State {
	s := research.NewState("what is 2+2?")
	for i := 0; i < n; i++ {
		s.ResearchResults = append(s.ResearchResults, research.Source{
			Title: "Source " + string(rune('A'+i)), URL: "https://s.example/" + string(rune('a'+i)), Excerpt: "2+2=4", RelevanceScore: 0.5,
		})
	}
	return s
}

func TestSummarizerEmptyInput(t *testing.T) {
	_, s, _, _ := stages(Deps{LLM: &agentstest.LLM{}}, Options{})
	res, err := s.Apply(context.Background(), research.NewState("q"), nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.State.CombinedSummary != NoSourcesMessage || len(res.State.Summaries) != 0 {
		t.Fatalf("unexpected state %+v", res.State)
	}
}

func TestSummarizerCapsAndKeepsOrder(t *testing.T) {
	llm := &agentstest.LLM{}
	_, s, _, _ := stages(Deps{LLM: llm}, Options{DigestSources: 3})
	res, err := s.Apply(context.Background(), sourcesState(5), nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(res.State.Summaries) != 3 {
		t.Fatalf("expected 3 digests, got %d", len(res.State.Summaries))
	}
	for i, d := range res.State.Summaries {
		if d.SourceTitle != "Source "+string(rune('A'+i)) {
			t.Fatalf("digest %d out of order: %s", i, d.SourceTitle)
		}
	}
	if res.State.CombinedSummary != "The sources agree that 2+2 equals 4." {
		t.Fatalf("unexpected synthesis %q", res.State.CombinedSummary)
	}
	var temps []float32
	for _, c := range llm.Calls() {
		temps = append(temps, c.Temperature)
	}
	if len(temps) != 4 || temps[3] != 0.4 {
		t.Fatalf("expected 3 digests at 0.3 and synthesis at 0.4, got %v", temps)
	}
}

func TestSummarizerSynthesisFallback(t *testing.T) {
	llm := &agentstest.LLM{Respond: func(req provider.Request) (string, error) {
		if req.Temperature == 0.4 {
			return "", agentstest.ErrDown
		}
		return agentstest.Canned(req), nil
	}}
	_, s, _, _ := stages(Deps{LLM: llm}, Options{})
	res, err := s.Apply(context.Background(), sourcesState(2), nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	want := "2+2 equals 4 according to the source.\n\n2+2 equals 4 according to the source."
	if res.State.CombinedSummary != want {
		t.Fatalf("expected joined digests, got %q", res.State.CombinedSummary)
	}
	if !hasLevel(res.Logs, research.LevelWarn) {
		t.Fatalf("fallback should be logged as a warning")
	}
}

func TestSummarizerAllDigestsFailIsRecoverable(t *testing.T) {
	_, s, _, _ := stages(Deps{LLM: agentstest.Failing()}, Options{})
	_, err := s.Apply(context.Background(), sourcesState(2), nil)
	if err == nil || errors.Is(err, ErrFatal) {
		t.Fatalf("expected a recoverable error, got %v", err)
	}
}

func TestValidatorClaimsAndConfidence(t *testing.T) {
	llm := &agentstest.LLM{}
	_, _, v, _ := stages(Deps{LLM: llm}, Options{})
	st := sourcesState(1)
	st.CombinedSummary = "The sources agree that 2+2 equals 4."
	res, err := v.Apply(context.Background(), st, nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got := res.State
	if len(got.Validations) != 2 || got.Validations[0].Text != "2+2 equals 4" {
		t.Fatalf("unexpected claims %+v", got.Validations)
	}
	if got.Confidence() != 0.9 || got.ValidationStats.Supported != 2 {
		t.Fatalf("unexpected confidence %v stats %+v", got.Confidence(), got.ValidationStats)
	}
}

func TestValidatorEmptySummaryAndFailures(t *testing.T) {
	_, _, v, _ := stages(Deps{LLM: &agentstest.LLM{}}, Options{})
	res, err := v.Apply(context.Background(), research.NewState("q"), nil)
	if err != nil || len(res.State.Validations) != 0 || res.State.OverallConfidence == nil || *res.State.OverallConfidence != 0 {
		t.Fatalf("empty summary must yield no claims and zero confidence: %+v %v", res.State, err)
	}

	llm := &agentstest.LLM{Respond: func(req provider.Request) (string, error) {
		if req.Temperature == 0.2 {
			return "", agentstest.ErrDown
		}
		return "1. first claim\n2. second claim\n3. first claim\n4. third\n5. fourth\n6. fifth\n7. sixth", nil
	}}
	_, _, v, _ = stages(Deps{LLM: llm}, Options{})
	st := research.NewState("q")
	st.CombinedSummary = "something"
	res, err = v.Apply(context.Background(), st, nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(res.State.Validations) != 5 {
		t.Fatalf("claims must be deduped and clamped to 5, got %d", len(res.State.Validations))
	}
	for _, c := range res.State.Validations {
		if c.Verdict != research.VerdictUncertain || c.Confidence != 0 {
			t.Fatalf("failed verdict call should give UNCERTAIN/0, got %+v", c)
		}
	}
}

func TestValidatorVerifiesWithSearch(t *testing.T) {
	search := agentstest.MathSearch()
	_, _, v, _ := stages(Deps{LLM: &agentstest.LLM{}, Search: search}, Options{VerifyWithSearch: true})
	st := sourcesState(1)
	st.CombinedSummary = "2+2 equals 4"
	res, _ := v.Apply(context.Background(), st, nil)
	if len(res.State.Validations) == 0 || len(res.State.Validations[0].SupportingSources) != 1 {
		t.Fatalf("expected search evidence urls, got %+v", res.State.Validations)
	}
	found := false
	for _, q := range search.Queries() {
		if strings.HasPrefix(q, "verify: ") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a verify: search, saw %v", search.Queries())
	}
}

func TestParseVerdict(t *testing.T) {
	cases := []struct {
		in   string
		v    research.Verdict
		conf float64
		expl string
	}{
		{"VERDICT: SUPPORTED\nCONFIDENCE: 0.8\nEXPLANATION: fine", research.VerdictSupported, 0.8, "fine"},
		{"**Verdict:** CONTRADICTED\n**Confidence:** 85%\nExplanation: no", research.VerdictUnsupported, 0.85, "no"},
		{"VERDICT: INSUFFICIENT_EVIDENCE\nCONFIDENCE: high", research.VerdictUncertain, 0.5, "VERDICT: INSUFFICIENT_EVIDENCE\nCONFIDENCE: high"},
		{"VERDICT: refuted\nCONFIDENCE: 7", research.VerdictUnsupported, 0.07, "VERDICT: refuted\nCONFIDENCE: 7"},
		{"VERDICT: maybe\nCONFIDENCE: -3", research.VerdictUncertain, 0, "VERDICT: maybe\nCONFIDENCE: -3"},
		{"VERDICT: SUPPORTED\nCONFIDENCE: 1.5", research.VerdictSupported, 1, "VERDICT: SUPPORTED\nCONFIDENCE: 1.5"},
		{"VERDICT: SUPPORTED\nCONFIDENCE: 250", research.VerdictSupported, 1, "VERDICT: SUPPORTED\nCONFIDENCE: 250"},
		{"1. Verdict: SUPPORTED\n2. Confidence: 0.9\n3. Explanation: sums", research.VerdictSupported, 0.9, "sums"},
		{"- VERDICT: UNSUPPORTED\n- CONFIDENCE: 60%", research.VerdictUnsupported, 0.6, "- VERDICT: UNSUPPORTED\n- CONFIDENCE: 60%"},
	}
	for _, c := range cases {
		v, conf, expl := parseVerdict(c.in)
		if v != c.v || conf != c.conf || expl != c.expl {
			t.Fatalf("parseVerdict(%q) = %s %v %q", c.in, v, conf, expl)
		}
	}
}

func TestParseClaims(t *testing.T) {
	got := parseClaims("Claims:\n- One\n* two\n3) Three\n\n\"One\"\n• four", 10)
	want := []string{"One", "two", "Three", "four"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("parseClaims = %q", got)
	}
}

func TestPresenterStreamsChunksAndFooter(t *testing.T) {
	_, _, _, p := stages(Deps{LLM: &agentstest.LLM{}}, Options{})
	var chunks []string
	emit := EmitterFunc(func(c string) error { chunks = append(chunks, c); return nil })
	st := sourcesState(1)
	st.OverallConfidence = research.Float(0.9)
	res, err := p.Apply(context.Background(), st, emit)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 2 answer chunks and a footer, got %q", chunks)
	}
	if res.State.FinalResponse != strings.Join(chunks, "") {
		t.Fatalf("final response must equal the concatenated chunks")
	}
	if !strings.Contains(chunks[2], "Sources analyzed: 1") || !strings.Contains(chunks[2], "90.0%") {
		t.Fatalf("unexpected footer %q", chunks[2])
	}
}

func TestPresenterFailureModes(t *testing.T) {
	_, _, _, p := stages(Deps{LLM: agentstest.Failing()}, Options{})
	if _, err := p.Apply(context.Background(), research.NewState("q"), Discard); !errors.Is(err, ErrFatal) {
		t.Fatalf("unreachable model must be fatal, got %v", err)
	}
	_, _, _, p = stages(Deps{}, Options{})
	if _, err := p.Apply(context.Background(), research.NewState("q"), Discard); !errors.Is(err, ErrFatal) {
		t.Fatalf("missing model must be fatal, got %v", err)
	}
	_, _, _, p = stages(Deps{LLM: &agentstest.LLM{Chunks: []string{}, StreamErr: agentstest.ErrDown}}, Options{})
	if _, err := p.Apply(context.Background(), research.NewState("q"), Discard); !errors.Is(err, ErrFatal) {
		t.Fatalf("stream failing before any chunk must be fatal, got %v", err)
	}

	_, _, _, p = stages(Deps{LLM: &agentstest.LLM{Chunks: []string{"partial "}, StreamErr: agentstest.ErrDown}}, Options{})
	res, err := p.Apply(context.Background(), research.NewState("q"), Discard)
	if err != nil {
		t.Fatalf("partial output must not fail: %v", err)
	}
	if !strings.HasPrefix(res.State.FinalResponse, "partial ") || !strings.Contains(res.State.FinalResponse, NoSourcesMessage) {
		t.Fatalf("unexpected partial response %q", res.State.FinalResponse)
	}
	if !hasLevel(res.Logs, research.LevelWarn) {
		t.Fatalf("interrupted stream should be logged as a warning")
	}
}

func TestPortTimeoutsDegradeStages(t *testing.T) {
	opts := Options{PortTimeout: 50 * time.Millisecond, StreamTimeout: 50 * time.Millisecond}

	r, _, _, _ := stages(Deps{Search: &agentstest.Search{Hang: true}}, opts)
	start := time.Now()
	res, err := r.Apply(context.Background(), research.NewState("q"), nil)
	if err != nil {
		t.Fatalf("researcher: a search timeout must not fail the stage: %v", err)
	}
	if len(res.State.ResearchResults) != 0 || !hasLevel(res.Logs, research.LevelWarn) {
		t.Fatalf("researcher: expected no sources and a warning, got %+v", res)
	}
	if took := time.Since(start); took > 2*time.Second {
		t.Fatalf("researcher: search was not bounded by the port timeout (%s)", took)
	}

	_, s, v, p := stages(Deps{LLM: &agentstest.LLM{Hang: true}}, opts)
	if _, err := s.Apply(context.Background(), sourcesState(2), nil); err == nil || errors.Is(err, ErrFatal) {
		t.Fatalf("summarizer: timed out digests must be recoverable, got %v", err)
	}

	st := sourcesState(1)
	st.CombinedSummary = "2+2 equals 4"
	res, err = v.Apply(context.Background(), st, nil)
	if err != nil {
		t.Fatalf("validator: a timed out model must not fail the stage: %v", err)
	}
	if len(res.State.Validations) != 0 || res.State.OverallConfidence == nil || *res.State.OverallConfidence != 0 || !hasLevel(res.Logs, research.LevelWarn) {
		t.Fatalf("validator: expected no claims, zero confidence and a warning, got %+v", res)
	}

	_, _, _, p = stages(Deps{LLM: &agentstest.LLM{HangStream: true}}, opts)
	if _, err := p.Apply(context.Background(), st, Discard); !errors.Is(err, ErrFatal) {
		t.Fatalf("presenter: a stream that times out before any chunk must be fatal, got %v", err)
	}
}
