package agents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/mohammad-safakhou/researchd/internal/research"
	"github.com/mohammad-safakhou/researchd/memory"
	"github.com/mohammad-safakhou/researchd/provider"
	"github.com/mohammad-safakhou/researchd/tools/web_fetch"
	"github.com/mohammad-safakhou/researchd/tools/web_search"
)

// ErrFatal marks a stage failure that must halt the pipeline. Wrap it with
// fmt.Errorf("%w: ...", ErrFatal) so the engine can detect it with errors.Is.
var ErrFatal = errors.New("fatal stage failure")

// NoSourcesMessage is used wherever a stage has no research results to work from.
const NoSourcesMessage = "No sources were found for this query."

// Stage names, also used as the "stage" field of stage events.
const (
	StageResearcher = "researcher"
	StageSummarizer = "summarizer"
	StageValidator  = "validator"
	StagePresenter  = "presenter"
)

// Emitter pushes incremental answer text to subscribers.
type Emitter interface {
	Emit(chunk string) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(chunk string) error

func (f EmitterFunc) Emit(chunk string) error { return f(chunk) }

// Discard is an Emitter that drops every chunk.
var Discard Emitter = EmitterFunc(func(string) error { return nil })

// Result is what a stage hands back to the engine: a state carrying the
// stage's owned fields and the activity lines it produced, in order.
type Result struct {
	State research.State
	Logs  []research.LogLine
}

// Stage is one step of the fixed research pipeline. Apply must not mutate
// its input; returned errors that do not wrap ErrFatal are degradations.
type Stage interface {
	Name() string
	Message() string
	Owns() research.Field
	Apply(ctx context.Context, s research.State, emit Emitter) (Result, error)
}

// Deps are the external ports. Any of LLM, Search and Fetch may be nil;
// Memory defaults to memory.Noop.
type Deps struct {
	LLM    provider.Provider
	Search web_search.WebSearcher
	Fetch  web_fetch.WebFetcher
	Memory memory.Store
	Logger *log.Logger
}

// Options tunes the stages. Zero values take the defaults below.
type Options struct {
	PortTimeout     time.Duration
	StreamTimeout   time.Duration
	MaxSources      int
	MemoryHits      int
	MinExcerptChars int
	ExcerptChars    int
	DigestSources   int
	DigestWords     int
	Concurrency     int
	MaxClaims       int
	EvidenceResults int
	// VerifyWithSearch sends a "verify: <claim>" search per claim.
	VerifyWithSearch bool
	Now              func() time.Time
}

func (o Options) withDefaults() Options {
	if o.PortTimeout <= 0 {
		o.PortTimeout = 30 * time.Second
	}
	if o.StreamTimeout <= 0 {
		o.StreamTimeout = 2 * time.Minute
	}
	if o.MaxSources <= 0 {
		o.MaxSources = 10
	}
	if o.MemoryHits <= 0 {
		o.MemoryHits = 3
	}
	if o.ExcerptChars <= 0 {
		o.ExcerptChars = 500
	}
	if o.DigestSources <= 0 {
		o.DigestSources = 8
	}
	if o.DigestWords <= 0 {
		o.DigestWords = 150
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.MaxClaims <= 0 {
		o.MaxClaims = 5
	}
	if o.EvidenceResults <= 0 {
		o.EvidenceResults = 3
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Pipeline returns the four stages in execution order.
func Pipeline(d Deps, o Options) []Stage {
	if d.Memory == nil {
		d.Memory = memory.Noop{}
	}
	if d.Logger == nil {
		d.Logger = log.New(log.Writer(), "[AGENTS] ", log.LstdFlags)
	}
	o = o.withDefaults()
	return []Stage{
		&Researcher{base{name: StageResearcher, deps: d, opts: o}},
		&Summarizer{base{name: StageSummarizer, deps: d, opts: o}},
		&Validator{base{name: StageValidator, deps: d, opts: o}},
		&Presenter{base{name: StagePresenter, deps: d, opts: o}},
	}
}

// base carries what every stage shares.
type base struct {
	name string
	deps Deps
	opts Options
}

func (b base) Name() string { return b.name }

func (b base) line(level research.Level, format string, args ...any) research.LogLine {
	return research.LogLine{
		Agent:     b.name,
		Level:     level,
		Message:   fmt.Sprintf(format, args...),
		Timestamp: b.opts.Now(),
	}
}

func (b base) logf(format string, args ...any) {
	b.deps.Logger.Printf("%s: "+format, append([]any{b.name}, args...)...)
}

// complete runs one LLM call under the per-call timeout.
func (b base) complete(ctx context.Context, req provider.Request) (string, error) {
	if b.deps.LLM == nil {
		return "", provider.ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, b.opts.PortTimeout)
	defer cancel()
	return b.deps.LLM.Complete(ctx, req)
}

// drain reads a chunk stream until EOF, forwarding each chunk to fn.
// It reports how many chunks were forwarded before any error.
func drain(s provider.ChunkStream, fn func(string) error) (int, error) {
	n := 0
	for {
		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if chunk == "" {
			continue
		}
		if err := fn(chunk); err != nil {
			return n, err
		}
		n++
	}
}
