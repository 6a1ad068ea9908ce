package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/researchd/internal/research"
	"github.com/mohammad-safakhou/researchd/provider"
)

// Presenter streams the final markdown answer. It is the only stage whose
// port failure is fatal: without it the user gets no text at all.
type Presenter struct{ base }

func (p *Presenter) Message() string { return "Preparing final response..." }

func (p *Presenter) Owns() research.Field { return research.FieldFinalResponse }

func (p *Presenter) Apply(ctx context.Context, st research.State, emit Emitter) (Result, error) {
	if emit == nil {
		emit = Discard
	}
	out := research.State{Query: st.Query}
	var logs []research.LogLine

	if p.deps.LLM == nil {
		return Result{State: out}, fmt.Errorf("%w: %v", ErrFatal, provider.ErrNotConfigured)
	}

	sctx, cancel := context.WithTimeout(ctx, p.opts.StreamTimeout)
	defer cancel()
	stream, err := p.deps.LLM.Stream(sctx, provider.Prompt(presenterSystem, presenterPrompt(st, 5), 0.6, 1200))
	if err != nil {
		return Result{State: out}, fmt.Errorf("%w: open response stream: %v", ErrFatal, err)
	}
	defer stream.Close()

	var answer strings.Builder
	var emitErr error
	n, err := drain(stream, func(chunk string) error {
		if e := emit.Emit(chunk); e != nil {
			emitErr = e
			return e
		}
		answer.WriteString(chunk)
		return nil
	})
	if emitErr != nil {
		return Result{State: out}, fmt.Errorf("publish response chunk: %w", emitErr)
	}
	if err != nil && n == 0 {
		return Result{State: out}, fmt.Errorf("%w: response stream: %v", ErrFatal, err)
	}
	if n == 0 {
		return Result{State: out}, fmt.Errorf("%w: empty response from language model", ErrFatal)
	}
	if err != nil {
		p.logf("response stream broke after %d chunks: %v", n, err)
		logs = append(logs, p.line(research.LevelWarn, "Response stream was interrupted; the answer may be incomplete"))
	}

	footer := metadataFooter(st)
	if e := emit.Emit(footer); e != nil {
		return Result{State: out}, fmt.Errorf("publish response footer: %w", e)
	}
	answer.WriteString(footer)

	out.FinalResponse = answer.String()
	logs = append(logs, p.line(research.LevelInfo, "Final response prepared (%d characters)", len([]rune(out.FinalResponse))))
	return Result{State: out, Logs: logs}, nil
}
