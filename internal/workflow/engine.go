// Package workflow drives a task through the research pipeline and publishes
// its progress on the task's stream channel.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/mohammad-safakhou/researchd/internal/agents"
	"github.com/mohammad-safakhou/researchd/internal/research"
	"github.com/mohammad-safakhou/researchd/internal/stream"
	"github.com/mohammad-safakhou/researchd/internal/task"
	"github.com/mohammad-safakhou/researchd/internal/telemetry"
	"github.com/mohammad-safakhou/researchd/memory"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrAlreadyClaimed = errors.New("workflow: task already claimed")
	// ErrAbandoned is returned by Run when the task was disposed mid-run.
	ErrAbandoned = errors.New("workflow: task disposed while running")
)

// User-facing failure messages. Details stay in the process log.
const (
	FailureMessage = "Research failed: unable to generate a response"
	PanicMessage   = "Research failed: an internal error occurred"
)

const (
	initialStage   = "initializing"
	initialMessage = "Starting research workflow..."
	doneMessage    = "Research completed"
)

var tracer trace.Tracer = otel.Tracer("researchd/internal/workflow")

// Options configures an Engine. Zero values are usable.
type Options struct {
	Memory       memory.Store
	Metrics      *telemetry.Metrics
	Logger       *log.Logger
	Now          func() time.Time
	StoreTimeout time.Duration
}

// Engine runs tasks through a fixed sequence of stages.
type Engine struct {
	broker       *stream.Broker
	stages       []agents.Stage
	memory       memory.Store
	metrics      *telemetry.Metrics
	logger       *log.Logger
	now          func() time.Time
	storeTimeout time.Duration

	wg sync.WaitGroup
}

// New returns an engine publishing on broker and running stages in order.
func New(broker *stream.Broker, stages []agents.Stage, opts Options) *Engine {
	if opts.Memory == nil {
		opts.Memory = memory.Noop{}
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[ENGINE] ", log.LstdFlags)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 10 * time.Second
	}
	return &Engine{
		broker:       broker,
		stages:       stages,
		memory:       opts.Memory,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		now:          opts.Now,
		storeTimeout: opts.StoreTimeout,
	}
}

// Start claims t and runs it in a new goroutine. ctx only contributes its
// trace; the run is bounded by the task's own context.
func (e *Engine) Start(ctx context.Context, t *task.Task) error {
	if !t.Claim() {
		return ErrAlreadyClaimed
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.run(ctx, t); err != nil {
			e.logger.Printf("task %s: %v", t.ID, err)
		}
	}()
	return nil
}

// Run claims t and runs it to completion on the calling goroutine. It returns
// nil when the task completed.
func (e *Engine) Run(ctx context.Context, t *task.Task) error {
	if !t.Claim() {
		return ErrAlreadyClaimed
	}
	return e.run(ctx, t)
}

// Wait blocks until every started run has returned or ctx ends.
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) run(parent context.Context, t *task.Task) error {
	ctx := trace.ContextWithSpanContext(t.Context(), trace.SpanContextFromContext(parent))
	ctx, span := tracer.Start(ctx, "workflow.run", trace.WithAttributes(attribute.String("task.id", t.ID)))
	defer span.End()

	e.metrics.TaskStarted(ctx)
	defer func() {
		status := t.Status()
		if !status.Terminal() {
			status = "abandoned"
		}
		e.metrics.TaskFinished(context.WithoutCancel(ctx), string(status))
	}()

	state := t.State()
	if err := e.publish(t, stream.KindStatus, stream.StagePayload{Stage: initialStage, Message: initialMessage, Timestamp: e.now()}); err != nil {
		return e.abandon(span, t, state, err)
	}
	t.Start()

	for _, st := range e.stages {
		if t.Disposed() {
			return e.abandon(span, t, state, ErrAbandoned)
		}
		t.EnterStage(st.Message())
		if err := e.publish(t, stream.KindStage, stream.StagePayload{Stage: st.Name(), Message: st.Message(), Timestamp: e.now()}); err != nil {
			return e.abandon(span, t, state, err)
		}

		res, err := e.apply(ctx, st, state, t.ID)
		if t.Disposed() {
			return e.abandon(span, t, state, ErrAbandoned)
		}
		state = state.Overlay(res.State, st.Owns())
		logs := res.Logs
		fatal := errors.Is(err, agents.ErrFatal)
		if err != nil && !fatal {
			e.logger.Printf("task %s: stage %s degraded: %v", t.ID, st.Name(), err)
			logs = append(logs, research.LogLine{
				Agent:     st.Name(),
				Level:     research.LevelWarn,
				Message:   fmt.Sprintf("The %s stage ran into a problem; continuing with partial results", st.Name()),
				Timestamp: e.now(),
			})
		}
		for _, line := range logs {
			state.ActivityLog = append(state.ActivityLog, line)
			if perr := e.publish(t, stream.KindLog, line); perr != nil {
				return e.abandon(span, t, state, perr)
			}
		}
		if fatal {
			return e.fail(span, t, state, st.Name(), err)
		}
		t.SetState(state)
	}
	return e.finish(ctx, span, t, state)
}

// finish stores the answer and publishes the terminal event, unless the task
// was deleted after its last stage.
func (e *Engine) finish(ctx context.Context, span trace.Span, t *task.Task, state research.State) error {
	if t.Disposed() {
		return e.abandon(span, t, state, ErrAbandoned)
	}
	e.remember(ctx, t, state)
	t.Complete(state, e.now())
	if err := e.publish(t, stream.KindComplete, stream.CompletePayload{
		Message:      doneMessage,
		Confidence:   research.ClampUnit(state.Confidence()),
		SourcesCount: len(state.ResearchResults),
	}); err != nil {
		e.logger.Printf("task %s: publish complete: %v", t.ID, err)
	}
	span.SetStatus(codes.Ok, "completed")
	return nil
}

// apply runs one stage inside its own span, turning panics into fatal errors.
func (e *Engine) apply(ctx context.Context, st agents.Stage, state research.State, taskID string) (res agents.Result, err error) {
	ctx, span := tracer.Start(ctx, "workflow.stage", trace.WithAttributes(
		attribute.String("task.id", taskID),
		attribute.String("stage.name", st.Name()),
	))
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Printf("task %s: stage %s panicked: %v\n%s", taskID, st.Name(), r, debug.Stack())
			res = agents.Result{}
			err = fmt.Errorf("%w: stage %s panicked: %v", errPanic, st.Name(), r)
		}
		outcome := "ok"
		switch {
		case errors.Is(err, agents.ErrFatal):
			outcome = "fatal"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case err != nil:
			outcome = "degraded"
			span.RecordError(err)
		}
		e.metrics.StageDone(context.WithoutCancel(ctx), st.Name(), outcome, time.Since(start))
		span.End()
	}()

	emit := agents.EmitterFunc(func(chunk string) error {
		_, perr := e.broker.Publish(taskID, stream.KindResponse, stream.ResponsePayload{Chunk: chunk})
		return perr
	})
	return st.Apply(ctx, state.Clone(), emit)
}

var errPanic = fmt.Errorf("%w: panic", agents.ErrFatal)

func (e *Engine) fail(span trace.Span, t *task.Task, state research.State, stage string, cause error) error {
	msg := FailureMessage
	if errors.Is(cause, errPanic) {
		msg = PanicMessage
	}
	e.logger.Printf("task %s: stage %s failed: %v", t.ID, stage, cause)
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())

	state.ErrorMessage = msg
	t.Fail(state, e.now())
	if err := e.publish(t, stream.KindError, stream.ErrorPayload{Message: msg}); err != nil {
		e.logger.Printf("task %s: publish error event: %v", t.ID, err)
	}
	return fmt.Errorf("stage %s: %w", stage, cause)
}

// abandon stops a run whose events can no longer be delivered. A task that
// is still registered is marked failed so it does not stay running forever.
func (e *Engine) abandon(span trace.Span, t *task.Task, state research.State, cause error) error {
	span.SetStatus(codes.Error, "abandoned")
	if !t.Disposed() {
		e.logger.Printf("task %s: publish failed: %v", t.ID, cause)
		state.ErrorMessage = FailureMessage
		t.Fail(state, e.now())
	}
	if errors.Is(cause, ErrAbandoned) {
		return cause
	}
	return fmt.Errorf("%w: %v", ErrAbandoned, cause)
}

// remember stores the finished answer; failures only reach the process log.
func (e *Engine) remember(ctx context.Context, t *task.Task, state research.State) {
	if state.FinalResponse == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()
	err := e.memory.Store(ctx, memory.Record{
		ID:         t.ID,
		Query:      state.Query,
		Answer:     state.FinalResponse,
		Confidence: state.Confidence(),
		CreatedAt:  e.now(),
	})
	if err != nil && !errors.Is(err, memory.ErrUnavailable) {
		e.logger.Printf("task %s: store answer in memory: %v", t.ID, err)
	}
}

func (e *Engine) publish(t *task.Task, kind stream.Kind, payload interface{}) error {
	_, err := e.broker.Publish(t.ID, kind, payload)
	return err
}
