package task

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mohammad-safakhou/researchd/internal/research"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// Task is one query's pipeline execution. The registry owns it; only the
// engine that claimed it mutates its state.
type Task struct {
	ID        string
	Query     string
	CreatedAt time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	claimed atomic.Bool

	mu           sync.RWMutex
	status       Status
	currentStage string
	completedAt  *time.Time
	state        research.State
}

// Snapshot is a consistent copy of a task taken under its lock.
type Snapshot struct {
	ID           string         `json:"task_id"`
	Query        string         `json:"query"`
	Status       Status         `json:"status"`
	CurrentStage string         `json:"current_stage"`
	CreatedAt    time.Time      `json:"created_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	State        research.State `json:"state"`
}

func newTask(id, query string, now time.Time) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	return &Task{
		ID:           id,
		Query:        query,
		CreatedAt:    now,
		ctx:          ctx,
		cancel:       cancel,
		status:       StatusCreated,
		currentStage: "Starting...",
		state:        research.NewState(query),
	}
}

// Claim marks the task as owned by an engine. Only the first call succeeds.
func (t *Task) Claim() bool { return t.claimed.CompareAndSwap(false, true) }

// Context is cancelled when the task is disposed.
func (t *Task) Context() context.Context { return t.ctx }

// Disposed reports whether the task was removed from its registry.
func (t *Task) Disposed() bool { return t.ctx.Err() != nil }

// Status returns the current status.
func (t *Task) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// State returns a deep copy of the pipeline state.
func (t *Task) State() research.State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.Clone()
}

// Snapshot returns a consistent copy of the task.
func (t *Task) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap := Snapshot{
		ID:           t.ID,
		Query:        t.Query,
		Status:       t.status,
		CurrentStage: t.currentStage,
		CreatedAt:    t.CreatedAt,
		State:        t.state.Clone(),
	}
	if t.completedAt != nil {
		at := *t.completedAt
		snap.CompletedAt = &at
	}
	return snap
}

// Start moves a created task to running.
func (t *Task) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == StatusCreated {
		t.status = StatusRunning
	}
}

// EnterStage records the human-readable stage message.
func (t *Task) EnterStage(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.currentStage = message
}

// SetState replaces the pipeline state with a copy of s.
func (t *Task) SetState(s research.State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s.Clone()
}

// Complete records the final state and marks the task completed.
func (t *Task) Complete(s research.State, at time.Time) {
	t.finish(StatusCompleted, "Completed", s, at)
}

// Fail records the state with its error message and marks the task failed.
func (t *Task) Fail(s research.State, at time.Time) {
	t.finish(StatusFailed, "Failed", s, at)
}

func (t *Task) finish(status Status, stage string, s research.State, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return
	}
	t.status = status
	t.currentStage = stage
	t.state = s.Clone()
	t.completedAt = &at
}

func (t *Task) finishedBefore(cutoff time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.completedAt != nil && t.completedAt.Before(cutoff)
}
