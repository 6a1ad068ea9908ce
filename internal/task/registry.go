package task

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/researchd/internal/stream"
)

var (
	ErrEmptyQuery = errors.New("query cannot be empty")
	ErrNotFound   = errors.New("task not found")
)

const listQueryRunes = 100

// Summary is the list view of a task.
type Summary struct {
	ID        string    `json:"task_id"`
	Query     string    `json:"query"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Options bounds how long finished tasks are retained.
type Options struct {
	// Retention drops terminal tasks finished longer ago than this; 0 keeps them.
	Retention time.Duration
	// MaxTasks evicts the oldest terminal tasks beyond this count; 0 is unlimited.
	MaxTasks int
	Logger   *log.Logger
	Now      func() time.Time
}

// Registry owns every in-flight and finished task of the process.
type Registry struct {
	broker *stream.Broker
	opts   Options
	logger *log.Logger

	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewRegistry returns a registry that opens one broker channel per task.
func NewRegistry(broker *stream.Broker, opts Options) *Registry {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[REGISTRY] ", log.LstdFlags)
	}
	return &Registry{broker: broker, opts: opts, logger: logger, tasks: make(map[string]*Task)}
}

// Create validates the query, stores a new task in StatusCreated and opens
// its event channel. It does not start the pipeline.
func (r *Registry) Create(query string) (*Task, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	id := uuid.NewString()
	if err := r.broker.Open(id); err != nil {
		return nil, fmt.Errorf("open stream for %s: %w", id, err)
	}
	t := newTask(id, query, r.opts.Now())

	r.mu.Lock()
	r.tasks[id] = t
	r.mu.Unlock()

	r.logger.Printf("created task %s: %s", id, truncate(query, 50))
	return t, nil
}

// Get returns the task for id or ErrNotFound.
func (r *Registry) Get(id string) (*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

// List returns summaries ordered by creation time.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	tasks := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, t)
	}
	r.mu.RUnlock()

	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	out := make([]Summary, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, Summary{
			ID:        t.ID,
			Query:     truncate(t.Query, listQueryRunes),
			Status:    t.Status(),
			CreatedAt: t.CreatedAt,
		})
	}
	return out
}

// Len returns the number of retained tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// Delete removes the task, cancels its context so a running engine abandons
// its work, and closes the event channel without publishing anything.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	t, ok := r.tasks[id]
	delete(r.tasks, id)
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	r.dispose(t)
	r.logger.Printf("deleted task %s", id)
	return nil
}

func (r *Registry) dispose(t *Task) {
	t.cancel()
	if err := r.broker.Close(t.ID); err != nil && !errors.Is(err, stream.ErrUnknownChannel) {
		r.logger.Printf("close stream %s: %v", t.ID, err)
	}
}

// Sweep applies the retention policy and returns how many tasks were removed.
// Only terminal tasks are ever evicted.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	var removed []*Task
	if r.opts.Retention > 0 {
		cutoff := now.Add(-r.opts.Retention)
		for id, t := range r.tasks {
			if t.finishedBefore(cutoff) {
				removed = append(removed, t)
				delete(r.tasks, id)
			}
		}
	}
	if r.opts.MaxTasks > 0 && len(r.tasks) > r.opts.MaxTasks {
		var finished []*Task
		for _, t := range r.tasks {
			if t.Status().Terminal() {
				finished = append(finished, t)
			}
		}
		sort.Slice(finished, func(i, j int) bool { return finished[i].CreatedAt.Before(finished[j].CreatedAt) })
		for _, t := range finished {
			if len(r.tasks) <= r.opts.MaxTasks {
				break
			}
			removed = append(removed, t)
			delete(r.tasks, t.ID)
		}
	}
	r.mu.Unlock()

	for _, t := range removed {
		r.dispose(t)
	}
	if len(removed) > 0 {
		r.logger.Printf("swept %d finished tasks", len(removed))
	}
	return len(removed)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
