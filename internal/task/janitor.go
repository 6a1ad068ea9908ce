package task

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
)

// DefaultSweepCron sweeps finished tasks every five minutes.
const DefaultSweepCron = "*/5 * * * *"

// Janitor runs Registry.Sweep on a cron schedule.
type Janitor struct {
	registry *Registry
	expr     *cronexpr.Expression
	logger   *log.Logger
	now      func() time.Time

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewJanitor parses spec (standard 5-field cron, or @hourly/@daily).
func NewJanitor(r *Registry, spec string, logger *log.Logger) (*Janitor, error) {
	if spec == "" {
		spec = DefaultSweepCron
	}
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse sweep cron %q: %w", spec, err)
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[JANITOR] ", log.LstdFlags)
	}
	return &Janitor{registry: r, expr: expr, logger: logger, now: time.Now, stop: make(chan struct{})}, nil
}

// Next returns the first sweep time strictly after base.
func (j *Janitor) Next(base time.Time) time.Time { return j.expr.Next(base) }

// Start launches the sweep loop.
func (j *Janitor) Start() {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		for {
			next := j.expr.Next(j.now())
			if next.IsZero() {
				j.logger.Printf("cron schedule has no future activations; janitor stopped")
				return
			}
			timer := time.NewTimer(time.Until(next))
			select {
			case <-j.stop:
				timer.Stop()
				return
			case <-timer.C:
				j.registry.Sweep(j.now())
			}
		}
	}()
}

// Stop ends the loop and waits for it to exit.
func (j *Janitor) Stop() {
	j.once.Do(func() { close(j.stop) })
	j.wg.Wait()
}
