// Package scheduler runs the router's periodic maintenance tasks on a 1 Hz
// tick loop. Due tasks run in their own goroutine so a slow task never
// stalls the loop; outbound-heavy tasks share a semaphore to bound upstream
// concurrency.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultConcurrency bounds simultaneously running tasks.
const DefaultConcurrency = 8

const tickInterval = time.Second

// Task is one periodic job.
type Task struct {
	Name     string
	Interval time.Duration
	// RunOnStart fires the task on the first tick instead of waiting a full
	// interval.
	RunOnStart bool
	Run        func(ctx context.Context) error
}

// Result is the captured outcome of the most recent run of a task.
type Result struct {
	Name     string        `json:"name"`
	LastRun  time.Time     `json:"last_run"`
	Duration time.Duration `json:"duration"`
	Err      string        `json:"error,omitempty"`
	Runs     int64         `json:"runs"`
	Failures int64         `json:"failures"`
}

// Scheduler owns the tick loop and the task registry.
type Scheduler struct {
	log *slog.Logger
	sem *semaphore.Weighted

	mu      sync.Mutex
	tasks   []*Task
	lastRun map[string]time.Time
	running map[string]bool
	results map[string]*Result

	now func() time.Time
}

// New creates a Scheduler. concurrency <= 0 selects the default.
func New(log *slog.Logger, concurrency int64) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Scheduler{
		log:     log,
		sem:     semaphore.NewWeighted(concurrency),
		lastRun: make(map[string]time.Time),
		running: make(map[string]bool),
		results: make(map[string]*Result),
		now:     time.Now,
	}
}

// Register adds a task. Must be called before Run.
func (s *Scheduler) Register(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, t)
	s.results[t.Name] = &Result{Name: t.Name}
}

// Run drives the tick loop until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	s.tick(ctx) // honour run-on-start immediately
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	s.mu.Lock()
	var due []*Task
	for _, t := range s.tasks {
		if s.running[t.Name] {
			continue
		}
		last, ran := s.lastRun[t.Name]
		if !ran {
			if t.RunOnStart {
				due = append(due, t)
			} else {
				// Start the interval clock without running.
				s.lastRun[t.Name] = now
			}
			continue
		}
		if now.Sub(last) >= t.Interval {
			due = append(due, t)
		}
	}
	for _, t := range due {
		s.running[t.Name] = true
		s.lastRun[t.Name] = now
	}
	s.mu.Unlock()

	for _, t := range due {
		go s.runTask(ctx, t)
	}
}

func (s *Scheduler) runTask(ctx context.Context, t *Task) {
	defer func() {
		s.mu.Lock()
		s.running[t.Name] = false
		s.mu.Unlock()
	}()
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer s.sem.Release(1)

	start := s.now()
	err := t.Run(ctx)
	elapsed := time.Since(start)

	s.mu.Lock()
	r := s.results[t.Name]
	r.LastRun = start
	r.Duration = elapsed
	r.Runs++
	if err != nil {
		r.Failures++
		r.Err = err.Error()
	} else {
		r.Err = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error("scheduled task failed", "task", t.Name, "duration", elapsed, "error", err)
	} else {
		s.log.Debug("scheduled task done", "task", t.Name, "duration", elapsed)
	}
}

// Kick runs a task by name immediately, ignoring its interval. Used by the
// CLI and tests.
func (s *Scheduler) Kick(ctx context.Context, name string) bool {
	s.mu.Lock()
	var target *Task
	for _, t := range s.tasks {
		if t.Name == name && !s.running[t.Name] {
			target = t
			s.running[t.Name] = true
			s.lastRun[t.Name] = s.now()
			break
		}
	}
	s.mu.Unlock()
	if target == nil {
		return false
	}
	go s.runTask(ctx, target)
	return true
}

// Results reports the latest outcome per task for the health endpoint.
func (s *Scheduler) Results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Result, 0, len(s.results))
	for _, t := range s.tasks {
		out = append(out, *s.results[t.Name])
	}
	return out
}
