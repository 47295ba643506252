// Package scheduler owns the independent timers that drive generation
// cycles and the reconciliation pass. Every job runs behind its own
// single-flight guard: a tick that fires while the previous run is still
// active is skipped, never queued. Errors and panics are caught and
// logged at the job boundary so one failing job can neither crash the
// process nor starve the other timers.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Job is one scheduled unit of work.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error

	guard *semaphore.Weighted
}

// Scheduler runs registered jobs on independent tickers.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	log     *slog.Logger
	started bool
}

// New creates an empty scheduler.
func New(log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{jobs: make(map[string]*Job), log: log}
}

// Add registers a job. Jobs must be added before Start.
func (s *Scheduler) Add(name string, interval time.Duration, run func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job already registered: %s", name)
	}
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}
	s.jobs[name] = &Job{
		Name:     name,
		Interval: interval,
		Run:      run,
		guard:    semaphore.NewWeighted(1),
	}
	return nil
}

// Names returns the registered job names, sorted.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start runs all job loops until the context is cancelled, then waits
// for in-flight runs to finish.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	s.started = true
	jobs := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		g.Go(func() error {
			s.loop(ctx, job)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job *Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	s.log.Info("job scheduled", "job", job.Name, "interval", job.Interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runGuarded(ctx, job)
		}
	}
}

// Trigger starts a job immediately through its single-flight guard and
// returns once the run is underway; the run itself proceeds in the
// background. Returns an error when the job is unknown or a run is
// already active, so callers never block on a long job.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job: %s", name)
	}
	if !job.guard.TryAcquire(1) {
		return fmt.Errorf("job %s is already running", name)
	}
	go func() {
		defer job.guard.Release(1)
		s.runOnce(ctx, job)
	}()
	return nil
}

// runGuarded runs the job unless its previous run is still active, in
// which case the tick is skipped and logged.
func (s *Scheduler) runGuarded(ctx context.Context, job *Job) {
	if !job.guard.TryAcquire(1) {
		s.log.Warn("skipping tick, previous run still active", "job", job.Name)
		return
	}
	defer job.guard.Release(1)
	s.runOnce(ctx, job)
}

// runOnce executes the job body with panic recovery. This is the error
// boundary: nothing a job does propagates past here.
func (s *Scheduler) runOnce(ctx context.Context, job *Job) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job panicked", "job", job.Name, "panic", r)
		}
	}()

	if err := job.Run(ctx); err != nil {
		s.log.Error("job failed", "job", job.Name, "error", err, "elapsed", time.Since(start))
		return
	}
	s.log.Debug("job finished", "job", job.Name, "elapsed", time.Since(start))
}
