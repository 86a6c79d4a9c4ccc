// Package scheduling runs periodic background jobs such as vaccination
// reminder scans.
package scheduling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Job is one unit of periodic work.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type Worker struct {
	log     zerolog.Logger
	jobs    []Job
	timeout time.Duration
	locker  Locker

	mu   sync.Mutex
	runs map[string]int
}

type Option func(*Worker)

// WithLocker makes each run take a lock named after the job, so replicas
// sharing the locker do not run the same job concurrently.
func WithLocker(l Locker) Option { return func(w *Worker) { w.locker = l } }

func WithTimeout(d time.Duration) Option { return func(w *Worker) { w.timeout = d } }

func NewWorker(log zerolog.Logger, opts ...Option) *Worker {
	w := &Worker{
		log:     log.With().Str("component", "scheduler").Logger(),
		timeout: 2 * time.Minute,
		runs:    make(map[string]int),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Add registers a job. Jobs must be added before Start.
func (w *Worker) Add(j Job) error {
	if j.Name == "" || j.Run == nil {
		return fmt.Errorf("job requires a name and a run func")
	}
	if j.Interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", j.Name)
	}
	w.jobs = append(w.jobs, j)
	return nil
}

// Start runs every job once immediately and then on its own ticker. It
// blocks until ctx is cancelled and all job loops have returned.
func (w *Worker) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, j := range w.jobs {
		wg.Add(1)
		go func(j Job) {
			defer wg.Done()
			w.loop(ctx, j)
		}(j)
	}
	wg.Wait()
	w.log.Info().Msg("scheduler stopped")
}

func (w *Worker) loop(ctx context.Context, j Job) {
	w.RunOnce(ctx, j)

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx, j)
		}
	}
}

// RunOnce executes j with the worker timeout. Errors and panics are
// logged, never propagated. A run whose lock is held elsewhere is skipped.
func (w *Worker) RunOnce(ctx context.Context, j Job) {
	if ctx.Err() != nil {
		return
	}
	jobCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	if w.locker != nil {
		release, ok, err := w.locker.TryLock(jobCtx, j.Name, w.timeout)
		if err != nil {
			w.log.Warn().Err(err).Str("job", j.Name).Msg("job lock failed, skipping run")
			return
		}
		if !ok {
			w.log.Debug().Str("job", j.Name).Msg("job locked by another replica")
			return
		}
		defer release()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			w.log.Error().Str("job", j.Name).Interface("panic", r).Msg("job panicked")
		}
	}()

	err := j.Run(jobCtx)

	w.mu.Lock()
	w.runs[j.Name]++
	w.mu.Unlock()

	ev := w.log.Debug()
	if err != nil {
		ev = w.log.Error().Err(err)
	}
	ev.Str("job", j.Name).Dur("took", time.Since(start)).Msg("job finished")
}

// Runs reports how many times the named job has completed.
func (w *Worker) Runs(name string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runs[name]
}
