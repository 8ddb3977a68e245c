// Package scheduler runs the registry maintenance jobs (discovery,
// health evaluation, alert processing) on independent intervals. Each
// job gets its own goroutine and ticker; ticks are skipped, never
// queued, so a slow run cannot pile work up behind itself, and a failed
// run backs off exponentially instead of crashing the process.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrSkipped can be returned (or wrapped) by a job to signal that the
// run found another invocation in flight and did nothing. Skips do not
// count as failures for backoff purposes.
var ErrSkipped = errors.New("job run skipped")

// JobState is the scheduler-visible state of one job.
type JobState string

const (
	StateIdle    JobState = "idle"
	StateRunning JobState = "running"
	StateBackoff JobState = "backoff"
)

// Job is one periodic maintenance task.
type Job struct {
	Name     string
	Interval time.Duration
	// Timeout bounds one run; exceeding it abandons the run and counts
	// as a failure. Zero means no per-run timeout.
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Config controls backoff behavior shared by all jobs.
type Config struct {
	// MaxBackoffFactor caps the exponential backoff at factor × the
	// job's interval. Default 5.
	MaxBackoffFactor int
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{MaxBackoffFactor: 5}
}

// JobStatus is a point-in-time snapshot of one job for observers.
type JobStatus struct {
	Name                string        `json:"name"`
	State               JobState      `json:"state"`
	Interval            time.Duration `json:"interval"`
	LastStartedAt       *time.Time    `json:"lastStartedAt,omitempty"`
	LastFinishedAt      *time.Time    `json:"lastFinishedAt,omitempty"`
	LastError           string        `json:"lastError,omitempty"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
	NextEligibleAt      *time.Time    `json:"nextEligibleAt,omitempty"`
}

// jobRuntime tracks the mutable state of one scheduled job.
type jobRuntime struct {
	job Job

	mu           sync.Mutex
	state        JobState
	lastStarted  *time.Time
	lastFinished *time.Time
	lastError    string
	failures     int
	nextEligible time.Time
}

// Scheduler coordinates the periodic jobs.
type Scheduler struct {
	cfg    Config
	logger *slog.Logger
	jobs   []*jobRuntime
	wg     sync.WaitGroup
}

// New creates a scheduler for the given jobs.
func New(cfg Config, logger *slog.Logger, jobs ...Job) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBackoffFactor <= 0 {
		cfg.MaxBackoffFactor = DefaultConfig().MaxBackoffFactor
	}
	s := &Scheduler{cfg: cfg, logger: logger}
	for _, job := range jobs {
		if job.Name == "" || job.Run == nil {
			return nil, fmt.Errorf("scheduler: job must have a name and a run function")
		}
		if job.Interval <= 0 {
			return nil, fmt.Errorf("scheduler: job %s has non-positive interval", job.Name)
		}
		s.jobs = append(s.jobs, &jobRuntime{job: job, state: StateIdle})
	}
	return s, nil
}

// Run starts all job loops and blocks until ctx is cancelled, then
// waits for in-flight runs to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler starting", "jobs", len(s.jobs))
	for _, rt := range s.jobs {
		s.wg.Add(1)
		go func(rt *jobRuntime) {
			defer s.wg.Done()
			s.jobLoop(ctx, rt)
		}(rt)
	}
	<-ctx.Done()
	s.logger.Info("scheduler shutting down, waiting for jobs to finish")
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// jobLoop is the ticker loop for a single job.
func (s *Scheduler) jobLoop(ctx context.Context, rt *jobRuntime) {
	ticker := time.NewTicker(rt.job.Interval)
	defer ticker.Stop()

	s.logger.Info("job scheduled",
		"job", rt.job.Name,
		"interval", rt.job.Interval.String())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, rt)
		}
	}
}

// tick attempts one run of the job. Ticks during a running or
// backing-off job are dropped.
func (s *Scheduler) tick(ctx context.Context, rt *jobRuntime) {
	now := time.Now()

	rt.mu.Lock()
	if rt.state == StateRunning {
		rt.mu.Unlock()
		s.logger.Warn("job still running, skipping tick", "job", rt.job.Name)
		return
	}
	if rt.state == StateBackoff {
		if now.Before(rt.nextEligible) {
			rt.mu.Unlock()
			return
		}
		rt.state = StateIdle
	}
	rt.state = StateRunning
	started := now
	rt.lastStarted = &started
	rt.mu.Unlock()

	err := s.invoke(ctx, rt.job)

	finished := time.Now()
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.lastFinished = &finished

	switch {
	case err == nil:
		rt.state = StateIdle
		rt.lastError = ""
		rt.failures = 0
	case errors.Is(err, ErrSkipped):
		// Another invocation was already in flight; not a failure.
		rt.state = StateIdle
	default:
		rt.failures++
		backoff := s.backoffFor(rt.job, rt.failures)
		rt.state = StateBackoff
		rt.lastError = err.Error()
		rt.nextEligible = finished.Add(backoff)
		s.logger.Error("job run failed",
			"job", rt.job.Name,
			"error", err,
			"consecutiveFailures", rt.failures,
			"backoff", backoff.String())
	}
}

// invoke runs the job once, applying the per-run timeout and converting
// a panic into an error so a bad job cannot take the scheduler down.
func (s *Scheduler) invoke(ctx context.Context, job Job) (err error) {
	runCtx := ctx
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, r)
		}
	}()

	if err := job.Run(runCtx); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("job %s timed out after %s: %w", job.Name, job.Timeout, err)
		}
		return err
	}
	return nil
}

// backoffFor computes the exponential backoff after n consecutive
// failures, capped at MaxBackoffFactor × the job interval.
func (s *Scheduler) backoffFor(job Job, failures int) time.Duration {
	ceiling := time.Duration(s.cfg.MaxBackoffFactor) * job.Interval
	backoff := job.Interval
	for i := 1; i < failures; i++ {
		backoff *= 2
		if backoff >= ceiling {
			return ceiling
		}
	}
	if backoff > ceiling {
		return ceiling
	}
	return backoff
}

// TriggerNow runs the named job immediately, outside its cadence. A
// backing-off job runs anyway (the trigger is an operator override);
// only a job already running returns ErrSkipped.
func (s *Scheduler) TriggerNow(ctx context.Context, name string) error {
	for _, rt := range s.jobs {
		if rt.job.Name != name {
			continue
		}
		rt.mu.Lock()
		if rt.state == StateRunning {
			rt.mu.Unlock()
			return fmt.Errorf("%w: %s is running", ErrSkipped, name)
		}
		if rt.state == StateBackoff {
			rt.state = StateIdle
		}
		rt.mu.Unlock()
		s.tick(ctx, rt)
		return nil
	}
	return fmt.Errorf("unknown job %q", name)
}

// Status returns a snapshot of every job.
func (s *Scheduler) Status() []JobStatus {
	statuses := make([]JobStatus, 0, len(s.jobs))
	for _, rt := range s.jobs {
		rt.mu.Lock()
		status := JobStatus{
			Name:                rt.job.Name,
			State:               rt.state,
			Interval:            rt.job.Interval,
			LastStartedAt:       rt.lastStarted,
			LastFinishedAt:      rt.lastFinished,
			LastError:           rt.lastError,
			ConsecutiveFailures: rt.failures,
		}
		if rt.state == StateBackoff {
			next := rt.nextEligible
			status.NextEligibleAt = &next
		}
		rt.mu.Unlock()
		statuses = append(statuses, status)
	}
	return statuses
}
