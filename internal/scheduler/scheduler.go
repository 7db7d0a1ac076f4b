// Package scheduler decides when jobs run. Rule-based jobs ride robfig/cron;
// odds syncing runs off an adaptive timer that slows down when no event is
// close and backs off overnight.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/matchday-live/scraper/internal/config"
	"github.com/matchday-live/scraper/internal/jobs"
)

var (
	// ErrJobRunning means the previous invocation of the job is still going.
	ErrJobRunning = errors.New("job already running")
	// ErrUnknownJob means the name is outside the job catalog.
	ErrUnknownJob = errors.New("unknown job")
)

// Last-outcome labels for the control surface. A job that has never fired
// reports "never".
const (
	StatusNever   = "never"
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// JobRunner executes one job invocation; internal/jobs.Runner satisfies it.
type JobRunner interface {
	Run(ctx context.Context, job jobs.JobType) error
}

// StartSource supplies the next scheduled kickoff for urgency classification.
type StartSource interface {
	NextScheduledStart(ctx context.Context, after time.Time) (time.Time, bool, error)
}

// ContextRecycler is the slice of the browser pool the rotation rule needs.
type ContextRecycler interface {
	RecycleAll(reason string)
}

// jobState tracks one job's exclusion flag and last-run bookkeeping.
type jobState struct {
	running atomic.Bool

	mu         sync.Mutex
	lastStatus string
	lastStart  time.Time
	lastDur    time.Duration
	runs       int64
	failures   int64
	nextAt     time.Time
}

// JobStatus is the point-in-time view of one job, shaped for the API.
type JobStatus struct {
	Name            string     `json:"name"`
	Running         bool       `json:"running"`
	LastStatus      string     `json:"last_status"`
	LastRun         *time.Time `json:"last_run,omitempty"`
	LastDurationMS  int64      `json:"last_duration_ms"`
	RunCount        int64      `json:"run_count"`
	FailCount       int64      `json:"fail_count"`
	NextScheduledAt *time.Time `json:"next_scheduled_at,omitempty"`
}

// Scheduler owns the cron rules, the adaptive odds timer, and the per-job
// exclusion flags. One instance per process.
type Scheduler struct {
	cfg    config.SchedulerConfig
	runner JobRunner
	starts StartSource
	pool   ContextRecycler
	logger *slog.Logger

	loc     *time.Location
	cron    *cron.Cron
	entries map[jobs.JobType]cron.EntryID
	states  map[jobs.JobType]*jobState

	jobCtx     context.Context
	jobCancel  context.CancelFunc
	loopCancel context.CancelFunc

	wg       sync.WaitGroup
	stopOnce sync.Once

	now func() time.Time
	// rng feeds the odds timer only; nothing else draws from it.
	rng *rand.Rand
}

// New wires a Scheduler. The timezone governs both cron rules and the
// off-peak bands of the odds timer.
func New(cfg config.SchedulerConfig, runner JobRunner, starts StartSource, pool ContextRecycler, logger *slog.Logger) (*Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load scheduler timezone %q: %w", cfg.Timezone, err)
	}
	states := make(map[jobs.JobType]*jobState, len(jobs.All()))
	for _, job := range jobs.All() {
		states[job] = &jobState{lastStatus: StatusNever}
	}
	return &Scheduler{
		cfg:       cfg,
		runner:    runner,
		starts:    starts,
		pool:      pool,
		logger:    logger.With("component", "scheduler"),
		loc:       loc,
		entries:   make(map[jobs.JobType]cron.EntryID),
		states:    states,
		jobCtx:    context.Background(),
		jobCancel: func() {},
		now:       time.Now,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Start arms the cron rules and the odds timer. With cron disabled nothing
// fires automatically, but manual triggers still work.
func (s *Scheduler) Start(ctx context.Context) error {
	s.jobCtx, s.jobCancel = context.WithCancel(ctx)
	var loopCtx context.Context
	loopCtx, s.loopCancel = context.WithCancel(ctx)

	if !s.cfg.EnableCron {
		s.logger.Warn("automatic scheduling disabled, jobs run on manual trigger only")
		return nil
	}

	s.cron = cron.New(cron.WithLocation(s.loc))
	rules := []struct {
		spec string
		job  jobs.JobType
	}{
		{s.cfg.FixturesSpec, jobs.SyncFixtures},
		{s.cfg.LiveScoresSpec, jobs.SyncLiveScores},
		{s.cfg.TransitionSpec, jobs.TransitionEvents},
	}
	for _, rule := range rules {
		rule := rule
		id, err := s.cron.AddFunc(rule.spec, func() { s.fire(rule.job) })
		if err != nil {
			return fmt.Errorf("add cron rule %q for %s: %w", rule.spec, rule.job, err)
		}
		s.entries[rule.job] = id
	}
	if _, err := s.cron.AddFunc(s.cfg.RotationSpec, s.rotateContexts); err != nil {
		return fmt.Errorf("add rotation rule %q: %w", s.cfg.RotationSpec, err)
	}
	s.cron.Start()

	s.wg.Add(1)
	go s.oddsLoop(loopCtx)

	s.logger.Info("scheduler started",
		"timezone", s.loc.String(),
		"fixtures", s.cfg.FixturesSpec,
		"live_scores", s.cfg.LiveScoresSpec,
		"transition", s.cfg.TransitionSpec,
		"rotation", s.cfg.RotationSpec,
	)
	return nil
}

// Trigger starts a manual run of the job on its own goroutine. The schedule
// is bypassed; the running-exclusion is not.
func (s *Scheduler) Trigger(job jobs.JobType) error {
	st, ok := s.states[job]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownJob, job)
	}
	if !st.running.CompareAndSwap(false, true) {
		return ErrJobRunning
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer st.running.Store(false)
		s.execute(job, st)
	}()
	return nil
}

// fire runs one scheduled invocation synchronously. Fires that land while
// the previous run is still going are suppressed, not queued.
func (s *Scheduler) fire(job jobs.JobType) {
	st := s.states[job]
	if !st.running.CompareAndSwap(false, true) {
		s.logger.Warn("previous run still going, fire suppressed", "job", job)
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()
	defer st.running.Store(false)
	s.execute(job, st)
}

// execute runs the job with the exclusion flag already held. Errors and
// panics are recorded and logged; the schedule is never cancelled by a bad
// run.
func (s *Scheduler) execute(job jobs.JobType, st *jobState) {
	start := s.now()
	st.mu.Lock()
	st.lastStart = start
	st.lastStatus = StatusRunning
	st.runs++
	st.mu.Unlock()

	var err error
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic: %v", p)
				s.logger.Error("job panicked", "job", job, "panic", p)
			}
		}()
		err = s.runner.Run(s.jobCtx, job)
	}()

	end := s.now()
	st.mu.Lock()
	st.lastDur = end.Sub(start)
	if err != nil {
		st.lastStatus = StatusFailed
		st.failures++
	} else {
		st.lastStatus = StatusSuccess
	}
	st.mu.Unlock()

	if err != nil {
		s.logger.Error("job run failed", "job", job, "error", err)
	}
}

// rotateContexts retires every pooled browser context on the rotation rule.
func (s *Scheduler) rotateContexts() {
	s.pool.RecycleAll("scheduled rotation")
}

// Jobs returns the control-surface view of every job in catalog order.
func (s *Scheduler) Jobs() []JobStatus {
	out := make([]JobStatus, 0, len(jobs.All()))
	for _, job := range jobs.All() {
		st := s.states[job]
		st.mu.Lock()
		js := JobStatus{
			Name:           string(job),
			Running:        st.running.Load(),
			LastStatus:     st.lastStatus,
			LastDurationMS: st.lastDur.Milliseconds(),
			RunCount:       st.runs,
			FailCount:      st.failures,
		}
		if !st.lastStart.IsZero() {
			t := st.lastStart
			js.LastRun = &t
		}
		if !st.nextAt.IsZero() {
			t := st.nextAt
			js.NextScheduledAt = &t
		}
		st.mu.Unlock()
		if js.NextScheduledAt == nil {
			if next, ok := s.cronNext(job); ok {
				js.NextScheduledAt = &next
			}
		}
		out = append(out, js)
	}
	return out
}

// cronNext reads the next planned fire for a cron-ruled job. The entries map
// is write-once during Start.
func (s *Scheduler) cronNext(job jobs.JobType) (time.Time, bool) {
	if s.cron == nil {
		return time.Time{}, false
	}
	id, ok := s.entries[job]
	if !ok {
		return time.Time{}, false
	}
	next := s.cron.Entry(id).Next
	return next, !next.IsZero()
}

func (s *Scheduler) setNextAt(job jobs.JobType, at time.Time) {
	st := s.states[job]
	st.mu.Lock()
	st.nextAt = at
	st.mu.Unlock()
}

// Stop halts scheduling, then waits up to drain for running jobs to finish
// on their own. Past the deadline the shared job context is cancelled and
// interrupted runs end up recorded as partial.
func (s *Scheduler) Stop(drain time.Duration) {
	s.stopOnce.Do(func() {
		s.logger.Info("scheduler stopping", "drain", drain)

		var cronDone context.Context
		if s.cron != nil {
			cronDone = s.cron.Stop()
		}
		if s.loopCancel != nil {
			s.loopCancel()
		}

		done := make(chan struct{})
		go func() {
			if cronDone != nil {
				<-cronDone.Done()
			}
			s.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			s.logger.Info("all jobs drained")
		case <-time.After(drain):
			s.logger.Warn("drain deadline hit, cancelling running jobs")
			s.jobCancel()
			select {
			case <-done:
			case <-time.After(15 * time.Second):
				s.logger.Error("jobs still running after cancel, abandoning them")
			}
		}
		s.jobCancel()
	})
}
