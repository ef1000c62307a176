// Package scheduler triggers migration jobs on cron schedules and resolves
// job-to-job dependencies with the fail, skip and wait strategies.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/rowjay/docmigrate/internal/config"
	"github.com/rowjay/docmigrate/internal/errs"
	"github.com/rowjay/docmigrate/internal/logging"
	"github.com/rowjay/docmigrate/internal/migrate"
	"github.com/rowjay/docmigrate/internal/notify"
)

const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"

	DefaultPollInterval  = 5 * time.Second
	DefaultMaxConcurrent = 4
)

// Runner executes one migration. *migrate.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, opts migrate.Options) (*migrate.Stats, error)
}

type Scheduler struct {
	jobs     map[string]*Job
	order    []*Job
	runner   Runner
	history  History
	notifier notify.Notifier
	log      zerolog.Logger
	poll     time.Duration
	sem      *semaphore.Weighted
	loc      *time.Location
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	active map[string]bool
	queued map[string]int
}

// New validates the job graph and returns a scheduler. Nothing runs until
// Tick, RunAll or Start is called.
func New(cfg config.SchedulerConfig, migration config.MigrationConfig, runner Runner, history History, log zerolog.Logger) (*Scheduler, error) {
	jobs, err := BuildJobs(cfg, migration)
	if err != nil {
		return nil, err
	}
	loc := time.Local
	if cfg.Timezone != "" {
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, errs.WrapConfig(err, "scheduler timezone %q", cfg.Timezone)
		}
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	limit := cfg.MaxConcurrent
	if limit <= 0 {
		limit = DefaultMaxConcurrent
	}
	if history == nil {
		history = NewMemoryHistory()
	}
	s := &Scheduler{
		jobs:    map[string]*Job{},
		order:   jobs,
		runner:  runner,
		history: history,
		log:     logging.For(log, "scheduler"),
		poll:    poll,
		sem:     semaphore.NewWeighted(int64(limit)),
		loc:     loc,
		now:     time.Now,
		sleep:   sleepContext,
		active:  map[string]bool{},
		queued:  map[string]int{},
	}
	for _, j := range jobs {
		s.jobs[j.ID] = j
	}
	return s, nil
}

// WithClock replaces the time source and the sleep used while waiting on
// dependencies.
func (s *Scheduler) WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) *Scheduler {
	s.now = now
	s.sleep = sleep
	return s
}

func (s *Scheduler) WithNotifier(n notify.Notifier) *Scheduler {
	s.notifier = n
	return s
}

// Jobs returns the jobs in configuration order.
func (s *Scheduler) Jobs() []*Job { return s.order }

func (s *Scheduler) Job(id string) (*Job, bool) {
	j, ok := s.jobs[id]
	return j, ok
}

func (s *Scheduler) History() History { return s.history }

// Tick runs one trigger of a job through the state machine and returns the
// finished run. The returned error is reserved for problems with the call
// itself (an unknown job); job failures are reported in the run's status.
// A tick for a job whose previous tick is still active is dropped and
// reported as skipped without being recorded.
func (s *Scheduler) Tick(ctx context.Context, id, trigger string) (JobRun, error) {
	job, ok := s.jobs[id]
	if !ok {
		return JobRun{}, errs.Configf("unknown job %q", id)
	}
	if !s.begin(id) {
		s.log.Warn().Str("job", id).Msg("previous run still active, tick dropped")
		return JobRun{Job: id, Trigger: trigger, Status: StatusSkipped, Error: "previous run still active"}, nil
	}
	defer s.end(id)

	run := JobRun{ID: uuid.NewString(), Job: id, Trigger: trigger, Status: StatusPending, ScheduledAt: s.now().UTC()}
	s.record(ctx, run)

	if job.Window != nil && !job.Window.Contains(s.now()) {
		return s.finish(job, run, StatusSkipped, errors.New("outside run window")), nil
	}
	if len(job.Dependencies) > 0 {
		if status, err := s.checkDependencies(ctx, job, &run); status != "" {
			return s.finish(job, run, status, err), nil
		}
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return s.finish(job, run, StatusFailed, err), nil
	}
	defer s.sem.Release(1)

	run.Status = StatusRunning
	run.StartedAt = s.now().UTC()
	s.record(ctx, run)
	s.log.Info().Str("job", id).Str("run_id", run.ID).Msg("job running")

	stats, err := s.runner.Run(ctx, job.Options)
	if stats != nil {
		run.MigrationRunID = stats.RunID
		run.Documents = stats.MigratedDocuments
		run.FailedDocuments = stats.FailedDocuments
		run.FailedCollections = stats.FailedCollections
		run.LogKey = stats.LogKey
	}
	if err != nil {
		return s.finish(job, run, StatusFailed, err), nil
	}
	return s.finish(job, run, StatusSucceeded, nil), nil
}

// depState is a dependency whose latest run has not succeeded.
type depState struct {
	id     string
	latest JobRun
	found  bool
}

func (d depState) String() string {
	if !d.found {
		return d.id + " (never ran)"
	}
	return fmt.Sprintf("%s (%s)", d.id, d.latest.Status)
}

func (s *Scheduler) unmet(ctx context.Context, job *Job) ([]depState, error) {
	var out []depState
	for _, dep := range job.Dependencies {
		latest, found, err := s.history.Latest(ctx, dep)
		if err != nil {
			return nil, fmt.Errorf("history of %s: %w", dep, err)
		}
		if !found || latest.Status != StatusSucceeded {
			out = append(out, depState{id: dep, latest: latest, found: found})
		}
	}
	return out, nil
}

// checkDependencies returns a terminal status when the job must not run,
// or "" when every dependency has succeeded.
func (s *Scheduler) checkDependencies(ctx context.Context, job *Job, run *JobRun) (Status, error) {
	unmet, err := s.unmet(ctx, job)
	if err != nil {
		return StatusFailed, err
	}
	if len(unmet) == 0 {
		return "", nil
	}
	switch job.Strategy {
	case StrategySkip:
		return StatusSkipped, fmt.Errorf("dependencies not succeeded: %s", describe(unmet))
	case StrategyWait:
		return s.wait(ctx, job, run)
	default:
		return StatusFailed, fmt.Errorf("dependencies not succeeded: %s", describe(unmet))
	}
}

// wait polls until every dependency has succeeded, a dependency has failed
// permanently, or the dependency timeout elapses.
func (s *Scheduler) wait(ctx context.Context, job *Job, run *JobRun) (Status, error) {
	run.Status = StatusWaiting
	s.record(ctx, *run)
	deadline := s.now().Add(job.DependencyTimeout)
	s.log.Info().Str("job", job.ID).Time("deadline", deadline).Msg("waiting on dependencies")

	for {
		unmet, err := s.unmet(ctx, job)
		if err != nil {
			return StatusFailed, err
		}
		if len(unmet) == 0 {
			return "", nil
		}
		now := s.now()
		if !now.Before(deadline) {
			pending := make([]string, len(unmet))
			for i, d := range unmet {
				pending[i] = d.id
			}
			return StatusFailed, &errs.DependencyTimeoutError{Job: job.ID, Pending: pending, Timeout: job.DependencyTimeout}
		}
		for _, d := range unmet {
			if s.permanentlyFailed(d, deadline) {
				return StatusFailed, fmt.Errorf("dependency %s failed and is not scheduled again before %s", d.id, deadline.Format(time.RFC3339))
			}
		}
		pause := s.poll
		if left := deadline.Sub(now); left < pause {
			pause = left
		}
		if err := s.sleep(ctx, pause); err != nil {
			return StatusFailed, err
		}
	}
}

// permanentlyFailed reports whether a dependency can no longer succeed
// before deadline: its latest run ended unsuccessfully, nothing of it is in
// flight, and its next trigger falls after the deadline.
func (s *Scheduler) permanentlyFailed(d depState, deadline time.Time) bool {
	if !d.found || !d.latest.Status.Terminal() || s.isActive(d.id) {
		return false
	}
	next := s.jobs[d.id].Next(s.now())
	return next.IsZero() || next.After(deadline)
}

func (s *Scheduler) finish(job *Job, run JobRun, status Status, cause error) JobRun {
	run.Status = status
	run.EndedAt = s.now().UTC()
	if run.StartedAt.IsZero() {
		run.StartedAt = run.ScheduledAt
	}
	if cause != nil {
		run.Error = cause.Error()
		run.ErrorKind = string(errs.KindOf(cause))
	}
	s.record(context.Background(), run)

	ev := s.log.Info()
	if status == StatusFailed {
		ev = s.log.Error().Err(cause)
	} else if cause != nil {
		ev = s.log.Warn().Str("reason", cause.Error())
	}
	ev.Str("job", job.ID).Str("run_id", run.ID).Str("status", string(status)).Msg("job finished")

	if s.notifier != nil {
		event := notify.Event{
			Type:              notify.TypeJob,
			Message:           fmt.Sprintf("job %s %s -> %s", job.Name, job.Options.Source, job.Options.Target),
			Status:            string(status),
			Job:               job.ID,
			RunID:             run.ID,
			Source:            job.Options.Source,
			Target:            job.Options.Target,
			StartedAt:         run.StartedAt,
			EndedAt:           run.EndedAt,
			Duration:          run.EndedAt.Sub(run.StartedAt).String(),
			Documents:         run.Documents,
			Failed:            run.FailedDocuments,
			FailedCollections: run.FailedCollections,
			Key:               run.LogKey,
			Error:             run.Error,
		}
		if err := s.notifier.Notify(context.Background(), event); err != nil {
			s.log.Warn().Err(err).Str("job", job.ID).Msg("notification failed")
		}
	}
	return run
}

func (s *Scheduler) record(ctx context.Context, run JobRun) {
	if err := s.history.Record(ctx, run); err != nil {
		s.log.Warn().Err(err).Str("job", run.Job).Str("status", string(run.Status)).Msg("run not recorded")
	}
}

func (s *Scheduler) begin(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[id] {
		return false
	}
	s.active[id] = true
	return true
}

func (s *Scheduler) end(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
}

// isActive reports whether a tick of id is running or queued by RunAll.
func (s *Scheduler) isActive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[id] || s.queued[id] > 0
}

func (s *Scheduler) enqueue(ids []string, delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.queued[id] += delta
		if s.queued[id] <= 0 {
			delete(s.queued, id)
		}
	}
}

// RunAll ticks the given jobs (all jobs when ids is empty) concurrently and
// returns their runs in the same order. A fail or skip job whose dependency
// is part of the same call is ticked after that dependency finishes; a wait
// job starts at once and polls.
func (s *Scheduler) RunAll(ctx context.Context, ids []string) ([]JobRun, error) {
	if len(ids) == 0 {
		for _, j := range s.order {
			ids = append(ids, j.ID)
		}
	}
	ids = dedupe(ids)
	done := map[string]chan struct{}{}
	for _, id := range ids {
		if _, ok := s.jobs[id]; !ok {
			return nil, errs.Configf("unknown job %q", id)
		}
		done[id] = make(chan struct{})
	}

	s.enqueue(ids, 1)
	runs := make([]JobRun, len(ids))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, id := range ids {
		eg.Go(func() error {
			defer close(done[id])
			defer s.enqueue([]string{id}, -1)
			job := s.jobs[id]
			if job.Strategy != StrategyWait {
				for _, dep := range job.Dependencies {
					if ch, ok := done[dep]; ok {
						select {
						case <-ch:
						case <-egCtx.Done():
							return egCtx.Err()
						}
					}
				}
			}
			run, err := s.Tick(egCtx, id, TriggerManual)
			runs[i] = run
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return runs, err
	}
	return runs, nil
}

// Start registers every scheduled job with a cron runner and blocks until
// ctx is cancelled, then waits for running jobs to finish.
func (s *Scheduler) Start(ctx context.Context) error {
	clog := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	scheduled := 0
	for _, job := range s.order {
		if job.Schedule == nil {
			continue
		}
		id := job.ID
		c.Schedule(job.Schedule, cron.FuncJob(func() {
			if _, err := s.Tick(ctx, id, TriggerSchedule); err != nil {
				s.log.Error().Err(err).Str("job", id).Msg("tick failed")
			}
		}))
		scheduled++
		s.log.Info().Str("job", id).Str("schedule", job.Spec).Time("next", job.Next(s.now())).Msg("job scheduled")
	}
	if scheduled == 0 {
		return errs.Configf("no scheduled jobs configured")
	}
	c.Start()
	<-ctx.Done()
	s.log.Info().Msg("scheduler stopping")
	<-c.Stop().Done()
	return nil
}

// Upcoming lists the next trigger time of every scheduled job, soonest
// first.
func (s *Scheduler) Upcoming(after time.Time) []Upcoming {
	var out []Upcoming
	for _, j := range s.order {
		if next := j.Next(after); !next.IsZero() {
			out = append(out, Upcoming{Job: j.ID, At: next})
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].At.Before(out[k].At) })
	return out
}

type Upcoming struct {
	Job string
	At  time.Time
}

func describe(deps []depState) string {
	parts := make([]string, len(deps))
	for i, d := range deps {
		parts[i] = d.String()
	}
	return strings.Join(parts, ", ")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// cronLogger routes cron's own messages into zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
