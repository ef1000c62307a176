package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowjay/docmigrate/internal/config"
	"github.com/rowjay/docmigrate/internal/errs"
	"github.com/rowjay/docmigrate/internal/migrate"
)

type fakeRunner struct {
	mu    sync.Mutex
	fail  map[string]error
	calls []string
	block chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, opts migrate.Options) (*migrate.Stats, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts.Job)
	if err := f.fail[opts.Job]; err != nil {
		return nil, err
	}
	return &migrate.Stats{RunID: "m-" + opts.Job, MigratedDocuments: 10, FailedCollections: []string{}}, nil
}

func (f *fakeRunner) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeClock struct {
	mu      sync.Mutex
	t       time.Time
	sleeps  int
	onSleep func(n int)
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.sleeps++
	n := c.sleeps
	c.mu.Unlock()
	if c.onSleep != nil {
		c.onSleep(n)
	}
	return nil
}

func job(id string, strategy Strategy, deps ...string) config.JobConfig {
	return config.JobConfig{
		ID:                 id,
		Dependencies:       deps,
		DependencyStrategy: string(strategy),
		Source:             "production",
		Target:             "staging",
		Collections:        []string{id},
	}
}

var t0 = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

func newScheduler(t *testing.T, runner Runner, jobs ...config.JobConfig) (*Scheduler, *fakeClock) {
	t.Helper()
	cfg := config.SchedulerConfig{PollInterval: time.Minute, Timezone: "UTC", Jobs: jobs}
	s, err := New(cfg, config.MigrationConfig{}, runner, NewMemoryHistory(), zerolog.Nop())
	require.NoError(t, err)
	clock := &fakeClock{t: t0}
	return s.WithClock(clock.now, clock.sleep), clock
}

func TestCyclesAreRejected(t *testing.T) {
	runner := &fakeRunner{}
	graphs := map[string][]config.JobConfig{
		"three": {job("a", StrategyFail, "c"), job("b", StrategyFail, "a"), job("c", StrategyFail, "b")},
		"self":  {job("a", StrategyWait, "a")},
	}
	for name, jobs := range graphs {
		t.Run(name, func(t *testing.T) {
			_, err := New(config.SchedulerConfig{Jobs: jobs}, config.MigrationConfig{}, runner, nil, zerolog.Nop())
			require.True(t, errs.IsConfig(err), "got %v", err)
			assert.Contains(t, err.Error(), "cycle")
		})
	}
	assert.Empty(t, runner.called())
}

func TestInvalidJobDefinitions(t *testing.T) {
	bad := []config.JobConfig{
		job("a", StrategyFail, "missing"),
		job("a", "retry"),
		{ID: "a", Schedule: "every tuesday", Source: "production", Target: "staging"},
		{ID: "a", Source: "staging", Target: "staging"},
	}
	for _, jc := range bad {
		_, err := New(config.SchedulerConfig{Jobs: []config.JobConfig{jc}}, config.MigrationConfig{}, &fakeRunner{}, nil, zerolog.Nop())
		assert.True(t, errs.IsConfig(err), "job %+v: got %v", jc, err)
	}
	_, err := New(config.SchedulerConfig{Jobs: []config.JobConfig{job("a", ""), job("a", "")}}, config.MigrationConfig{}, &fakeRunner{}, nil, zerolog.Nop())
	assert.True(t, errs.IsConfig(err))
}

func TestFailAndSkipStrategies(t *testing.T) {
	cases := map[Strategy]Status{StrategyFail: StatusFailed, StrategySkip: StatusSkipped}
	for strategy, want := range cases {
		t.Run(string(strategy), func(t *testing.T) {
			ctx := context.Background()
			runner := &fakeRunner{fail: map[string]error{"users": errors.New("boom")}}
			s, _ := newScheduler(t, runner, job("users", ""), job("reporting", strategy, "users"))

			run, err := s.Tick(ctx, "users", TriggerManual)
			require.NoError(t, err)
			assert.Equal(t, StatusFailed, run.Status)

			run, err = s.Tick(ctx, "reporting", TriggerManual)
			require.NoError(t, err)
			assert.Equal(t, want, run.Status)
			assert.Contains(t, run.Error, "users (failed)")
			assert.Equal(t, []string{"users"}, runner.called())

			latest, ok, err := s.History().Latest(ctx, "reporting")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, want, latest.Status)
		})
	}
}

func TestFailStrategyWithDependencyThatNeverRan(t *testing.T) {
	runner := &fakeRunner{}
	s, _ := newScheduler(t, runner, job("users", ""), job("reporting", StrategyFail, "users"))
	run, err := s.Tick(context.Background(), "reporting", TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Contains(t, run.Error, "never ran")
}

func TestWaitStrategySucceedsWhenDependencyDoes(t *testing.T) {
	ctx := context.Background()
	runner := &fakeRunner{}
	reporting := job("reporting", StrategyWait, "users")
	reporting.DependencyTimeout = 120 * time.Minute
	s, clock := newScheduler(t, runner, job("users", ""), reporting)
	clock.onSleep = func(n int) {
		if n == 3 {
			_, _ = s.Tick(ctx, "users", TriggerManual)
		}
	}

	run, err := s.Tick(ctx, "reporting", TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, run.Status)
	assert.Equal(t, []string{"users", "reporting"}, runner.called())
	assert.Equal(t, t0.Add(3*time.Minute), clock.now())
	assert.Equal(t, "m-reporting", run.MigrationRunID)
}

func claimsReportingJobs() []config.JobConfig {
	reporting := job("reporting", StrategyWait, "users", "policies", "claims")
	reporting.DependencyTimeout = 120 * time.Minute
	return []config.JobConfig{job("users", ""), job("policies", ""), job("claims", ""), reporting}
}

func TestWaitFailsWhenDependencyFailedPermanently(t *testing.T) {
	ctx := context.Background()
	runner := &fakeRunner{fail: map[string]error{"claims": &errs.BackupError{Environment: "staging"}}}
	s, clock := newScheduler(t, runner, claimsReportingJobs()...)

	for _, id := range []string{"users", "policies", "claims"} {
		_, err := s.Tick(ctx, id, TriggerManual)
		require.NoError(t, err)
	}
	run, err := s.Tick(ctx, "reporting", TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Contains(t, run.Error, "claims")
	assert.Equal(t, t0, clock.now(), "no need to wait for a dependency that cannot recover")
	assert.NotContains(t, runner.called(), "reporting")
}

func TestWaitTimesOutOnStalledDependency(t *testing.T) {
	ctx := context.Background()
	jobs := claimsReportingJobs()
	jobs[2].Schedule = "*/30 * * * *"
	runner := &fakeRunner{fail: map[string]error{"claims": errors.New("batch rejected")}}
	s, clock := newScheduler(t, runner, jobs...)

	for _, id := range []string{"users", "policies", "claims"} {
		_, err := s.Tick(ctx, id, TriggerManual)
		require.NoError(t, err)
	}
	run, err := s.Tick(ctx, "reporting", TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, string(errs.KindDependencyTimeout), run.ErrorKind)
	assert.Equal(t, t0.Add(120*time.Minute), clock.now())
	assert.NotContains(t, runner.called(), "reporting")
}

func TestWaitRunsOnceDependencyRecovers(t *testing.T) {
	ctx := context.Background()
	jobs := claimsReportingJobs()
	jobs[2].Schedule = "*/30 * * * *"
	runner := &fakeRunner{fail: map[string]error{"claims": errors.New("batch rejected")}}
	s, clock := newScheduler(t, runner, jobs...)
	for _, id := range []string{"users", "policies", "claims"} {
		_, err := s.Tick(ctx, id, TriggerManual)
		require.NoError(t, err)
	}
	clock.onSleep = func(n int) {
		if n == 30 {
			runner.mu.Lock()
			delete(runner.fail, "claims")
			runner.mu.Unlock()
			_, _ = s.Tick(ctx, "claims", TriggerSchedule)
		}
	}

	run, err := s.Tick(ctx, "reporting", TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, run.Status)
	assert.Equal(t, t0.Add(30*time.Minute), clock.now())
}

func TestRunAllRespectsDependencies(t *testing.T) {
	runner := &fakeRunner{}
	jobs := append(claimsReportingJobs(), job("audit", StrategyFail, "reporting"))
	cfg := config.SchedulerConfig{PollInterval: 5 * time.Millisecond, MaxConcurrent: 2, Jobs: jobs}
	s, err := New(cfg, config.MigrationConfig{}, runner, nil, zerolog.Nop())
	require.NoError(t, err)

	runs, err := s.RunAll(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, runs, 5)
	for _, run := range runs {
		assert.Equal(t, StatusSucceeded, run.Status, "job %s: %s", run.Job, run.Error)
	}
	calls := runner.called()
	require.Len(t, calls, 5)
	assert.Equal(t, "audit", calls[4])
	assert.Equal(t, "reporting", calls[3])
}

func TestRunAllRejectsUnknownJob(t *testing.T) {
	s, _ := newScheduler(t, &fakeRunner{}, job("users", ""))
	_, err := s.RunAll(context.Background(), []string{"users", "nope"})
	assert.True(t, errs.IsConfig(err))
}

func TestTickOutsideWindowIsSkipped(t *testing.T) {
	runner := &fakeRunner{}
	nightly := job("nightly", "")
	nightly.WindowStart = "01:00"
	nightly.WindowEnd = "02:00"
	s, _ := newScheduler(t, runner, nightly)

	run, err := s.Tick(context.Background(), "nightly", TriggerSchedule)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, run.Status)
	assert.Empty(t, runner.called())
}

func TestOverlappingTickIsDropped(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	s, _ := newScheduler(t, runner, job("users", ""))

	done := make(chan JobRun)
	go func() {
		run, _ := s.Tick(context.Background(), "users", TriggerSchedule)
		done <- run
	}()
	require.Eventually(t, func() bool { return s.isActive("users") }, time.Second, time.Millisecond)

	second, err := s.Tick(context.Background(), "users", TriggerSchedule)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, second.Status)
	assert.Empty(t, second.ID)

	close(runner.block)
	first := <-done
	assert.Equal(t, StatusSucceeded, first.Status)
}

func TestUpcomingUsesParsedSchedules(t *testing.T) {
	hourly := job("hourly", "")
	hourly.Schedule = "0 * * * *"
	daily := job("daily", "")
	daily.Schedule = "@daily"
	s, _ := newScheduler(t, &fakeRunner{}, daily, hourly, job("manual", ""))

	next := s.Upcoming(t0.Add(time.Minute))
	require.Len(t, next, 2)
	assert.Equal(t, "hourly", next[0].Job)
	assert.Equal(t, t0.Add(time.Hour), next[0].At)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), next[1].At)
}
