package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rowjay/docmigrate/internal/config"
	"github.com/rowjay/docmigrate/internal/errs"
	"github.com/rowjay/docmigrate/internal/migrate"
	"github.com/rowjay/docmigrate/internal/util"
)

// Strategy decides how a job reacts to a dependency that has not succeeded.
type Strategy string

const (
	StrategyFail Strategy = "fail"
	StrategySkip Strategy = "skip"
	StrategyWait Strategy = "wait"
)

// DefaultDependencyTimeout bounds the wait strategy when a job sets none.
const DefaultDependencyTimeout = time.Hour

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Job is a validated, immutable job definition. Schedule is nil for jobs
// that only run on demand.
type Job struct {
	ID                string
	Name              string
	Spec              string
	Schedule          cron.Schedule
	Dependencies      []string
	Strategy          Strategy
	DependencyTimeout time.Duration
	Window            *util.Window
	Options           migrate.Options
}

// Next returns the next trigger time after t, or the zero time for jobs
// without a schedule.
func (j *Job) Next(t time.Time) time.Time {
	if j.Schedule == nil {
		return time.Time{}
	}
	return j.Schedule.Next(t)
}

// BuildJobs validates job definitions and the dependency graph. Every
// problem is reported as a ConfigError; a graph with a cycle is rejected as
// a whole.
func BuildJobs(cfg config.SchedulerConfig, migration config.MigrationConfig) ([]*Job, error) {
	jobs := make([]*Job, 0, len(cfg.Jobs))
	byID := map[string]*Job{}
	for _, jc := range cfg.Jobs {
		job, err := buildJob(jc, cfg.Timezone, migration)
		if err != nil {
			return nil, err
		}
		if _, dup := byID[job.ID]; dup {
			return nil, errs.Configf("duplicate job id %q", job.ID)
		}
		byID[job.ID] = job
		jobs = append(jobs, job)
	}
	for _, job := range jobs {
		for _, dep := range job.Dependencies {
			if _, ok := byID[dep]; !ok {
				return nil, errs.Configf("job %s depends on unknown job %q", job.ID, dep)
			}
		}
	}
	if cycle := findCycle(jobs, byID); cycle != nil {
		return nil, errs.Configf("dependency cycle: %s", strings.Join(cycle, " -> "))
	}
	return jobs, nil
}

func buildJob(jc config.JobConfig, tz string, migration config.MigrationConfig) (*Job, error) {
	if jc.ID == "" {
		return nil, errs.Configf("job without id")
	}
	job := &Job{
		ID:                jc.ID,
		Name:              jc.Name,
		Spec:              jc.Schedule,
		Dependencies:      dedupe(jc.Dependencies),
		Strategy:          Strategy(strings.ToLower(jc.DependencyStrategy)),
		DependencyTimeout: jc.DependencyTimeout,
		Options:           migrate.FromJob(jc, migration),
	}
	if job.Name == "" {
		job.Name = job.ID
	}
	switch job.Strategy {
	case "":
		job.Strategy = StrategyFail
	case StrategyFail, StrategySkip, StrategyWait:
	default:
		return nil, errs.Configf("job %s: unknown dependency strategy %q", jc.ID, jc.DependencyStrategy)
	}
	if job.DependencyTimeout < 0 {
		return nil, errs.Configf("job %s: negative dependency timeout", jc.ID)
	}
	if job.DependencyTimeout == 0 {
		job.DependencyTimeout = DefaultDependencyTimeout
	}
	if jc.Schedule != "" {
		spec := jc.Schedule
		if tz != "" && !strings.HasPrefix(spec, "CRON_TZ=") && !strings.HasPrefix(spec, "TZ=") {
			spec = "CRON_TZ=" + tz + " " + spec
		}
		sched, err := cronParser.Parse(spec)
		if err != nil {
			return nil, errs.WrapConfig(err, "job %s: schedule %q", jc.ID, jc.Schedule)
		}
		job.Schedule = sched
	}
	if jc.WindowStart != "" || jc.WindowEnd != "" {
		w, err := util.ParseWindow(jc.WindowStart, jc.WindowEnd, tz)
		if err != nil {
			return nil, errs.WrapConfig(err, "job %s: window", jc.ID)
		}
		job.Window = &w
	}
	if err := job.Options.Validate(); err != nil {
		return nil, fmt.Errorf("job %s: %w", jc.ID, err)
	}
	return job, nil
}

// findCycle returns the ids along the first cycle found, closed by
// repeating the first id, or nil for an acyclic graph.
func findCycle(jobs []*Job, byID map[string]*Job) []string {
	const (
		white = iota
		grey
		black
	)
	color := map[string]int{}
	var stack []string
	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = grey
		stack = append(stack, id)
		for _, dep := range byID[id].Dependencies {
			switch color[dep] {
			case grey:
				for i, s := range stack {
					if s == dep {
						return append(append([]string(nil), stack[i:]...), dep)
					}
				}
			case white:
				if c := visit(dep); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	sort.Strings(ids)
	for _, id := range ids {
		if color[id] == white {
			if c := visit(id); c != nil {
				return c
			}
		}
	}
	return nil
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
