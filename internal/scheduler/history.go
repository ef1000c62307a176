package scheduler

import (
	"context"
	"sync"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusWaiting   Status = "waiting-on-dependency"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether a run in this status is finished.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusSkipped
}

// JobRun is one trigger of a job. It is recorded on every transition.
type JobRun struct {
	ID                string    `json:"id"`
	Job               string    `json:"job"`
	Trigger           string    `json:"trigger"`
	Status            Status    `json:"status"`
	ScheduledAt       time.Time `json:"scheduledAt"`
	StartedAt         time.Time `json:"startedAt"`
	EndedAt           time.Time `json:"endedAt"`
	Error             string    `json:"error,omitempty"`
	ErrorKind         string    `json:"errorKind,omitempty"`
	MigrationRunID    string    `json:"migrationRunId,omitempty"`
	Documents         int       `json:"documents"`
	FailedDocuments   int       `json:"failedDocuments"`
	FailedCollections []string  `json:"failedCollections,omitempty"`
	LogKey            string    `json:"logKey,omitempty"`
}

// History stores job runs. Latest is what dependency checks look at.
type History interface {
	Record(ctx context.Context, run JobRun) error
	Latest(ctx context.Context, job string) (JobRun, bool, error)
	Recent(ctx context.Context, job string, limit int) ([]JobRun, error)
	Close() error
}

// MemoryHistory keeps runs for the life of the process.
type MemoryHistory struct {
	mu   sync.RWMutex
	runs map[string][]JobRun
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{runs: map[string][]JobRun{}}
}

// Record inserts run or replaces the earlier record with the same id.
func (h *MemoryHistory) Record(_ context.Context, run JobRun) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	runs := h.runs[run.Job]
	for i := range runs {
		if runs[i].ID == run.ID {
			runs[i] = cloneRun(run)
			return nil
		}
	}
	h.runs[run.Job] = append(runs, cloneRun(run))
	return nil
}

func (h *MemoryHistory) Latest(_ context.Context, job string) (JobRun, bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	runs := h.runs[job]
	if len(runs) == 0 {
		return JobRun{}, false, nil
	}
	return cloneRun(runs[len(runs)-1]), true, nil
}

// Recent returns up to limit runs, newest first. limit <= 0 returns all.
func (h *MemoryHistory) Recent(_ context.Context, job string, limit int) ([]JobRun, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	runs := h.runs[job]
	out := make([]JobRun, 0, len(runs))
	for i := len(runs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, cloneRun(runs[i]))
	}
	return out, nil
}

func (h *MemoryHistory) Close() error { return nil }

func cloneRun(r JobRun) JobRun {
	r.FailedCollections = append([]string(nil), r.FailedCollections...)
	return r
}
