// Package app wires configuration, environments, artifact storage and the
// migration, snapshot and scheduler services behind the operations the CLI
// exposes.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rowjay/docmigrate/internal/catalog"
	"github.com/rowjay/docmigrate/internal/config"
	"github.com/rowjay/docmigrate/internal/env"
	"github.com/rowjay/docmigrate/internal/errs"
	"github.com/rowjay/docmigrate/internal/lock"
	"github.com/rowjay/docmigrate/internal/migrate"
	"github.com/rowjay/docmigrate/internal/notify"
	"github.com/rowjay/docmigrate/internal/scheduler"
	"github.com/rowjay/docmigrate/internal/snapshot"
	"github.com/rowjay/docmigrate/internal/storage"
)

type App struct {
	Cfg       *config.Config
	Envs      *env.Registry
	Storage   storage.Storage
	Snapshots *snapshot.Manager
	Migrator  *migrate.Orchestrator
	Locks     *lock.Registry
	Log       zerolog.Logger
	Notifier  notify.Notifier
}

// New builds the services. envs is owned by the App from here on and closed
// by Close.
func New(cfg *config.Config, envs *env.Registry, store storage.Storage, log zerolog.Logger, notifier notify.Notifier) (*App, error) {
	snaps, err := snapshot.NewManager(cfg.Backup, store, log)
	if err != nil {
		return nil, err
	}
	lockDir := cfg.Global.LockDir
	if lockDir == "" {
		lockDir = os.TempDir()
	}
	locks := lock.NewRegistry(lockDir)
	return &App{
		Cfg:       cfg,
		Envs:      envs,
		Storage:   store,
		Snapshots: snaps,
		Migrator:  migrate.NewOrchestrator(cfg, envs, snaps, store, locks, log),
		Locks:     locks,
		Log:       log,
		Notifier:  notifier,
	}, nil
}

// Migrate runs one migration and notifies about the outcome.
func (a *App) Migrate(ctx context.Context, opts migrate.Options) (*migrate.Stats, error) {
	start := time.Now()
	var stats *migrate.Stats
	var opErr error
	defer func() {
		event := notify.Event{
			Type:      notify.TypeMigrate,
			Message:   fmt.Sprintf("migrate %s -> %s", opts.Source, opts.Target),
			Status:    statusFromErr(opErr),
			Source:    opts.Source,
			Target:    opts.Target,
			StartedAt: start,
			EndedAt:   time.Now(),
			Duration:  time.Since(start).String(),
		}
		if stats != nil {
			event.RunID = stats.RunID
			event.Documents = stats.MigratedDocuments
			event.Failed = stats.FailedDocuments
			event.FailedCollections = stats.FailedCollections
			event.Key = stats.LogKey
			if !stats.Succeeded() {
				event.Status = "partial"
			}
		}
		if opErr != nil {
			event.Error = opErr.Error()
		}
		a.notify(event)
	}()

	stats, opErr = a.Migrator.Run(ctx, opts)
	return stats, opErr
}

// ListBackups returns snapshots newest first, optionally for one
// environment.
func (a *App) ListBackups(ctx context.Context, environment string) ([]*snapshot.Manifest, error) {
	all, err := a.Snapshots.List(ctx)
	if err != nil {
		return nil, err
	}
	if environment == "" {
		return all, nil
	}
	var out []*snapshot.Manifest
	for _, m := range all {
		if m.Environment == environment {
			out = append(out, m)
		}
	}
	return out, nil
}

type RestoreRequest struct {
	Backup            string
	Collections       []string
	Target            string
	TargetCredentials string
	BatchSize         int
}

// Restore recreates the requested collections of a snapshot in the target
// environment while holding the target lock.
func (a *App) Restore(ctx context.Context, req RestoreRequest) (*snapshot.RestoreStats, error) {
	start := time.Now()
	var stats *snapshot.RestoreStats
	var opErr error
	defer func() {
		event := notify.Event{
			Type:      notify.TypeRestore,
			Message:   fmt.Sprintf("restore %s into %s", req.Backup, req.Target),
			Status:    statusFromErr(opErr),
			Target:    req.Target,
			StartedAt: start,
			EndedAt:   time.Now(),
			Duration:  time.Since(start).String(),
			Key:       req.Backup,
		}
		if stats != nil {
			for _, c := range stats.Collections {
				event.Documents += c.Written
			}
			event.FailedCollections = stats.Failed()
		}
		if opErr != nil {
			event.Error = opErr.Error()
		}
		a.notify(event)
	}()

	if req.Backup == "" {
		opErr = errs.Configf("a backup must be selected")
		return nil, opErr
	}
	if req.BatchSize == 0 {
		req.BatchSize = a.Cfg.Migration.BatchSize
	}
	manifest, err := a.Snapshots.Load(ctx, req.Backup)
	if err != nil {
		opErr = err
		return nil, err
	}
	if req.Target == "" {
		req.Target = manifest.Environment
	}
	target, err := a.Envs.Resolve(ctx, req.Target, req.TargetCredentials)
	if err != nil {
		opErr = err
		return nil, err
	}
	release, err := a.Locks.Acquire(target.Name)
	if err != nil {
		opErr = err
		return nil, err
	}
	defer func() {
		if err := release(); err != nil {
			a.Log.Warn().Err(err).Msg("release target lock")
		}
	}()

	stats, opErr = a.Snapshots.Restore(ctx, manifest, req.Collections, target.Name, target.Store, req.BatchSize)
	return stats, opErr
}

// EnvironmentReport is one line of the validate output.
type EnvironmentReport struct {
	Name        string
	Class       string
	Store       string
	Collections []catalog.CollectionStats
	Skipped     string
	Err         error
}

// Validate resolves every configured environment, lists its collections,
// checks the job graph and reaches artifact storage. It returns the
// per-environment reports and the joined errors.
func (a *App) Validate(ctx context.Context) ([]EnvironmentReport, error) {
	var problems []error
	var reports []EnvironmentReport
	for _, name := range a.Envs.Names() {
		report := EnvironmentReport{Name: name}
		e, err := a.Envs.Resolve(ctx, name, "")
		if err != nil {
			if _, configured := a.Cfg.Environments[name]; !configured && errors.Is(err, fs.ErrNotExist) {
				report.Skipped = "no credentials"
				reports = append(reports, report)
				continue
			}
			report.Err = err
			problems = append(problems, err)
			reports = append(reports, report)
			continue
		}
		report.Class = string(e.Class)
		report.Store = e.Store.Name()
		names, err := catalog.ListCollections(ctx, e.Store)
		if err != nil {
			report.Err = err
			problems = append(problems, fmt.Errorf("%s: %w", name, err))
			reports = append(reports, report)
			continue
		}
		for _, coll := range names {
			cs, err := catalog.Stats(ctx, e.Store, coll)
			if err != nil {
				report.Err = err
				problems = append(problems, fmt.Errorf("%s: %w", name, err))
				break
			}
			report.Collections = append(report.Collections, cs)
		}
		reports = append(reports, report)
	}

	if _, err := scheduler.BuildJobs(a.Cfg.Scheduler, a.Cfg.Migration); err != nil {
		problems = append(problems, err)
	}
	if _, err := a.Storage.List(ctx, a.Cfg.Backup.Prefix); err != nil {
		problems = append(problems, fmt.Errorf("artifact storage: %w", err))
	}
	return reports, errors.Join(problems...)
}

// Scheduler builds a scheduler over the configured jobs, backed by the
// configured history store.
func (a *App) Scheduler(ctx context.Context) (*scheduler.Scheduler, error) {
	history, err := scheduler.OpenHistory(ctx, a.Cfg.Scheduler.History)
	if err != nil {
		return nil, err
	}
	s, err := scheduler.New(a.Cfg.Scheduler, a.Cfg.Migration, a.Migrator, history, a.Log)
	if err != nil {
		_ = history.Close()
		return nil, err
	}
	if a.Notifier != nil {
		s = s.WithNotifier(a.Notifier)
	}
	return s, nil
}

// JobsFailed turns unsuccessful runs into an error for the exit status.
func JobsFailed(runs []scheduler.JobRun) error {
	var failed []string
	for _, r := range runs {
		if r.Status == scheduler.StatusFailed {
			failed = append(failed, r.Job)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	sort.Strings(failed)
	return fmt.Errorf("jobs failed: %s", strings.Join(failed, ", "))
}

func (a *App) Close() error {
	return a.Envs.Close()
}

func (a *App) notify(event notify.Event) {
	if a.Notifier == nil {
		return
	}
	if err := a.Notifier.Notify(context.Background(), event); err != nil {
		a.Log.Warn().Err(err).Str("type", event.Type).Msg("notification failed")
	}
}

func statusFromErr(err error) string {
	if err != nil {
		return "failed"
	}
	return "success"
}
