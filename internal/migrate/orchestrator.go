// Package migrate copies collections from a source environment to a target
// environment. Collections are processed one after another; a collection
// that fails is recorded and the run moves on to the next one.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rowjay/docmigrate/internal/batch"
	"github.com/rowjay/docmigrate/internal/catalog"
	"github.com/rowjay/docmigrate/internal/config"
	"github.com/rowjay/docmigrate/internal/db"
	"github.com/rowjay/docmigrate/internal/document"
	"github.com/rowjay/docmigrate/internal/env"
	"github.com/rowjay/docmigrate/internal/errs"
	"github.com/rowjay/docmigrate/internal/lock"
	"github.com/rowjay/docmigrate/internal/logging"
	"github.com/rowjay/docmigrate/internal/snapshot"
	"github.com/rowjay/docmigrate/internal/storage"
	"github.com/rowjay/docmigrate/internal/transform"
	"github.com/rowjay/docmigrate/internal/util"
)

type Orchestrator struct {
	envs      *env.Registry
	snapshots *snapshot.Manager
	artifacts storage.Storage
	locks     *lock.Registry
	pipeline  *transform.Pipeline
	executor  *batch.Executor
	logPrefix string
	excluded  []string
	log       zerolog.Logger
	now       func() time.Time
}

// NewOrchestrator wires a run entry point. locks may be nil, in which case
// targets are not locked.
func NewOrchestrator(cfg *config.Config, envs *env.Registry, snapshots *snapshot.Manager, artifacts storage.Storage, locks *lock.Registry, log zerolog.Logger) *Orchestrator {
	prefix := cfg.Migration.LogPrefix
	if prefix == "" {
		prefix = "logs"
	}
	excluded := cfg.Migration.ExcludedCollections
	if excluded == nil {
		excluded = []string{"users"}
	}
	return &Orchestrator{
		envs:      envs,
		snapshots: snapshots,
		artifacts: artifacts,
		locks:     locks,
		pipeline:  transform.New(transform.RulesFromConfig(cfg.Sanitize)),
		executor:  batch.NewExecutor(log),
		logPrefix: prefix,
		excluded:  excluded,
		log:       logging.For(log, "migrate"),
		now:       time.Now,
	}
}

// WithClock replaces the time source used for stats and log keys.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Run executes one migration. A ConfigError or BackupError aborts the run
// before anything is written and no Stats are returned; collection failures
// are reported inside Stats with a nil error.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Stats, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	filter, _ := opts.Filter()

	start := o.now().UTC()
	stats := &Stats{
		RunID:             uuid.NewString(),
		Job:               opts.Job,
		Source:            opts.Source,
		Target:            opts.Target,
		DryRun:            opts.DryRun,
		StartTime:         start,
		Collections:       []catalog.CollectionStats{},
		Results:           []CollectionResult{},
		FailedCollections: []string{},
	}
	log := o.log.With().Str("run_id", stats.RunID).Str("source", opts.Source).Str("target", opts.Target).Logger()
	if opts.Job != "" {
		log = log.With().Str("job", opts.Job).Logger()
	}
	abort := func(err error, failed []string) (*Stats, error) {
		log.Error().Err(err).Str("kind", string(errs.KindOf(err))).Msg("migration aborted")
		o.writeFailure(ctx, stats, err, failed)
		return nil, err
	}
	backupRequested := opts.Backup && !opts.DryRun

	source, err := o.envs.Resolve(ctx, opts.Source, opts.SourceCredentials)
	if err != nil {
		return abort(err, nil)
	}
	target, err := o.envs.Resolve(ctx, opts.Target, opts.TargetCredentials)
	if err != nil {
		if backupRequested && !errs.IsConfig(err) {
			err = &errs.BackupError{Environment: opts.Target, Cause: err}
		}
		return abort(err, nil)
	}

	collections, err := o.resolveCollections(ctx, source, opts)
	if err != nil {
		return abort(err, nil)
	}
	log.Info().Strs("collections", collections).Bool("dry_run", opts.DryRun).Int("batch_size", opts.BatchSize).Msg("migration started")

	if !opts.DryRun && o.locks != nil {
		release, err := o.locks.Acquire(target.Name)
		if err != nil {
			return abort(fmt.Errorf("lock target %s: %w", target.Name, err), nil)
		}
		defer func() {
			if err := release(); err != nil {
				log.Warn().Err(err).Msg("release target lock")
			}
		}()
	}

	if backupRequested {
		if o.snapshots == nil {
			return abort(errs.Configf("backup requested but no snapshot manager is configured"), nil)
		}
		manifest, err := o.snapshots.Backup(ctx, target.Name, target.Store, collections)
		if err != nil {
			var berr *errs.BackupError
			if !errors.As(err, &berr) {
				berr = &errs.BackupError{Environment: target.Name, Cause: err}
			}
			return abort(berr, berr.Failed)
		}
		stats.Backup = manifest.Name
		log.Info().Str("snapshot", manifest.Name).Msg("target backed up")
	}

	src := transform.Endpoint{Name: source.Name, Namespace: source.Namespace, Production: source.Production()}
	dst := transform.Endpoint{Name: target.Name, Namespace: target.Namespace, Production: target.Production()}

	for _, coll := range collections {
		result := CollectionResult{Name: coll}
		clog := log.With().Str("collection", coll).Logger()

		docs, err := source.Store.Scan(ctx, coll, filter)
		if err != nil {
			terr := &errs.CollectionTransferError{Collection: coll, Batch: -1, Cause: err}
			result.Error = terr.Error()
			if n, ok := countAfterReadFailure(ctx, source.Store, coll, filter); ok {
				result.Documents, result.Failed = n, n
				stats.TotalDocuments += n
				stats.FailedDocuments += n
			} else {
				result.CountUnknown = true
			}
			stats.Results = append(stats.Results, result)
			stats.FailedCollections = append(stats.FailedCollections, coll)
			clog.Error().Err(err).Msg("read failed")
			continue
		}
		cs := catalog.StatsOf(coll, docs)
		stats.Collections = append(stats.Collections, cs)
		stats.TotalDocuments += cs.DocumentCount
		result.Documents = cs.DocumentCount

		if len(docs) == 0 {
			result.Empty = true
			stats.Results = append(stats.Results, result)
			clog.Info().Msg("collection empty, skipped")
			continue
		}

		if opts.DryRun {
			result.Written = len(docs)
			result.Batches = (len(docs) + opts.BatchSize - 1) / opts.BatchSize
			stats.MigratedDocuments += len(docs)
			stats.Results = append(stats.Results, result)
			clog.Info().Int("documents", len(docs)).Msg("[dry run] would migrate")
			continue
		}

		if opts.TransformData {
			docs = o.transform(docs, src, dst)
		}
		res, err := o.executor.WriteAll(ctx, target.Store, coll, docs, opts.BatchSize)
		result.Batches = res.BatchesTotal
		result.BatchesCommitted = res.BatchesCommitted
		result.Written = res.DocumentsWritten
		if err != nil {
			result.Failed = len(docs)
			result.Error = err.Error()
			stats.FailedDocuments += len(docs)
			stats.FailedCollections = append(stats.FailedCollections, coll)
			stats.Results = append(stats.Results, result)
			continue
		}
		stats.MigratedDocuments += res.DocumentsWritten
		stats.Results = append(stats.Results, result)
		clog.Info().Int("documents", res.DocumentsWritten).Int("batches", res.BatchesCommitted).Msg("collection migrated")
	}

	stats.finish(o.now().UTC())
	if key, err := o.writeLog(ctx, stats); err != nil {
		log.Error().Err(err).Msg("migration log not written")
	} else {
		stats.LogKey = key
	}

	ev := log.Info()
	if !stats.Succeeded() {
		ev = log.Warn().Strs("failed_collections", stats.FailedCollections)
	}
	ev.Int("total", stats.TotalDocuments).
		Int("migrated", stats.MigratedDocuments).
		Int("failed", stats.FailedDocuments).
		Dur("duration", stats.Duration).
		Msg("migration finished")
	return stats, nil
}

// countAfterReadFailure asks the store for the size of a collection it
// could not scan, so the failed count is not reported as zero.
func countAfterReadFailure(ctx context.Context, store db.Store, coll string, filter *db.Filter) (int, bool) {
	c, ok := store.(db.Counter)
	if !ok {
		return 0, false
	}
	n, err := c.CountDocuments(ctx, coll, filter)
	if err != nil {
		return 0, false
	}
	return n, true
}

// resolveCollections returns the explicit list with duplicates removed, or
// the source catalog minus the excluded collections.
func (o *Orchestrator) resolveCollections(ctx context.Context, source *env.Environment, opts Options) ([]string, error) {
	if len(opts.Collections) > 0 {
		seen := map[string]bool{}
		var out []string
		for _, c := range opts.Collections {
			if c == "" || seen[c] {
				continue
			}
			seen[c] = true
			out = append(out, c)
		}
		return out, nil
	}
	names, err := catalog.ListCollections(ctx, source.Store)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", source.Name, err)
	}
	skip := map[string]bool{}
	for _, c := range o.excluded {
		skip[c] = true
	}
	if opts.IncludeUsers {
		delete(skip, "users")
	}
	out := []string{}
	for _, n := range names {
		if !skip[n] {
			out = append(out, n)
		}
	}
	return out, nil
}

func (o *Orchestrator) transform(docs []document.Document, src, dst transform.Endpoint) []document.Document {
	out := make([]document.Document, len(docs))
	for i, d := range docs {
		out[i] = o.pipeline.Apply(d, src, dst)
	}
	return out
}

// writeLog stores the run record. Log keys are never overwritten.
func (o *Orchestrator) writeLog(ctx context.Context, stats *Stats) (string, error) {
	key := util.BuildLogKey(o.logPrefix, stats.Source, stats.Target, stats.StartTime, "")
	return key, o.putOnce(ctx, key, stats)
}

func (o *Orchestrator) writeFailure(ctx context.Context, stats *Stats, cause error, failed []string) {
	rec := failureRecord{
		RunID:     stats.RunID,
		Job:       stats.Job,
		Source:    stats.Source,
		Target:    stats.Target,
		Error:     cause.Error(),
		Kind:      string(errs.KindOf(cause)),
		Failed:    failed,
		StartedAt: stats.StartTime,
		EndedAt:   o.now().UTC(),
	}
	key := util.BuildLogKey(o.logPrefix, stats.Source, stats.Target, stats.StartTime, "-failed")
	if err := o.putOnce(ctx, key, rec); err != nil {
		o.log.Warn().Err(err).Str("key", key).Msg("failure record not written")
	}
}

func (o *Orchestrator) putOnce(ctx context.Context, key string, v any) error {
	if o.artifacts == nil {
		return errors.New("no artifact storage configured")
	}
	return storage.CreateJSON(ctx, o.artifacts, key, v, map[string]string{"dmig-log": "true"})
}
