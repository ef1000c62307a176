package migrate

import (
	"github.com/rowjay/docmigrate/internal/config"
	"github.com/rowjay/docmigrate/internal/db"
	"github.com/rowjay/docmigrate/internal/env"
	"github.com/rowjay/docmigrate/internal/errs"
)

const (
	DefaultSource    = "development"
	DefaultTarget    = "staging"
	DefaultBatchSize = 500
)

// Options is one migration request. The CLI flags, the interactive prompt
// and scheduled jobs all build this value; Run never modifies it.
type Options struct {
	Source            string
	Target            string
	SourceCredentials string
	TargetCredentials string
	// Collections is the explicit collection list. Empty means every
	// collection on the source except the excluded ones.
	Collections   []string
	Query         string
	DryRun        bool
	BatchSize     int
	IncludeUsers  bool
	TransformData bool
	Backup        bool
	// Job is the scheduler job that started the run, if any.
	Job string
}

// DefaultOptions returns the options a bare `dmig migrate` runs with.
func DefaultOptions(cfg config.MigrationConfig) Options {
	opts := Options{
		Source:        DefaultSource,
		Target:        DefaultTarget,
		BatchSize:     cfg.BatchSize,
		IncludeUsers:  cfg.IncludeUsers,
		TransformData: cfg.TransformData,
		Backup:        cfg.Backup,
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return opts
}

// FromJob builds the options for a scheduled job, falling back to the
// migration section for anything the job leaves unset.
func FromJob(job config.JobConfig, cfg config.MigrationConfig) Options {
	opts := DefaultOptions(cfg)
	if job.Source != "" {
		opts.Source = job.Source
	}
	if job.Target != "" {
		opts.Target = job.Target
	}
	if job.BatchSize > 0 {
		opts.BatchSize = job.BatchSize
	}
	if job.TransformData != nil {
		opts.TransformData = *job.TransformData
	}
	if job.Backup != nil {
		opts.Backup = *job.Backup
	}
	opts.SourceCredentials = job.SourceCredentials
	opts.TargetCredentials = job.TargetCredentials
	opts.Collections = append([]string(nil), job.Collections...)
	opts.Query = job.Query
	opts.DryRun = job.DryRun
	opts.IncludeUsers = opts.IncludeUsers || job.IncludeUsers
	opts.Job = job.ID
	return opts
}

// Validate rejects options that can never run. Every failure is a
// ConfigError.
func (o Options) Validate() error {
	if o.Source == "" || o.Target == "" {
		return errs.Configf("source and target environments are required")
	}
	if o.Source == o.Target && o.Source != env.Custom {
		return errs.Configf("source and target are both %q; refusing to migrate an environment onto itself", o.Source)
	}
	if o.Source == env.Custom && o.SourceCredentials == "" {
		return errs.Configf("--source-credentials is required when source is %q", env.Custom)
	}
	if o.Target == env.Custom && o.TargetCredentials == "" {
		return errs.Configf("--target-credentials is required when target is %q", env.Custom)
	}
	if o.Source == env.Custom && o.Target == env.Custom && o.SourceCredentials == o.TargetCredentials {
		return errs.Configf("source and target credentials are the same file %s", o.SourceCredentials)
	}
	if o.BatchSize <= 0 {
		return errs.Configf("batch size must be positive, got %d", o.BatchSize)
	}
	if _, err := o.Filter(); err != nil {
		return err
	}
	return nil
}

// Filter parses Query. An empty query yields a nil filter.
func (o Options) Filter() (*db.Filter, error) {
	if o.Query == "" {
		return nil, nil
	}
	f, err := db.ParseFilter(o.Query)
	if err != nil {
		return nil, errs.WrapConfig(err, "invalid query")
	}
	return f, nil
}
