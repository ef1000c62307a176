package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowjay/docmigrate/internal/config"
	"github.com/rowjay/docmigrate/internal/errs"
)

func TestFromJobFallsBackToMigrationConfig(t *testing.T) {
	cfg := config.MigrationConfig{BatchSize: 200, TransformData: true, Backup: true}
	off := false

	opts := FromJob(config.JobConfig{ID: "nightly", Target: "production", Collections: []string{"claims"}}, cfg)
	assert.Equal(t, DefaultSource, opts.Source)
	assert.Equal(t, "production", opts.Target)
	assert.Equal(t, 200, opts.BatchSize)
	assert.True(t, opts.TransformData)
	assert.True(t, opts.Backup)
	assert.Equal(t, "nightly", opts.Job)

	opts = FromJob(config.JobConfig{ID: "raw", BatchSize: 10, TransformData: &off, Backup: &off, Query: "status == active"}, cfg)
	assert.Equal(t, 10, opts.BatchSize)
	assert.False(t, opts.TransformData)
	assert.False(t, opts.Backup)
	f, err := opts.Filter()
	require.NoError(t, err)
	assert.Equal(t, "status", f.Field)
}

func TestFromJobCopiesCollections(t *testing.T) {
	job := config.JobConfig{ID: "a", Collections: []string{"claims"}}
	opts := FromJob(job, config.MigrationConfig{})
	opts.Collections[0] = "policies"
	assert.Equal(t, "claims", job.Collections[0])
	assert.Equal(t, DefaultBatchSize, opts.BatchSize)
}

func TestValidateCustomCredentials(t *testing.T) {
	opts := DefaultOptions(config.MigrationConfig{})
	opts.Source, opts.Target = "custom", "custom"
	assert.True(t, errs.IsConfig(opts.Validate()))

	opts.SourceCredentials, opts.TargetCredentials = "a.json", "a.json"
	assert.True(t, errs.IsConfig(opts.Validate()))

	opts.TargetCredentials = "b.json"
	assert.NoError(t, opts.Validate())

	opts.Query = "status ~= x"
	assert.True(t, errs.IsConfig(opts.Validate()))
}
