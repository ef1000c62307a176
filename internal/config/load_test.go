package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadDefaults(t *testing.T) {
	p := writeFile(t, t.TempDir(), "dmig.yaml", "global:\n  log_level: debug\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Global.LogLevel != "debug" {
		t.Fatalf("expected file value, got %q", cfg.Global.LogLevel)
	}
	if cfg.Global.OperationTimeout != 2*time.Hour {
		t.Fatalf("expected 2h timeout, got %s", cfg.Global.OperationTimeout)
	}
	if cfg.Migration.BatchSize != 500 || !cfg.Migration.TransformData || !cfg.Migration.Backup {
		t.Fatalf("unexpected migration defaults: %+v", cfg.Migration)
	}
	if len(cfg.Migration.ExcludedCollections) != 1 || cfg.Migration.ExcludedCollections[0] != "users" {
		t.Fatalf("expected users excluded by default, got %v", cfg.Migration.ExcludedCollections)
	}
	if cfg.Scheduler.MaxConcurrent != 4 || cfg.Scheduler.History.Backend != "memory" {
		t.Fatalf("unexpected scheduler defaults: %+v", cfg.Scheduler)
	}
	if cfg.Environments == nil {
		t.Fatalf("expected environments map")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DMIG_MIGRATION_BATCH_SIZE", "50")
	t.Setenv("S3_SECRET", "s3cr3t")
	p := writeFile(t, t.TempDir(), "dmig.yaml", "storage:\n  s3:\n    secret_key: ${S3_SECRET}\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Migration.BatchSize != 50 {
		t.Fatalf("expected env batch size, got %d", cfg.Migration.BatchSize)
	}
	if cfg.Storage.S3.SecretKey != "s3cr3t" {
		t.Fatalf("expected expanded secret, got %q", cfg.Storage.S3.SecretKey)
	}
}

func TestLoadJobTimeouts(t *testing.T) {
	p := writeFile(t, t.TempDir(), "dmig.yaml", `
scheduler:
  jobs:
    - id: claims
      schedule: "*/30 * * * *"
      dependency_timeout: 120
      transform_data: false
    - id: policies
      dependencies: [claims]
      dependency_strategy: wait
      dependency_timeout: 90m
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	jobs := cfg.Scheduler.Jobs
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].DependencyTimeout != 2*time.Hour {
		t.Fatalf("bare number should be minutes, got %s", jobs[0].DependencyTimeout)
	}
	if jobs[1].DependencyTimeout != 90*time.Minute {
		t.Fatalf("expected 90m, got %s", jobs[1].DependencyTimeout)
	}
	if jobs[0].TransformData == nil || *jobs[0].TransformData {
		t.Fatalf("expected explicit transform_data false")
	}
	if jobs[1].TransformData != nil {
		t.Fatalf("unset transform_data should stay nil")
	}
}

func TestLoadCredentialsRelativePath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STAGING_DB", "staging")
	p := writeFile(t, dir, "staging.json", `{"type":"sqlite","path":"data/${STAGING_DB}.db","class":"non-production","storage_namespace":"acme-staging"}`)
	creds, err := LoadCredentials(p)
	if err != nil {
		t.Fatalf("load credentials: %v", err)
	}
	if want := filepath.Join(dir, "data", "staging.db"); creds.Path != want {
		t.Fatalf("expected %s, got %s", want, creds.Path)
	}
	if creds.StorageNamespace != "acme-staging" {
		t.Fatalf("unexpected namespace %q", creds.StorageNamespace)
	}

	if _, err := LoadCredentials(filepath.Join(dir, "missing.json")); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestEncryptedConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	key := base64.StdEncoding.EncodeToString(make([]byte, 32))
	plain := writeFile(t, dir, "dmig.yaml", "global:\n  log_format: console\n")
	sealed := filepath.Join(dir, "dmig.yaml.enc")
	if err := EncryptConfigFile(plain, sealed, key); err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	if _, err := Load(sealed); err == nil {
		t.Fatalf("expected error without key")
	}

	t.Setenv(keyEnv, key)
	cfg, err := Load(sealed)
	if err != nil {
		t.Fatalf("load encrypted: %v", err)
	}
	if cfg.Global.LogFormat != "console" {
		t.Fatalf("expected console, got %q", cfg.Global.LogFormat)
	}
}
