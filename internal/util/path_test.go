package util

import (
	"testing"
	"time"
)

func TestBuildSnapshotPrefix(t *testing.T) {
	when := time.Date(2024, 1, 1, 10, 30, 15, 250_000_000, time.UTC)
	key := BuildSnapshotPrefix("backups/", "staging", when)
	if key != "backups/staging-2024-01-01T10-30-15-250Z" {
		t.Fatalf("unexpected prefix: %s", key)
	}
}

func TestBuildLogKey(t *testing.T) {
	when := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	key := BuildLogKey("logs", "development", "staging", when, "")
	if key != "logs/migration-development-to-staging-2024-01-01T10-00-00-000Z.json" {
		t.Fatalf("unexpected key: %s", key)
	}
	failed := BuildLogKey("", "a", "b", when, "-failed")
	if failed != "migration-a-to-b-2024-01-01T10-00-00-000Z-failed.json" {
		t.Fatalf("unexpected key: %s", failed)
	}
}
