package errs

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestKindOfWrapped(t *testing.T) {
	base := Configf("batch size must be positive, got %d", 0)
	wrapped := fmt.Errorf("migrate: %w", base)
	if !IsConfig(wrapped) {
		t.Fatalf("expected wrapped config error to be detected")
	}
	if KindOf(wrapped) != KindConfig {
		t.Fatalf("unexpected kind: %s", KindOf(wrapped))
	}
	if ExitCode(wrapped) != 2 {
		t.Fatalf("unexpected exit code: %d", ExitCode(wrapped))
	}
}

func TestBackupErrorMessageListsCollections(t *testing.T) {
	cause := errors.New("connection refused")
	err := &BackupError{Environment: "staging", Failed: []string{"claims", "policies"}, Cause: cause}
	want := "backup of staging failed for collections [claims, policies]: connection refused"
	if err.Error() != want {
		t.Fatalf("unexpected message: %s", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to unwrap")
	}
	if ExitCode(err) != 3 {
		t.Fatalf("unexpected exit code: %d", ExitCode(err))
	}
}

func TestCollectionTransferErrorBatchIsOneBased(t *testing.T) {
	err := &CollectionTransferError{Collection: "claims", Batch: 2, Cause: errors.New("boom")}
	if err.Error() != "collection claims: batch 3 failed: boom" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
	read := &CollectionTransferError{Collection: "claims", Batch: -1, Cause: errors.New("boom")}
	if read.Error() != "collection claims: read failed: boom" {
		t.Fatalf("unexpected message: %s", read.Error())
	}
}

func TestDependencyTimeout(t *testing.T) {
	err := fmt.Errorf("tick: %w", &DependencyTimeoutError{Job: "reporting", Pending: []string{"claims"}, Timeout: 2 * time.Hour})
	if KindOf(err) != KindDependencyTimeout {
		t.Fatalf("unexpected kind: %s", KindOf(err))
	}
	if ExitCode(nil) != 0 {
		t.Fatalf("nil error must map to exit 0")
	}
}
