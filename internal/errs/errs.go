// Package errs holds the error taxonomy shared by the migrator, the backup
// manager and the scheduler.
package errs

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies an error for exit codes, logs and failure records.
type Kind string

const (
	KindConfig             Kind = "config"
	KindBackup             Kind = "backup"
	KindCollectionTransfer Kind = "collection_transfer"
	KindDependencyTimeout  Kind = "dependency_timeout"
	KindUnknown            Kind = "unknown"
)

// ConfigError reports bad or missing credentials, invalid options or an
// invalid job graph. Always fatal.
type ConfigError struct {
	Message string
	Cause   error
}

func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("config: %s: %v", e.Message, e.Cause)
	}
	return "config: " + e.Message
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// Configf builds a ConfigError from a format string.
func Configf(format string, args ...any) error {
	return &ConfigError{Message: fmt.Sprintf(format, args...)}
}

// WrapConfig wraps cause as a ConfigError.
func WrapConfig(cause error, format string, args ...any) error {
	return &ConfigError{Message: fmt.Sprintf(format, args...), Cause: cause}
}

// BackupError reports a snapshot that could not be completed. Failed lists
// every collection that was not written; Snapshot is the location of the
// partial snapshot, if any part of it was written.
type BackupError struct {
	Environment string
	Snapshot    string
	Failed      []string
	Cause       error
}

func (e *BackupError) Error() string {
	msg := fmt.Sprintf("backup of %s failed", e.Environment)
	if len(e.Failed) > 0 {
		msg += " for collections [" + strings.Join(e.Failed, ", ") + "]"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *BackupError) Unwrap() error { return e.Cause }

// CollectionTransferError is recorded per collection and never aborts the
// sibling collections of a run. Batch is the zero-based index of the batch
// that failed, or -1 when the failure happened while reading.
type CollectionTransferError struct {
	Collection string
	Batch      int
	Cause      error
}

func (e *CollectionTransferError) Error() string {
	if e.Batch < 0 {
		return fmt.Sprintf("collection %s: read failed: %v", e.Collection, e.Cause)
	}
	return fmt.Sprintf("collection %s: batch %d failed: %v", e.Collection, e.Batch+1, e.Cause)
}

func (e *CollectionTransferError) Unwrap() error { return e.Cause }

// DependencyTimeoutError is returned when a job using the wait strategy gives
// up on its dependencies.
type DependencyTimeoutError struct {
	Job     string
	Pending []string
	Timeout time.Duration
}

func (e *DependencyTimeoutError) Error() string {
	return fmt.Sprintf("job %s: dependencies [%s] not satisfied within %s", e.Job, strings.Join(e.Pending, ", "), e.Timeout)
}

func IsConfig(err error) bool {
	var target *ConfigError
	return errors.As(err, &target)
}

func IsBackup(err error) bool {
	var target *BackupError
	return errors.As(err, &target)
}

func IsCollectionTransfer(err error) bool {
	var target *CollectionTransferError
	return errors.As(err, &target)
}

func IsDependencyTimeout(err error) bool {
	var target *DependencyTimeoutError
	return errors.As(err, &target)
}

// KindOf returns the taxonomy kind of err.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case IsConfig(err):
		return KindConfig
	case IsBackup(err):
		return KindBackup
	case IsDependencyTimeout(err):
		return KindDependencyTimeout
	case IsCollectionTransfer(err):
		return KindCollectionTransfer
	default:
		return KindUnknown
	}
}

// ExitCode maps err to the process exit status.
func ExitCode(err error) int {
	switch KindOf(err) {
	case "":
		return 0
	case KindConfig:
		return 2
	case KindBackup:
		return 3
	default:
		return 1
	}
}
