// Package storage persists run artifacts (snapshots, manifests, migration
// logs) on the local filesystem or an S3-compatible bucket.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotFound is returned by Get and Stat for a missing key.
	ErrNotFound = errors.New("artifact not found")
	// ErrExists is returned by Create when the key is already taken.
	ErrExists = errors.New("artifact already exists")
)

type ObjectInfo struct {
	Key      string
	Size     int64
	Modified time.Time
	ETag     string
	Metadata map[string]string
}

type Storage interface {
	// Put writes key, replacing any previous content.
	Put(ctx context.Context, key string, reader io.Reader, size int64, metadata map[string]string) error
	// Create writes key only if it does not exist yet and returns ErrExists
	// otherwise. Run logs and manifests go through Create.
	Create(ctx context.Context, key string, reader io.Reader, size int64, metadata map[string]string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	// List returns every object under prefix, recursively, sorted by key. A
	// missing prefix yields an empty slice.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// CreateJSON writes v as indented JSON under a key that must not exist yet.
func CreateJSON(ctx context.Context, s Storage, key string, v any, metadata map[string]string) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return s.Create(ctx, key, bytes.NewReader(data), int64(len(data)), metadata)
}

// ReadJSON decodes the JSON artifact at key into v.
func ReadJSON(ctx context.Context, s Storage, key string, v any) error {
	r, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	defer r.Close()
	return json.NewDecoder(r).Decode(v)
}
