package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rowjay/docmigrate/internal/config"
)

func TestLocalPutGetList(t *testing.T) {
	ctx := context.Background()
	store := NewLocal(t.TempDir())

	if err := store.Put(ctx, "backups/staging-1/claims.json", strings.NewReader(`[]`), 2, nil); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, "backups/staging-1/manifest.json", strings.NewReader(`{}`), 2, nil); err != nil {
		t.Fatalf("put: %v", err)
	}

	r, err := store.Get(ctx, "backups/staging-1/claims.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(r)
	r.Close()
	if string(body) != "[]" {
		t.Fatalf("unexpected body: %q", body)
	}

	objects, err := store.List(ctx, "backups")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(objects) != 2 || objects[0].Key != "backups/staging-1/claims.json" {
		t.Fatalf("unexpected listing: %+v", objects)
	}
}

func TestLocalMissingKeys(t *testing.T) {
	ctx := context.Background()
	store := NewLocal(t.TempDir())

	objects, err := store.List(ctx, "backups")
	if err != nil || len(objects) != 0 {
		t.Fatalf("missing prefix must list empty, got %v %v", objects, err)
	}
	if _, err := store.Get(ctx, "logs/none.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	ok, err := store.Exists(ctx, "logs/none.json")
	if err != nil || ok {
		t.Fatalf("expected missing key, got %v %v", ok, err)
	}
	if err := store.Delete(ctx, "logs/none.json"); err != nil {
		t.Fatalf("deleting a missing key must succeed: %v", err)
	}
}

func TestFactory(t *testing.T) {
	if _, err := New(config.StorageConfig{Backend: "s3"}); err == nil {
		t.Fatalf("expected s3 without endpoint to fail")
	}
	if _, err := New(config.StorageConfig{Backend: "gcs"}); err == nil {
		t.Fatalf("expected unknown backend to fail")
	}
	s, err := New(config.StorageConfig{Backend: "local", Local: config.LocalStore{Path: t.TempDir()}})
	if err != nil || s == nil {
		t.Fatalf("unexpected local factory result: %v", err)
	}
}

func TestLocalCreateNeverOverwrites(t *testing.T) {
	ctx := context.Background()
	store := NewLocal(t.TempDir())
	key := "logs/migration-development-to-staging-2024-06-01T12-00-00-000Z.json"

	if err := CreateJSON(ctx, store, key, map[string]int{"migrated": 3}, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := CreateJSON(ctx, store, key, map[string]int{"migrated": 0}, nil)
	if !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	var got map[string]int
	if err := ReadJSON(ctx, store, key, &got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got["migrated"] != 3 {
		t.Fatalf("first write must survive, got %v", got)
	}

	objects, err := store.List(ctx, "logs")
	if err != nil || len(objects) != 1 {
		t.Fatalf("staging files must not be listed, got %+v %v", objects, err)
	}
}
