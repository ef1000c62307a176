package catalog

import (
	"context"
	"testing"

	"github.com/rowjay/docmigrate/internal/db"
	"github.com/rowjay/docmigrate/internal/document"
)

func TestEmptyStore(t *testing.T) {
	store := db.NewMemoryStore()
	names, err := ListCollections(context.Background(), store)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if names == nil || len(names) != 0 {
		t.Fatalf("expected empty list, got %#v", names)
	}
	stats, err := Stats(context.Background(), store, "policies")
	if err != nil {
		t.Fatalf("empty collection must not fail: %v", err)
	}
	if stats.DocumentCount != 0 || stats.SizeBytes != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestStatsCountsAndSizes(t *testing.T) {
	store := db.NewMemoryStore()
	store.Put("policies", document.Document{ID: "p1", Data: document.Map{"holder": document.String("Ana")}})
	store.Put("policies", document.Document{ID: "p2", Data: document.Map{"holder": document.String("Bruno")}})

	stats, err := Stats(context.Background(), store, "policies")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.DocumentCount != 2 {
		t.Fatalf("expected 2 documents, got %d", stats.DocumentCount)
	}
	if stats.SizeBytes <= 0 {
		t.Fatalf("expected positive size, got %d", stats.SizeBytes)
	}
}
