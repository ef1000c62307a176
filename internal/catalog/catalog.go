// Package catalog enumerates collections and computes their statistics.
// Statistics are computed from a fresh scan on every call.
package catalog

import (
	"context"
	"fmt"

	"github.com/rowjay/docmigrate/internal/db"
	"github.com/rowjay/docmigrate/internal/document"
)

type CollectionStats struct {
	Name          string `json:"name"`
	DocumentCount int    `json:"documentCount"`
	SizeBytes     int64  `json:"size"`
}

// ListCollections returns every collection visible to store. An empty store
// yields an empty slice.
func ListCollections(ctx context.Context, store db.Store) ([]string, error) {
	names, err := store.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// Stats scans a collection in full. An empty collection is not an error.
func Stats(ctx context.Context, store db.Store, name string) (CollectionStats, error) {
	docs, err := store.Scan(ctx, name, nil)
	if err != nil {
		return CollectionStats{}, fmt.Errorf("scan %s: %w", name, err)
	}
	return StatsOf(name, docs), nil
}

// StatsOf computes statistics for documents already read.
func StatsOf(name string, docs []document.Document) CollectionStats {
	stats := CollectionStats{Name: name, DocumentCount: len(docs)}
	for _, doc := range docs {
		stats.SizeBytes += doc.Size()
	}
	return stats
}
