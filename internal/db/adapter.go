package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rowjay/docmigrate/internal/config"
	"github.com/rowjay/docmigrate/internal/document"
)

// Store is a live handle on one environment's document store. Handles are
// safe for concurrent use.
type Store interface {
	Name() string
	Ping(ctx context.Context) error
	// ListCollections returns collection names in sorted order. An empty
	// store yields an empty slice.
	ListCollections(ctx context.Context) ([]string, error)
	// Scan reads every document of a collection matching filter (nil for
	// all), ordered by id. A missing collection yields an empty slice.
	Scan(ctx context.Context, collection string, filter *Filter) ([]document.Document, error)
	// WriteBatch upserts docs by id as one write group.
	WriteBatch(ctx context.Context, collection string, docs []document.Document) error
	Close() error
}

// Counter is implemented by stores that can count documents without
// reading them.
type Counter interface {
	CountDocuments(ctx context.Context, collection string, filter *Filter) (int, error)
}

const defaultConnectTimeout = 10 * time.Second

// Open connects to the store described by creds.
func Open(ctx context.Context, creds config.Credentials) (Store, error) {
	switch creds.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite", "sqlite3":
		if creds.Path == "" {
			return nil, fmt.Errorf("sqlite store requires path")
		}
		return NewSQLiteStore(creds.Path)
	case "mongodb", "mongo":
		if creds.URI == "" || creds.Database == "" {
			return nil, fmt.Errorf("mongodb store requires uri and database")
		}
		timeout := creds.ConnectTimeout
		if timeout <= 0 {
			timeout = defaultConnectTimeout
		}
		return NewMongoStore(ctx, creds.URI, creds.Database, timeout, creds.Transactions)
	case "":
		return nil, fmt.Errorf("store type is required")
	default:
		return nil, fmt.Errorf("unsupported store type: %s", creds.Type)
	}
}
