package db

import (
	"context"
	"sort"
	"sync"

	"github.com/rowjay/docmigrate/internal/document"
)

// MemoryStore keeps everything in memory. Data is lost on restart.
// Safe for concurrent use.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]document.Document
	writes      int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string]document.Document)}
}

func (m *MemoryStore) Name() string { return "memory" }

func (m *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (m *MemoryStore) ListCollections(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.collections))
	for name, docs := range m.collections {
		if len(docs) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryStore) Scan(ctx context.Context, collection string, filter *Filter) ([]document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs := []document.Document{}
	for _, stored := range m.collections[collection] {
		doc := stored.Clone()
		if filter.Match(doc) {
			docs = append(docs, doc)
		}
	}
	document.SortByID(docs)
	return docs, nil
}

// WriteBatch applies the whole batch under one lock, so readers never see
// half of it.
func (m *MemoryStore) WriteBatch(ctx context.Context, collection string, docs []document.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	coll, ok := m.collections[collection]
	if !ok {
		coll = make(map[string]document.Document)
		m.collections[collection] = coll
	}
	for _, doc := range docs {
		doc = doc.Clone()
		if doc.Data == nil {
			doc.Data = document.Map{}
		}
		coll[doc.Key()] = doc
	}
	m.writes++
	return nil
}

// Put stores a single document; used to seed fixtures.
func (m *MemoryStore) Put(collection string, doc document.Document) {
	_ = m.WriteBatch(context.Background(), collection, []document.Document{doc})
}

// Count returns the number of documents in a collection.
func (m *MemoryStore) Count(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.collections[collection])
}

func (m *MemoryStore) CountDocuments(ctx context.Context, collection string, filter *Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, doc := range m.collections[collection] {
		if filter.Match(doc) {
			n++
		}
	}
	return n, nil
}

// Writes returns how many write groups have been applied.
func (m *MemoryStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

func (m *MemoryStore) Close() error { return nil }
