package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rowjay/docmigrate/internal/document"
)

// SQLiteStore keeps every collection in one SQLite file.
//
// Tables:
//
//	documents(collection, id, id_kind, data)  PRIMARY KEY (collection, id_kind, id)
type SQLiteStore struct {
	path string
	db   *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create directories: %w", err)
	}
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Exec(`CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		id_kind TEXT NOT NULL DEFAULT '',
		data TEXT NOT NULL,
		PRIMARY KEY (collection, id_kind, id)
	)`); err != nil {
		conn.Close()
		return nil, err
	}
	return &SQLiteStore{path: path, db: conn}, nil
}

func (s *SQLiteStore) Name() string { return "sqlite" }

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT collection FROM documents ORDER BY collection")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStore) Scan(ctx context.Context, collection string, filter *Filter) ([]document.Document, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, id_kind, data FROM documents WHERE collection = ? ORDER BY id, id_kind", collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	docs := []document.Document{}
	for rows.Next() {
		var id, kind, raw string
		if err := rows.Scan(&id, &kind, &raw); err != nil {
			return nil, err
		}
		var data document.Map
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", collection, id, err)
		}
		doc := document.Document{ID: id, IDKind: document.IDKind(kind), Data: data}
		if filter.Match(doc) {
			docs = append(docs, doc)
		}
	}
	return docs, rows.Err()
}

// CountDocuments counts in SQL when there is no filter. Filters are
// evaluated in process, so a filtered count scans.
func (s *SQLiteStore) CountDocuments(ctx context.Context, collection string, filter *Filter) (int, error) {
	if filter != nil {
		docs, err := s.Scan(ctx, collection, filter)
		return len(docs), err
	}
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents WHERE collection = ?", collection).Scan(&n)
	return n, err
}

// WriteBatch upserts docs inside one transaction.
func (s *SQLiteStore) WriteBatch(ctx context.Context, collection string, docs []document.Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO documents (collection, id, id_kind, data) VALUES (?, ?, ?, ?)
		ON CONFLICT(collection, id_kind, id) DO UPDATE SET data = excluded.data`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, doc := range docs {
		data := doc.Data
		if data == nil {
			data = document.Map{}
		}
		b, err := json.Marshal(data)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("encode %s/%s: %w", collection, doc.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, collection, doc.ID, string(doc.IDKind), string(b)); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
