// Package snapshot writes point-in-time copies of collections to artifact
// storage and restores them. A snapshot lives under
// <prefix>/<environment>-<timestamp>/ with one <collection>.json file per
// non-empty collection and a manifest.json describing them.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rowjay/docmigrate/internal/batch"
	"github.com/rowjay/docmigrate/internal/codec"
	"github.com/rowjay/docmigrate/internal/config"
	"github.com/rowjay/docmigrate/internal/db"
	"github.com/rowjay/docmigrate/internal/document"
	"github.com/rowjay/docmigrate/internal/errs"
	"github.com/rowjay/docmigrate/internal/logging"
	"github.com/rowjay/docmigrate/internal/storage"
	"github.com/rowjay/docmigrate/internal/util"
	"github.com/rowjay/docmigrate/internal/version"
)

type Manager struct {
	store     storage.Storage
	prefix    string
	codec     codec.Options
	retention config.Retention
	executor  *batch.Executor
	log       zerolog.Logger
	now       func() time.Time
}

// NewManager builds a manager from the backup section of the config.
func NewManager(cfg config.BackupConfig, store storage.Storage, log zerolog.Logger) (*Manager, error) {
	opts := codec.Options{Compression: cfg.Compression, Encrypt: cfg.Encryption}
	if opts.Compression == "" {
		opts.Compression = codec.None
	}
	if cfg.Encryption {
		if cfg.EncryptionKey == "" {
			return nil, errs.Configf("backup encryption is enabled but encryption_key is empty")
		}
		key, err := codec.ParseKey(cfg.EncryptionKey)
		if err != nil {
			return nil, errs.WrapConfig(err, "backup encryption key")
		}
		opts.Key = key
	}
	if err := opts.Validate(); err != nil {
		return nil, errs.WrapConfig(err, "backup")
	}
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = "backups"
	}
	return &Manager{
		store:     store,
		prefix:    prefix,
		codec:     opts,
		retention: cfg.Retention,
		executor:  batch.NewExecutor(log),
		log:       logging.For(log, "snapshot"),
		now:       time.Now,
	}, nil
}

// WithClock replaces the time source used for snapshot names.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// record is the on-disk form of one document.
type record struct {
	ID     string          `json:"id"`
	IDKind document.IDKind `json:"id_kind,omitempty"`
	Data   document.Map    `json:"data"`
}

// Backup reads every requested collection from src and writes it under a
// fresh snapshot prefix. Empty collections are listed in the manifest but get
// no file. If any collection cannot be read or written the manifest still
// records what was written and the call returns a BackupError naming the
// failed collections.
func (m *Manager) Backup(ctx context.Context, envName string, src db.Store, collections []string) (*Manifest, error) {
	created := m.now().UTC()
	name := envName + "-" + util.Timestamp(created)
	manifest := &Manifest{
		ID:          uuid.NewString(),
		Name:        name,
		Environment: envName,
		Prefix:      util.BuildSnapshotPrefix(m.prefix, envName, created),
		CreatedAt:   created,
		Collections: []Entry{},
		Compression: m.codec.Compression,
		Encryption:  m.codec.Encrypt,
		ToolVersion: version.Version,
	}
	log := m.log.With().Str("environment", envName).Str("snapshot", manifest.Prefix).Logger()
	log.Info().Int("collections", len(collections)).Msg("backup started")

	var firstErr error
	fail := func(coll string, err error) {
		manifest.Failed = append(manifest.Failed, coll)
		if firstErr == nil {
			firstErr = err
		}
		log.Error().Err(err).Str("collection", coll).Msg("collection backup failed")
	}

	for _, coll := range collections {
		docs, err := src.Scan(ctx, coll, nil)
		if err != nil {
			fail(coll, fmt.Errorf("read %s: %w", coll, err))
			continue
		}
		if len(docs) == 0 {
			manifest.Empty = append(manifest.Empty, coll)
			log.Info().Str("collection", coll).Msg("collection empty, skipped")
			continue
		}
		key := util.BuildObjectKey(manifest.Prefix, coll+".json"+m.codec.Extension())
		size, err := m.writeCollection(ctx, key, docs)
		if err != nil {
			fail(coll, fmt.Errorf("write %s: %w", coll, err))
			continue
		}
		manifest.Collections = append(manifest.Collections, Entry{Name: coll, Documents: len(docs), Bytes: size, Key: key})
		log.Info().Str("collection", coll).Int("documents", len(docs)).Int64("bytes", size).Msg("collection saved")
	}

	if err := m.writeManifest(ctx, manifest); err != nil {
		if firstErr == nil {
			firstErr = fmt.Errorf("write manifest: %w", err)
		}
		if len(manifest.Failed) == 0 {
			manifest.Failed = manifest.CollectionNames()
		}
	}
	if firstErr != nil {
		return manifest, &errs.BackupError{Environment: envName, Snapshot: manifest.Prefix, Failed: manifest.Failed, Cause: firstErr}
	}

	log.Info().Int("files", len(manifest.Collections)).Int("empty", len(manifest.Empty)).Msg("backup completed")
	if pruned, err := m.Prune(ctx); err != nil {
		log.Warn().Err(err).Msg("retention pass failed")
	} else if len(pruned) > 0 {
		log.Info().Strs("pruned", pruned).Msg("retention pass removed snapshots")
	}
	return manifest, nil
}

// writeCollection streams the encoded records through the codec into
// storage and returns the uncompressed size.
func (m *Manager) writeCollection(ctx context.Context, key string, docs []document.Document) (int64, error) {
	pipeReader, pipeWriter := io.Pipe()
	eg, egCtx := errgroup.WithContext(ctx)
	counter := &countingWriter{}

	eg.Go(func() error {
		defer pipeReader.Close()
		return m.store.Put(egCtx, key, pipeReader, -1, map[string]string{"dmig-snapshot": "true"})
	})

	eg.Go(func() error {
		w, err := codec.NewWriter(pipeWriter, m.codec)
		if err != nil {
			_ = pipeWriter.CloseWithError(err)
			return err
		}
		enc := json.NewEncoder(io.MultiWriter(w, counter))
		records := make([]record, len(docs))
		for i, doc := range docs {
			records[i] = record{ID: doc.ID, IDKind: doc.IDKind, Data: doc.Data}
		}
		if err := enc.Encode(records); err != nil {
			_ = pipeWriter.CloseWithError(err)
			return err
		}
		if err := w.Close(); err != nil {
			_ = pipeWriter.CloseWithError(err)
			return err
		}
		return pipeWriter.Close()
	})

	if err := eg.Wait(); err != nil {
		return 0, err
	}
	return counter.n, nil
}

func (m *Manager) writeManifest(ctx context.Context, manifest *Manifest) error {
	return storage.CreateJSON(ctx, m.store, manifest.manifestKey(), manifest, map[string]string{"dmig-manifest": "true"})
}

// List returns every snapshot manifest, newest first.
func (m *Manager) List(ctx context.Context) ([]*Manifest, error) {
	objects, err := m.store.List(ctx, m.prefix)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	manifests := []*Manifest{}
	for _, obj := range objects {
		if path.Base(obj.Key) != ManifestName {
			continue
		}
		manifest, err := m.readManifest(ctx, obj.Key)
		if err != nil {
			m.log.Warn().Err(err).Str("key", obj.Key).Msg("unreadable manifest skipped")
			continue
		}
		manifests = append(manifests, manifest)
	}
	sort.SliceStable(manifests, func(i, j int) bool { return manifests[i].CreatedAt.After(manifests[j].CreatedAt) })
	return manifests, nil
}

// Load finds a snapshot by name ("staging-2024-..."), prefix or manifest id.
func (m *Manager) Load(ctx context.Context, ref string) (*Manifest, error) {
	ref = strings.Trim(ref, "/")
	if ref == "" {
		return nil, errs.Configf("snapshot reference is required")
	}
	for _, key := range []string{path.Join(ref, ManifestName), util.BuildObjectKey(m.prefix, path.Join(ref, ManifestName))} {
		manifest, err := m.readManifest(ctx, key)
		if err == nil {
			return manifest, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}
	all, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, manifest := range all {
		if manifest.ID == ref {
			return manifest, nil
		}
	}
	return nil, errs.Configf("snapshot %q not found", ref)
}

func (m *Manager) readManifest(ctx context.Context, key string) (*Manifest, error) {
	var manifest Manifest
	if err := storage.ReadJSON(ctx, m.store, key, &manifest); err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return &manifest, nil
}

// ReadCollection decodes one collection file of a snapshot.
func (m *Manager) ReadCollection(ctx context.Context, manifest *Manifest, collection string) ([]document.Document, error) {
	entry, ok := manifest.Entry(collection)
	if !ok {
		return nil, errs.Configf("snapshot %s has no file for collection %s", manifest.Name, collection)
	}
	if manifest.Encryption && len(m.codec.Key) == 0 {
		return nil, errs.Configf("snapshot %s is encrypted; backup.encryption_key is required", manifest.Name)
	}
	reader, err := m.store.Get(ctx, entry.Key)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	plain, err := codec.NewReader(reader, manifest.codecOptions(m.codec.Key))
	if err != nil {
		return nil, err
	}
	defer plain.Close()

	var records []record
	if err := json.NewDecoder(plain).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", entry.Key, err)
	}
	docs := make([]document.Document, len(records))
	for i, r := range records {
		docs[i] = document.Document{ID: r.ID, IDKind: r.IDKind, Data: r.Data}
	}
	return docs, nil
}

// RestoreStats reports one restore run.
type RestoreStats struct {
	Snapshot    string          `json:"snapshot"`
	Target      string          `json:"target"`
	StartedAt   time.Time       `json:"startTime"`
	EndedAt     time.Time       `json:"endTime"`
	Collections []RestoreResult `json:"collections"`
}

type RestoreResult struct {
	Collection string `json:"collection"`
	Documents  int    `json:"documents"`
	Written    int    `json:"written"`
	Batches    int    `json:"batches"`
	Error      string `json:"error,omitempty"`
}

// Failed lists the collections that did not restore completely.
func (s *RestoreStats) Failed() []string {
	var failed []string
	for _, r := range s.Collections {
		if r.Error != "" {
			failed = append(failed, r.Collection)
		}
	}
	return failed
}

// Restore recreates the selected collections in dst by id. The caller must
// name the collections; an empty selection is rejected rather than read as
// "everything". A failing collection does not stop the others.
func (m *Manager) Restore(ctx context.Context, manifest *Manifest, collections []string, targetName string, dst db.Store, batchSize int) (*RestoreStats, error) {
	if len(collections) == 0 {
		return nil, errs.Configf("restore requires an explicit list of collections")
	}
	if batchSize <= 0 {
		return nil, errs.Configf("batch size must be positive, got %d", batchSize)
	}
	for _, coll := range collections {
		if _, ok := manifest.Entry(coll); !ok {
			return nil, errs.Configf("snapshot %s has no file for collection %s (available: %s)", manifest.Name, coll, strings.Join(manifest.CollectionNames(), ", "))
		}
	}

	stats := &RestoreStats{Snapshot: manifest.Name, Target: targetName, StartedAt: m.now().UTC()}
	log := m.log.With().Str("snapshot", manifest.Name).Str("target", targetName).Logger()
	for _, coll := range collections {
		result := RestoreResult{Collection: coll}
		docs, err := m.ReadCollection(ctx, manifest, coll)
		if err != nil {
			result.Error = err.Error()
			stats.Collections = append(stats.Collections, result)
			log.Error().Err(err).Str("collection", coll).Msg("snapshot file unreadable")
			continue
		}
		result.Documents = len(docs)
		res, err := m.executor.WriteAll(ctx, dst, coll, docs, batchSize)
		result.Written = res.DocumentsWritten
		result.Batches = res.BatchesCommitted
		if err != nil {
			result.Error = err.Error()
		}
		stats.Collections = append(stats.Collections, result)
		log.Info().Str("collection", coll).Int("documents", result.Written).Msg("collection restored")
	}
	stats.EndedAt = m.now().UTC()

	if failed := stats.Failed(); len(failed) > 0 {
		return stats, fmt.Errorf("restore from %s failed for collections [%s]", manifest.Name, strings.Join(failed, ", "))
	}
	return stats, nil
}

// Prune applies the retention policy per environment and returns the names
// of removed snapshots. Incomplete snapshots count like any other.
func (m *Manager) Prune(ctx context.Context) ([]string, error) {
	policy := m.retention
	if policy.KeepLast <= 0 && policy.KeepDays <= 0 {
		return nil, nil
	}
	manifests, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := m.now().AddDate(0, 0, -policy.KeepDays)
	seen := map[string]int{}
	var removed []string
	for _, manifest := range manifests {
		idx := seen[manifest.Environment]
		seen[manifest.Environment] = idx + 1
		if policy.KeepLast > 0 && idx < policy.KeepLast {
			continue
		}
		if policy.KeepDays > 0 && manifest.CreatedAt.After(cutoff) {
			continue
		}
		if err := m.delete(ctx, manifest); err != nil {
			return removed, err
		}
		removed = append(removed, manifest.Name)
	}
	return removed, nil
}

// delete removes the manifest first so a half-deleted snapshot is never
// listed.
func (m *Manager) delete(ctx context.Context, manifest *Manifest) error {
	if err := m.store.Delete(ctx, manifest.manifestKey()); err != nil {
		return err
	}
	objects, err := m.store.List(ctx, manifest.Prefix+"/")
	if err != nil {
		return err
	}
	for _, obj := range objects {
		if err := m.store.Delete(ctx, obj.Key); err != nil {
			return err
		}
	}
	return nil
}

type countingWriter struct{ n int64 }

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}
