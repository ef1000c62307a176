package snapshot

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowjay/docmigrate/internal/config"
	"github.com/rowjay/docmigrate/internal/db"
	"github.com/rowjay/docmigrate/internal/document"
	"github.com/rowjay/docmigrate/internal/errs"
	"github.com/rowjay/docmigrate/internal/storage"
)

// unreadable fails scans of the listed collections.
type unreadable struct {
	*db.MemoryStore
	fail map[string]bool
}

func (u unreadable) Scan(ctx context.Context, collection string, f *db.Filter) ([]document.Document, error) {
	if u.fail[collection] {
		return nil, errors.New("connection reset")
	}
	return u.MemoryStore.Scan(ctx, collection, f)
}

func seed(store *db.MemoryStore, collection string, n int) {
	for i := 0; i < n; i++ {
		store.Put(collection, document.Document{
			ID:   fmt.Sprintf("%s-%03d", collection, i),
			Data: document.Map{"n": document.Int(int64(i)), "at": document.Time(time.Date(2024, 5, 1, 0, 0, i, 0, time.UTC))},
		})
	}
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newManager(t *testing.T, cfg config.BackupConfig) (*Manager, *clock) {
	t.Helper()
	mgr, err := NewManager(cfg, storage.NewLocal(t.TempDir()), zerolog.Nop())
	require.NoError(t, err)
	c := &clock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	return mgr.WithClock(c.now), c
}

func TestBackupAndRestoreRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	configs := map[string]config.BackupConfig{
		"plain":     {Prefix: "backups"},
		"encrypted": {Prefix: "backups", Compression: "zstd", Encryption: true, EncryptionKey: base64.StdEncoding.EncodeToString(key)},
	}
	for name, cfg := range configs {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			mgr, _ := newManager(t, cfg)
			src := db.NewMemoryStore()
			seed(src, "claims", 7)
			seed(src, "policies", 3)
			src.Put("claims", document.Document{ID: "665f1c2ab3e4d5f6a7b8c9d0", IDKind: document.IDObjectID, Data: document.Map{"n": document.Int(99)}})

			manifest, err := mgr.Backup(ctx, "staging", src, []string{"claims", "policies", "audits"})
			require.NoError(t, err)
			assert.Equal(t, "backups/staging-2024-06-01T12-00-00-000Z", manifest.Prefix)
			assert.Equal(t, []string{"claims", "policies"}, manifest.CollectionNames())
			assert.Equal(t, []string{"audits"}, manifest.Empty)
			if cfg.Encryption {
				assert.Equal(t, manifest.Prefix+"/claims.json.zst.enc", manifest.Collections[0].Key)
			} else {
				assert.Equal(t, manifest.Prefix+"/claims.json", manifest.Collections[0].Key)
			}

			loaded, err := mgr.Load(ctx, manifest.Name)
			require.NoError(t, err)
			assert.Equal(t, manifest.ID, loaded.ID)

			dst := db.NewMemoryStore()
			stats, err := mgr.Restore(ctx, loaded, []string{"claims"}, "development", dst, 2)
			require.NoError(t, err)
			require.Len(t, stats.Collections, 1)
			assert.Equal(t, 8, stats.Collections[0].Written)
			assert.Equal(t, 4, stats.Collections[0].Batches)
			assert.Zero(t, dst.Count("policies"))

			want, _ := src.Scan(ctx, "claims", nil)
			got, _ := dst.Scan(ctx, "claims", nil)
			require.Len(t, got, len(want))
			for i := range want {
				assert.True(t, want[i].Equal(got[i]), "document %s changed", want[i].ID)
				assert.Equal(t, want[i].IDKind, got[i].IDKind)
			}
		})
	}
}

func TestBackupReportsFailedCollections(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t, config.BackupConfig{})
	mem := db.NewMemoryStore()
	seed(mem, "claims", 2)
	seed(mem, "policies", 2)
	src := unreadable{MemoryStore: mem, fail: map[string]bool{"policies": true}}

	manifest, err := mgr.Backup(ctx, "staging", src, []string{"claims", "policies"})
	var berr *errs.BackupError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, []string{"policies"}, berr.Failed)
	assert.False(t, manifest.Complete())

	listed, err := mgr.List(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, []string{"policies"}, listed[0].Failed)
}

func TestRestoreRequiresExplicitCollections(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t, config.BackupConfig{})
	src := db.NewMemoryStore()
	seed(src, "claims", 1)
	manifest, err := mgr.Backup(ctx, "staging", src, []string{"claims"})
	require.NoError(t, err)

	_, err = mgr.Restore(ctx, manifest, nil, "staging", db.NewMemoryStore(), 100)
	assert.True(t, errs.IsConfig(err))
	_, err = mgr.Restore(ctx, manifest, []string{"payments"}, "staging", db.NewMemoryStore(), 100)
	assert.True(t, errs.IsConfig(err))
}

func TestPruneKeepsNewestPerEnvironment(t *testing.T) {
	ctx := context.Background()
	mgr, c := newManager(t, config.BackupConfig{Retention: config.Retention{KeepLast: 1}})
	src := db.NewMemoryStore()
	seed(src, "claims", 1)

	first, err := mgr.Backup(ctx, "staging", src, []string{"claims"})
	require.NoError(t, err)
	c.t = c.t.Add(time.Hour)
	_, err = mgr.Backup(ctx, "production", src, []string{"claims"})
	require.NoError(t, err)
	c.t = c.t.Add(time.Hour)
	latest, err := mgr.Backup(ctx, "staging", src, []string{"claims"})
	require.NoError(t, err)

	listed, err := mgr.List(ctx)
	require.NoError(t, err)
	var names []string
	for _, m := range listed {
		names = append(names, m.Name)
	}
	assert.Contains(t, names, latest.Name)
	assert.NotContains(t, names, first.Name)
	assert.Len(t, names, 2)
}

func TestEncryptedSnapshotNeedsKey(t *testing.T) {
	_, err := NewManager(config.BackupConfig{Encryption: true}, storage.NewLocal(t.TempDir()), zerolog.Nop())
	assert.True(t, errs.IsConfig(err))
	_, err = NewManager(config.BackupConfig{Compression: "lz4"}, storage.NewLocal(t.TempDir()), zerolog.Nop())
	assert.True(t, errs.IsConfig(err))
}
