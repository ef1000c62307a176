package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Local keeps artifacts as files below Root. Keys use forward slashes.
type Local struct {
	Root string
}

func NewLocal(root string) *Local {
	return &Local{Root: root}
}

func (l *Local) file(key string) string {
	return filepath.Join(l.Root, filepath.FromSlash(key))
}

func (l *Local) Put(ctx context.Context, key string, reader io.Reader, _ int64, _ map[string]string) error {
	tmp, err := l.stage(ctx, key, reader)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, l.file(key)); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Create links the staged file into place. link(2) fails when the target
// exists, so two writers racing for one key cannot both succeed.
func (l *Local) Create(ctx context.Context, key string, reader io.Reader, _ int64, _ map[string]string) error {
	tmp, err := l.stage(ctx, key, reader)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)
	if err := os.Link(tmp, l.file(key)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%s: %w", key, ErrExists)
		}
		return err
	}
	return nil
}

// stage copies reader into a hidden temporary file next to key's final
// location, so readers never observe a partial artifact.
func (l *Local) stage(ctx context.Context, key string, reader io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dir := filepath.Dir(l.file(key))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create directories: %w", err)
	}
	f, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(key)+"-*")
	if err != nil {
		return "", err
	}
	name := f.Name()
	_, copyErr := io.Copy(f, reader)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(name)
		return "", err
	}
	if err := os.Chmod(name, 0o600); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

func (l *Local) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(l.file(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return f, err
}

func (l *Local) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	fi, err := os.Stat(l.file(key))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ObjectInfo{}, fmt.Errorf("%s: %w", key, ErrNotFound)
	case err != nil:
		return ObjectInfo{}, err
	}
	return ObjectInfo{Key: key, Size: fi.Size(), Modified: fi.ModTime()}, nil
}

func (l *Local) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	objects := []ObjectInfo{}
	walk := func(p string, d fs.DirEntry, err error) error {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(l.Root, p)
		if err != nil {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, ObjectInfo{Key: filepath.ToSlash(rel), Size: fi.Size(), Modified: fi.ModTime()})
		return nil
	}
	if err := filepath.WalkDir(l.file(prefix), walk); err != nil {
		return nil, err
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// Delete removes key and, when it was the last file, its snapshot directory.
// A missing key is not an error.
func (l *Local) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := l.file(key)
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	_ = os.Remove(filepath.Dir(p))
	return nil
}

func (l *Local) Exists(ctx context.Context, key string) (bool, error) {
	_, err := l.Stat(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}
