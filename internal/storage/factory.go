package storage

import (
	"fmt"

	"github.com/rowjay/docmigrate/internal/config"
)

// New opens the artifact storage named by cfg.Backend.
func New(cfg config.StorageConfig) (Storage, error) {
	switch cfg.Backend {
	case "local", "":
		root := cfg.Local.Path
		if root == "" {
			root = "."
		}
		return NewLocal(root), nil
	case "s3":
		return NewS3(cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}
