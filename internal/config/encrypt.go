package config

import (
	"os"

	"github.com/rowjay/docmigrate/internal/codec"
)

// EncryptConfigFile encrypts a config file with the provided key.
func EncryptConfigFile(inputPath, outputPath, key string) error {
	plain, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	parsed, err := codec.ParseKey(key)
	if err != nil {
		return err
	}
	sealed, err := codec.SealConfig(plain, parsed)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, sealed, 0o600)
}
