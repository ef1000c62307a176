package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/rowjay/docmigrate/internal/codec"
)

const (
	envPrefix = "DMIG"
	keyEnv    = "DMIG_CONFIG_KEY"
	pathEnv   = "DMIG_CONFIG"
)

// Load reads configuration from a file (optionally encrypted), env vars, and defaults.
func Load(path string) (*Config, error) {
	vp := viper.New()
	vp.SetEnvPrefix(envPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	setDefaults(vp)

	resolved, err := resolveConfigPath(path)
	if err != nil {
		return nil, err
	}

	if resolved != "" {
		data, readErr := os.ReadFile(resolved)
		if readErr != nil {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
		if isEncryptedPath(resolved) {
			vp.SetConfigType(configTypeFromPath(resolved))
			key := os.Getenv(keyEnv)
			if key == "" {
				key = vp.GetString("global.config_passphrase")
			}
			if key == "" {
				return nil, errors.New("config file is encrypted but " + keyEnv + " is not set")
			}
			plain, decErr := decryptConfig(data, key)
			if decErr != nil {
				return nil, fmt.Errorf("decrypt config: %w", decErr)
			}
			if err := vp.ReadConfig(bytes.NewReader(plain)); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		} else {
			vp.SetConfigFile(resolved)
			if err := vp.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := vp.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	expandEnv(&cfg)
	applyPostLoadDefaults(&cfg)
	return &cfg, nil
}

// LoadCredentials reads a credential file (yaml, toml or json) describing how
// to reach one environment's document store.
func LoadCredentials(path string) (*Credentials, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	vp := viper.New()
	vp.SetConfigFile(path)
	if err := vp.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	var creds Credentials
	if err := vp.Unmarshal(&creds, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	creds.URI = os.ExpandEnv(creds.URI)
	creds.Path = os.ExpandEnv(creds.Path)
	creds.Database = os.ExpandEnv(creds.Database)
	if creds.Path != "" && !filepath.IsAbs(creds.Path) {
		creds.Path = filepath.Join(filepath.Dir(path), creds.Path)
	}
	return &creds, nil
}

func resolveConfigPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	if envPath := os.Getenv(pathEnv); envPath != "" {
		return envPath, nil
	}

	candidates := []string{
		"dmig.yaml",
		"dmig.yml",
		"dmig.toml",
		"dmig.json",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}

	configDir, err := os.UserConfigDir()
	if err == nil {
		base := filepath.Join(configDir, "dmig")
		for _, c := range candidates {
			p := filepath.Join(base, c)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
		for _, c := range []string{"dmig.yaml.enc", "dmig.yml.enc", "dmig.toml.enc"} {
			p := filepath.Join(base, c)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
	}

	return "", nil
}

func isEncryptedPath(path string) bool {
	return strings.HasSuffix(path, ".enc") || strings.HasSuffix(path, ".encrypted")
}

func configTypeFromPath(path string) string {
	trimmed := strings.TrimSuffix(strings.TrimSuffix(path, ".enc"), ".encrypted")
	switch {
	case strings.HasSuffix(trimmed, ".toml"):
		return "toml"
	case strings.HasSuffix(trimmed, ".json"):
		return "json"
	default:
		return "yaml"
	}
}

func setDefaults(vp *viper.Viper) {
	vp.SetDefault("global.log_level", "info")
	vp.SetDefault("global.log_format", "json")
	vp.SetDefault("global.operation_timeout", "2h")
	vp.SetDefault("global.credentials_dir", "credentials")
	vp.SetDefault("global.connect_retries", 3)
	vp.SetDefault("global.connect_backoff", "2s")
	vp.SetDefault("migration.batch_size", 500)
	vp.SetDefault("migration.transform_data", true)
	vp.SetDefault("migration.backup", true)
	vp.SetDefault("migration.include_users", false)
	vp.SetDefault("migration.excluded_collections", []string{"users"})
	vp.SetDefault("migration.log_prefix", "logs")
	vp.SetDefault("sanitize.tax_id_fields", []string{"cnpj", "taxId", "tax_id"})
	vp.SetDefault("sanitize.national_id_fields", []string{"cpf", "nationalId", "national_id", "ssn"})
	vp.SetDefault("sanitize.phone_fields", []string{"phone", "telefone", "mobile"})
	vp.SetDefault("sanitize.phone_prefix_len", 4)
	vp.SetDefault("backup.prefix", "backups")
	vp.SetDefault("backup.compression", "none")
	vp.SetDefault("storage.backend", "local")
	vp.SetDefault("storage.local.path", ".")
	vp.SetDefault("scheduler.poll_interval", "5s")
	vp.SetDefault("scheduler.max_concurrent", 4)
	vp.SetDefault("scheduler.history.backend", "memory")
	vp.SetDefault("scheduler.history.redis.prefix", "dmig:runs")
}

func applyPostLoadDefaults(cfg *Config) {
	if cfg.Global.OperationTimeout == 0 {
		cfg.Global.OperationTimeout = 2 * time.Hour
	}
	if cfg.Global.LockDir == "" {
		cfg.Global.LockDir = os.TempDir()
	}
	if cfg.Migration.BatchSize == 0 {
		cfg.Migration.BatchSize = 500
	}
	if cfg.Sanitize.PhonePrefixLen <= 0 {
		cfg.Sanitize.PhonePrefixLen = 4
	}
	if cfg.Scheduler.PollInterval <= 0 {
		cfg.Scheduler.PollInterval = 5 * time.Second
	}
	if cfg.Scheduler.MaxConcurrent <= 0 {
		cfg.Scheduler.MaxConcurrent = 4
	}
	if cfg.Environments == nil {
		cfg.Environments = map[string]EnvironmentConfig{}
	}
}

func expandEnv(cfg *Config) {
	cfg.Backup.EncryptionKey = os.ExpandEnv(cfg.Backup.EncryptionKey)
	cfg.Storage.S3.AccessKey = os.ExpandEnv(cfg.Storage.S3.AccessKey)
	cfg.Storage.S3.SecretKey = os.ExpandEnv(cfg.Storage.S3.SecretKey)
	cfg.Storage.S3.SessionToken = os.ExpandEnv(cfg.Storage.S3.SessionToken)
	cfg.Scheduler.History.Redis.Addr = os.ExpandEnv(cfg.Scheduler.History.Redis.Addr)
	cfg.Scheduler.History.Redis.Password = os.ExpandEnv(cfg.Scheduler.History.Redis.Password)
	for name, env := range cfg.Environments {
		env.Credentials = os.ExpandEnv(env.Credentials)
		cfg.Environments[name] = env
	}
	cfg.Notifications = expandNotificationEnv(cfg.Notifications)
}

func expandNotificationEnv(cfg NotificationsConfig) NotificationsConfig {
	for i := range cfg.Webhooks {
		cfg.Webhooks[i].URL = os.ExpandEnv(cfg.Webhooks[i].URL)
	}
	for i := range cfg.Mattermost {
		cfg.Mattermost[i].URL = os.ExpandEnv(cfg.Mattermost[i].URL)
	}
	for i := range cfg.Matrix {
		cfg.Matrix[i].ServerURL = os.ExpandEnv(cfg.Matrix[i].ServerURL)
		cfg.Matrix[i].AccessToken = os.ExpandEnv(cfg.Matrix[i].AccessToken)
		cfg.Matrix[i].RoomID = os.ExpandEnv(cfg.Matrix[i].RoomID)
	}
	return cfg
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		minutesHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

var durationType = reflect.TypeOf(time.Duration(0))

// minutesHook reads bare numbers in duration fields as minutes, so
// `dependency_timeout: 120` means two hours.
func minutesHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != durationType {
		return data, nil
	}
	switch from.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return time.Duration(reflect.ValueOf(data).Int()) * time.Minute, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return time.Duration(reflect.ValueOf(data).Uint()) * time.Minute, nil
	case reflect.Float32, reflect.Float64:
		return time.Duration(reflect.ValueOf(data).Float() * float64(time.Minute)), nil
	case reflect.String:
		s := strings.TrimSpace(data.(string))
		if n, err := strconv.Atoi(s); err == nil {
			return time.Duration(n) * time.Minute, nil
		}
	}
	return data, nil
}

func decryptConfig(ciphertext []byte, key string) ([]byte, error) {
	parsed, err := codec.ParseKey(key)
	if err != nil {
		return nil, err
	}
	return codec.OpenConfig(ciphertext, parsed)
}
