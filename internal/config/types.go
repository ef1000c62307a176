package config

import "time"

// Config is the root configuration schema.
type Config struct {
	Global        GlobalConfig                 `mapstructure:"global"`
	Environments  map[string]EnvironmentConfig `mapstructure:"environments"`
	Migration     MigrationConfig              `mapstructure:"migration"`
	Sanitize      SanitizeConfig               `mapstructure:"sanitize"`
	Backup        BackupConfig                 `mapstructure:"backup"`
	Storage       StorageConfig                `mapstructure:"storage"`
	Scheduler     SchedulerConfig              `mapstructure:"scheduler"`
	Notifications NotificationsConfig          `mapstructure:"notifications"`
}

type GlobalConfig struct {
	LogLevel         string        `mapstructure:"log_level"`
	LogFormat        string        `mapstructure:"log_format"` // json or console
	LockDir          string        `mapstructure:"lock_dir"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	ConfigPassphrase string        `mapstructure:"config_passphrase"` // optional; may come from env
	CredentialsDir   string        `mapstructure:"credentials_dir"`
	ConnectRetries   int           `mapstructure:"connect_retries"`
	ConnectBackoff   time.Duration `mapstructure:"connect_backoff"`
}

// EnvironmentConfig points a named environment at its credential file.
type EnvironmentConfig struct {
	Credentials      string `mapstructure:"credentials"`
	Class            string `mapstructure:"class"` // production or non-production
	StorageNamespace string `mapstructure:"storage_namespace"`
}

type MigrationConfig struct {
	BatchSize           int      `mapstructure:"batch_size"`
	TransformData       bool     `mapstructure:"transform_data"`
	Backup              bool     `mapstructure:"backup"`
	IncludeUsers        bool     `mapstructure:"include_users"`
	ExcludedCollections []string `mapstructure:"excluded_collections"`
	LogPrefix           string   `mapstructure:"log_prefix"`
}

// SanitizeConfig names the fields masked when data lands in a
// non-production environment.
type SanitizeConfig struct {
	TaxIDFields      []string `mapstructure:"tax_id_fields"`
	NationalIDFields []string `mapstructure:"national_id_fields"`
	PhoneFields      []string `mapstructure:"phone_fields"`
	PhonePrefixLen   int      `mapstructure:"phone_prefix_len"`
	TaxIDMask        string   `mapstructure:"tax_id_mask"`
	NationalIDMask   string   `mapstructure:"national_id_mask"`
}

type BackupConfig struct {
	Prefix        string    `mapstructure:"prefix"`
	Compression   string    `mapstructure:"compression"` // none, gzip, zstd
	Encryption    bool      `mapstructure:"encryption"`
	EncryptionKey string    `mapstructure:"encryption_key"`
	Retention     Retention `mapstructure:"retention"`
}

type Retention struct {
	KeepLast int `mapstructure:"keep_last"`
	KeepDays int `mapstructure:"keep_days"`
}

type StorageConfig struct {
	Backend string     `mapstructure:"backend"` // local, s3
	Local   LocalStore `mapstructure:"local"`
	S3      S3Store    `mapstructure:"s3"`
}

type LocalStore struct {
	Path string `mapstructure:"path"`
}

type S3Store struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKey       string `mapstructure:"access_key"`
	SecretKey       string `mapstructure:"secret_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	SessionToken    string `mapstructure:"session_token"`
	TLSInsecureSkip bool   `mapstructure:"tls_insecure_skip"`
}

type SchedulerConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	Timezone      string        `mapstructure:"timezone"`
	History       HistoryConfig `mapstructure:"history"`
	Jobs          []JobConfig   `mapstructure:"jobs"`
}

type HistoryConfig struct {
	Backend string      `mapstructure:"backend"` // memory, redis
	Redis   RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// JobConfig defines one scheduled migration. Pointer booleans fall back to
// the migration section when unset.
type JobConfig struct {
	ID                 string        `mapstructure:"id"`
	Name               string        `mapstructure:"name"`
	Schedule           string        `mapstructure:"schedule"`
	Dependencies       []string      `mapstructure:"dependencies"`
	DependencyStrategy string        `mapstructure:"dependency_strategy"` // fail, skip, wait
	DependencyTimeout  time.Duration `mapstructure:"dependency_timeout"`
	Source             string        `mapstructure:"source"`
	Target             string        `mapstructure:"target"`
	SourceCredentials  string        `mapstructure:"source_credentials"`
	TargetCredentials  string        `mapstructure:"target_credentials"`
	Collections        []string      `mapstructure:"collections"`
	Query              string        `mapstructure:"query"`
	BatchSize          int           `mapstructure:"batch_size"`
	DryRun             bool          `mapstructure:"dry_run"`
	IncludeUsers       bool          `mapstructure:"include_users"`
	TransformData      *bool         `mapstructure:"transform_data"`
	Backup             *bool         `mapstructure:"backup"`
	WindowStart        string        `mapstructure:"window_start"` // HH:MM
	WindowEnd          string        `mapstructure:"window_end"`
}

// Credentials is the content of a per-environment credential file.
type Credentials struct {
	Type             string        `mapstructure:"type"` // memory, sqlite, mongodb
	URI              string        `mapstructure:"uri"`
	Database         string        `mapstructure:"database"`
	Path             string        `mapstructure:"path"`
	Class            string        `mapstructure:"class"`
	StorageNamespace string        `mapstructure:"storage_namespace"`
	Transactions     bool          `mapstructure:"transactions"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
}

type NotificationsConfig struct {
	Webhooks   []WebhookConfig  `mapstructure:"webhooks"`
	Mattermost []MattermostHook `mapstructure:"mattermost"`
	Matrix     []MatrixConfig   `mapstructure:"matrix"`
}

type WebhookConfig struct {
	Name    string            `mapstructure:"name"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
}

type MattermostHook struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

type MatrixConfig struct {
	Name        string `mapstructure:"name"`
	ServerURL   string `mapstructure:"server_url"`
	AccessToken string `mapstructure:"access_token"`
	RoomID      string `mapstructure:"room_id"`
}
