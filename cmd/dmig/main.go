package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rowjay/docmigrate/internal/app"
	"github.com/rowjay/docmigrate/internal/config"
	"github.com/rowjay/docmigrate/internal/env"
	"github.com/rowjay/docmigrate/internal/errs"
	"github.com/rowjay/docmigrate/internal/logging"
	"github.com/rowjay/docmigrate/internal/migrate"
	"github.com/rowjay/docmigrate/internal/notify"
	"github.com/rowjay/docmigrate/internal/prompt"
	"github.com/rowjay/docmigrate/internal/storage"
	"github.com/rowjay/docmigrate/internal/version"
)

type rootFlags struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
}

type overrideFlags struct {
	CredentialsDir string
	Storage        string
	LocalPath      string
	S3Endpoint     string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3Region       string
	S3UseSSL       string
	S3PathStyle    string
	EncryptionKey  string
	Compression    string
}

func main() {
	// Credentials referenced as ${VAR} may live in a local .env file.
	_ = godotenv.Load()

	root := &rootFlags{}
	overrides := &overrideFlags{}

	rootCmd := &cobra.Command{
		Use:           "dmig",
		Short:         "Cross-environment document migration, backup and job scheduling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&root.ConfigPath, "config", "", "Path to config file (yaml/toml/json or .enc)")
	rootCmd.PersistentFlags().StringVar(&root.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&root.LogFormat, "log-format", "", "Log format (json, console)")

	rootCmd.PersistentFlags().StringVar(&overrides.CredentialsDir, "credentials-dir", "", "Directory holding <environment>.json credential files")
	rootCmd.PersistentFlags().StringVar(&overrides.Storage, "storage", "", "Artifact storage backend (local, s3)")
	rootCmd.PersistentFlags().StringVar(&overrides.LocalPath, "storage-path", "", "Local artifact storage path")
	rootCmd.PersistentFlags().StringVar(&overrides.S3Endpoint, "s3-endpoint", "", "S3 endpoint (MinIO/OSS)")
	rootCmd.PersistentFlags().StringVar(&overrides.S3Bucket, "s3-bucket", "", "S3 bucket")
	rootCmd.PersistentFlags().StringVar(&overrides.S3AccessKey, "s3-access-key", "", "S3 access key")
	rootCmd.PersistentFlags().StringVar(&overrides.S3SecretKey, "s3-secret-key", "", "S3 secret key")
	rootCmd.PersistentFlags().StringVar(&overrides.S3Region, "s3-region", "", "S3 region")
	rootCmd.PersistentFlags().StringVar(&overrides.S3UseSSL, "s3-ssl", "", "Use SSL for S3 endpoint (true/false)")
	rootCmd.PersistentFlags().StringVar(&overrides.S3PathStyle, "s3-path-style", "", "Force path-style S3 (true/false)")
	rootCmd.PersistentFlags().StringVar(&overrides.EncryptionKey, "encryption-key", "", "Encryption key (base64 or hex) for backup files")
	rootCmd.PersistentFlags().StringVar(&overrides.Compression, "compression", "", "Backup file compression (none, gzip, zstd)")

	rootCmd.AddCommand(newMigrateCmd(root, overrides))
	rootCmd.AddCommand(newRestoreCmd(root, overrides))
	rootCmd.AddCommand(newBackupsCmd(root, overrides))
	rootCmd.AddCommand(newJobsCmd(root, overrides))
	rootCmd.AddCommand(newScheduleCmd(root, overrides))
	rootCmd.AddCommand(newValidateCmd(root, overrides))
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(errs.ExitCode(err))
	}
}

type migrateFlags struct {
	source            string
	target            string
	sourceCredentials string
	targetCredentials string
	collections       []string
	query             string
	dryRun            bool
	batchSize         int
	includeUsers      bool
	transformData     bool
	backup            bool
	interactive       bool
}

func newMigrateCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	f := &migrateFlags{}
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy collections from one environment to another",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := setup(root, overrides)
			if err != nil {
				return err
			}
			defer a.Close()

			opts := migrate.DefaultOptions(a.Cfg.Migration)
			opts.Source = f.source
			opts.Target = f.target
			opts.SourceCredentials = f.sourceCredentials
			opts.TargetCredentials = f.targetCredentials
			opts.Collections = f.collections
			opts.Query = f.query
			opts.DryRun = f.dryRun
			if cmd.Flags().Changed("batch-size") {
				opts.BatchSize = f.batchSize
			}
			if cmd.Flags().Changed("include-users") {
				opts.IncludeUsers = f.includeUsers
			}
			if cmd.Flags().Changed("transform-data") {
				opts.TransformData = f.transformData
			}
			if cmd.Flags().Changed("backup") {
				opts.Backup = f.backup
			}

			if f.interactive {
				if !prompt.IsInteractive() {
					return errs.Configf("--interactive needs a terminal on stdin")
				}
				opts, err = prompt.New(os.Stdin, os.Stderr).Migration(opts, a.Envs.Names())
				if errors.Is(err, prompt.ErrAborted) {
					fmt.Fprintln(os.Stderr, "aborted")
					return nil
				}
				if err != nil {
					return err
				}
			}

			ctx, cancel := operationContext(a.Cfg.Global.OperationTimeout)
			defer cancel()
			stats, err := a.Migrate(ctx, opts)
			if err != nil {
				return err
			}
			migrate.WriteSummary(os.Stdout, stats)
			if !stats.Succeeded() {
				return fmt.Errorf("collections failed: %s", strings.Join(stats.FailedCollections, ", "))
			}
			logger.Info().Str("run_id", stats.RunID).Msg("migrate completed")
			return nil
		},
	}
	cmd.Flags().StringVar(&f.source, "source", migrate.DefaultSource, "Source environment (development, staging, production, custom)")
	cmd.Flags().StringVar(&f.target, "target", migrate.DefaultTarget, "Target environment (development, staging, production, custom)")
	cmd.Flags().StringVar(&f.sourceCredentials, "source-credentials", "", "Credential file for the source (required for custom)")
	cmd.Flags().StringVar(&f.targetCredentials, "target-credentials", "", "Credential file for the target (required for custom)")
	cmd.Flags().StringSliceVar(&f.collections, "collections", nil, "Comma-separated collections (default: all except users)")
	cmd.Flags().StringVar(&f.query, "query", "", `Filter "field operator value", e.g. "status == active"`)
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "Read and count without writing")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", migrate.DefaultBatchSize, "Documents per write batch")
	cmd.Flags().BoolVar(&f.includeUsers, "include-users", false, "Include the users collection")
	cmd.Flags().BoolVar(&f.transformData, "transform-data", true, "Rewrite storage references and sanitize sensitive fields")
	cmd.Flags().BoolVar(&f.backup, "backup", true, "Back up the target collections before writing")
	cmd.Flags().BoolVar(&f.interactive, "interactive", false, "Prompt for every option")
	return cmd
}

func newRestoreCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var req app.RestoreRequest
	var yes bool
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore collections from a backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := setup(root, overrides)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx, cancel := operationContext(a.Cfg.Global.OperationTimeout)
			defer cancel()

			if req.Backup == "" || len(req.Collections) == 0 {
				if !prompt.IsInteractive() {
					return errs.Configf("--backup and --collections are required without a terminal")
				}
				backups, err := a.ListBackups(ctx, "")
				if err != nil {
					return err
				}
				choice, err := prompt.New(os.Stdin, os.Stderr).Restore(backups, a.Envs.Names())
				if errors.Is(err, prompt.ErrAborted) {
					fmt.Fprintln(os.Stderr, "aborted")
					return nil
				}
				if err != nil {
					return err
				}
				req.Backup = choice.Snapshot.Name
				req.Collections = choice.Collections
				req.Target = choice.Target
				req.TargetCredentials = choice.TargetCredentials
			} else if !yes {
				if !prompt.IsInteractive() {
					return errs.Configf("restore overwrites documents; pass --yes to confirm")
				}
				warning := fmt.Sprintf("Restoring %s overwrites documents in: %s.", req.Backup, strings.Join(req.Collections, ", "))
				if err := prompt.New(os.Stdin, os.Stderr).ConfirmTyped(warning, "restore"); err != nil {
					fmt.Fprintln(os.Stderr, "aborted")
					return nil
				}
			}

			stats, err := a.Restore(ctx, req)
			if stats != nil {
				for _, c := range stats.Collections {
					status := "ok"
					if c.Error != "" {
						status = c.Error
					}
					fmt.Printf("%s\t%d/%d\t%s\n", c.Collection, c.Written, c.Documents, status)
				}
			}
			if err != nil {
				return err
			}
			logger.Info().Str("backup", req.Backup).Msg("restore completed")
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Backup, "backup", "", "Backup name, prefix or id")
	cmd.Flags().StringSliceVar(&req.Collections, "collections", nil, "Collections to restore (required)")
	cmd.Flags().StringVar(&req.Target, "target", "", "Environment to restore into (default: the backup's environment)")
	cmd.Flags().StringVar(&req.TargetCredentials, "target-credentials", "", "Credential file for the target")
	cmd.Flags().IntVar(&req.BatchSize, "batch-size", 0, "Documents per write batch")
	cmd.Flags().BoolVar(&yes, "yes", false, "Skip the confirmation prompt")
	return cmd
}

func newBackupsCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "Inspect backups",
	}
	var environment string
	list := &cobra.Command{
		Use:   "list",
		Short: "List available backups",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := setup(root, overrides)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx, cancel := operationContext(a.Cfg.Global.OperationTimeout)
			defer cancel()
			backups, err := a.ListBackups(ctx, environment)
			if err != nil {
				return err
			}
			for _, m := range backups {
				state := "complete"
				if !m.Complete() {
					state = "incomplete: " + strings.Join(m.Failed, ",")
				}
				fmt.Printf("%s\t%s\t%s\t%s\n", m.Name, m.CreatedAt.Format(time.RFC3339), strings.Join(m.CollectionNames(), ","), state)
			}
			return nil
		},
	}
	list.Flags().StringVar(&environment, "env", "", "Only backups of this environment")
	cmd.AddCommand(list)
	return cmd
}

func newValidateCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration, credentials, jobs and connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := setup(root, overrides)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx, cancel := operationContext(a.Cfg.Global.OperationTimeout)
			defer cancel()
			reports, err := a.Validate(ctx)
			for _, r := range reports {
				switch {
				case r.Skipped != "":
					fmt.Printf("%s\tskipped\t%s\n", r.Name, r.Skipped)
				case r.Err != nil:
					fmt.Printf("%s\terror\t%v\n", r.Name, r.Err)
				default:
					fmt.Printf("%s\t%s\t%s\t%d collections\n", r.Name, r.Class, r.Store, len(r.Collections))
					for _, c := range r.Collections {
						fmt.Printf("\t%s\t%d documents\t%d bytes\n", c.Name, c.DocumentCount, c.SizeBytes)
					}
				}
			}
			if err != nil {
				return err
			}
			logger.Info().Msg("validation succeeded")
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	var input string
	var output string
	var key string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config utilities",
	}

	encrypt := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" || output == "" || key == "" {
				return errs.Configf("--input, --output, and --key are required")
			}
			return config.EncryptConfigFile(input, output, key)
		},
	}
	encrypt.Flags().StringVar(&input, "input", "", "Input config file")
	encrypt.Flags().StringVar(&output, "output", "", "Output encrypted config file")
	encrypt.Flags().StringVar(&key, "key", "", "Encryption key (base64 or hex)")

	cmd.AddCommand(encrypt)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.String())
		},
	}
}

func setup(root *rootFlags, overrides *overrideFlags) (*app.App, zerolog.Logger, error) {
	cfg, err := loadConfig(root, overrides)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logger := logging.Configure(cfg.Global.LogLevel, cfg.Global.LogFormat)
	store, err := storage.New(cfg.Storage)
	if err != nil {
		return nil, logger, errs.WrapConfig(err, "artifact storage")
	}
	a, err := app.New(cfg, env.NewRegistry(cfg, logger), store, logger, notify.FromConfig(cfg.Notifications))
	if err != nil {
		return nil, logger, err
	}
	return a, logger, nil
}

// operationContext is cancelled on SIGINT/SIGTERM or after timeout.
func operationContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func loadConfig(root *rootFlags, overrides *overrideFlags) (*config.Config, error) {
	cfg, err := config.Load(root.ConfigPath)
	if err != nil {
		if errs.IsConfig(err) {
			return nil, err
		}
		return nil, errs.WrapConfig(err, "load config")
	}
	applyOverrides(cfg, root, overrides)
	return cfg, nil
}

func applyOverrides(cfg *config.Config, root *rootFlags, overrides *overrideFlags) {
	if root.LogLevel != "" {
		cfg.Global.LogLevel = root.LogLevel
	}
	if root.LogFormat != "" {
		cfg.Global.LogFormat = root.LogFormat
	}
	if overrides.CredentialsDir != "" {
		cfg.Global.CredentialsDir = overrides.CredentialsDir
	}

	if overrides.Storage != "" {
		cfg.Storage.Backend = overrides.Storage
	}
	if overrides.LocalPath != "" {
		cfg.Storage.Local.Path = overrides.LocalPath
	}
	if overrides.S3Endpoint != "" {
		cfg.Storage.S3.Endpoint = overrides.S3Endpoint
	}
	if overrides.S3Bucket != "" {
		cfg.Storage.S3.Bucket = overrides.S3Bucket
	}
	if overrides.S3AccessKey != "" {
		cfg.Storage.S3.AccessKey = overrides.S3AccessKey
	}
	if overrides.S3SecretKey != "" {
		cfg.Storage.S3.SecretKey = overrides.S3SecretKey
	}
	if overrides.S3Region != "" {
		cfg.Storage.S3.Region = overrides.S3Region
	}
	if overrides.S3UseSSL != "" {
		cfg.Storage.S3.UseSSL = parseBool(overrides.S3UseSSL)
	}
	if overrides.S3PathStyle != "" {
		cfg.Storage.S3.ForcePathStyle = parseBool(overrides.S3PathStyle)
	}

	if overrides.EncryptionKey != "" {
		cfg.Backup.EncryptionKey = overrides.EncryptionKey
		cfg.Backup.Encryption = true
	}
	if overrides.Compression != "" {
		cfg.Backup.Compression = strings.ToLower(overrides.Compression)
	}
}

func parseBool(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}
