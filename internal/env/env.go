// Package env resolves environment names to live document store handles.
package env

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rowjay/docmigrate/internal/config"
	"github.com/rowjay/docmigrate/internal/db"
	"github.com/rowjay/docmigrate/internal/errs"
	"github.com/rowjay/docmigrate/internal/logging"
	"github.com/rowjay/docmigrate/internal/util"
)

// Class decides whether sanitization applies when data lands in an
// environment.
type Class string

const (
	Production    Class = "production"
	NonProduction Class = "non-production"
)

// Custom is the environment name that always takes an explicit credential
// file.
const Custom = "custom"

// BuiltIn lists the environment names known without configuration.
var BuiltIn = []string{"development", "staging", "production"}

// Environment is a resolved, immutable environment.
type Environment struct {
	Name        string
	Class       Class
	Namespace   string
	Credentials string
	Store       db.Store
}

func (e *Environment) Production() bool { return e.Class == Production }

// Opener connects to a store; swapped in tests.
type Opener func(ctx context.Context, creds config.Credentials) (db.Store, error)

// Registry caches one handle per environment for the life of the process.
type Registry struct {
	cfg            map[string]config.EnvironmentConfig
	credentialsDir string
	retries        int
	backoff        time.Duration
	open           Opener
	log            zerolog.Logger

	mu   sync.Mutex
	envs map[string]*Environment
}

func NewRegistry(cfg *config.Config, log zerolog.Logger) *Registry {
	return &Registry{
		cfg:            cfg.Environments,
		credentialsDir: cfg.Global.CredentialsDir,
		retries:        cfg.Global.ConnectRetries,
		backoff:        cfg.Global.ConnectBackoff,
		open:           db.Open,
		log:            logging.For(log, "env"),
		envs:           map[string]*Environment{},
	}
}

// WithOpener replaces the store opener.
func (r *Registry) WithOpener(open Opener) *Registry {
	r.open = open
	return r
}

// Register installs an already open store under name. Later Resolve calls
// for name return it.
func (r *Registry) Register(name string, class Class, namespace string, store db.Store) *Environment {
	r.mu.Lock()
	defer r.mu.Unlock()
	if namespace == "" {
		namespace = name
	}
	e := &Environment{Name: name, Class: class, Namespace: namespace, Store: store}
	r.envs[cacheKey(name, "")] = e
	return e
}

// Resolve returns the environment called name. credPath is required for the
// custom environment and overrides the configured credential file for any
// other. Missing or unparsable credentials are a ConfigError.
func (r *Registry) Resolve(ctx context.Context, name, credPath string) (*Environment, error) {
	if name == "" {
		return nil, errs.Configf("environment name is required")
	}
	if name == Custom && credPath == "" {
		return nil, errs.Configf("environment %q requires a credentials file", Custom)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if credPath == "" {
		if e, ok := r.envs[cacheKey(name, "")]; ok {
			return e, nil
		}
	}
	path, err := r.credentialPath(name, credPath)
	if err != nil {
		return nil, err
	}
	key := cacheKey(name, path)
	if e, ok := r.envs[key]; ok {
		return e, nil
	}

	creds, err := config.LoadCredentials(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.WrapConfig(err, "no credentials for environment %s at %s", name, path)
		}
		return nil, errs.WrapConfig(err, "invalid credentials for environment %s", name)
	}
	class, err := r.classOf(name, creds)
	if err != nil {
		return nil, err
	}

	var store db.Store
	err = util.Retry(ctx, r.retries, r.backoff, func() error {
		var openErr error
		store, openErr = r.open(ctx, *creds)
		if openErr != nil {
			r.log.Warn().Err(openErr).Str("environment", name).Msg("connect failed")
		}
		return openErr
	})
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", name, err)
	}

	namespace := creds.StorageNamespace
	if namespace == "" {
		namespace = r.cfg[name].StorageNamespace
	}
	if namespace == "" {
		namespace = name
	}
	e := &Environment{Name: name, Class: class, Namespace: namespace, Credentials: path, Store: store}
	r.envs[key] = e
	if credPath == "" {
		r.envs[cacheKey(name, "")] = e
	}
	r.log.Info().Str("environment", name).Str("store", store.Name()).Str("class", string(class)).Msg("environment resolved")
	return e, nil
}

// Names lists the built-in and configured environment names.
func (r *Registry) Names() []string {
	seen := map[string]bool{}
	var names []string
	for _, n := range BuiltIn {
		seen[n] = true
		names = append(names, n)
	}
	var extra []string
	for n := range r.cfg {
		if !seen[n] && n != Custom {
			extra = append(extra, n)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

// Close disconnects every resolved store.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	closed := map[*Environment]bool{}
	var firstErr error
	for key, e := range r.envs {
		delete(r.envs, key)
		if closed[e] || e.Store == nil {
			continue
		}
		closed[e] = true
		if err := e.Store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Registry) credentialPath(name, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if c, ok := r.cfg[name]; ok && c.Credentials != "" {
		return c.Credentials, nil
	}
	if !isBuiltIn(name) {
		if _, ok := r.cfg[name]; !ok {
			return "", errs.Configf("unknown environment %q", name)
		}
	}
	return filepath.Join(r.credentialsDir, name+".json"), nil
}

func (r *Registry) classOf(name string, creds *config.Credentials) (Class, error) {
	raw := creds.Class
	if raw == "" {
		raw = r.cfg[name].Class
	}
	switch Class(raw) {
	case Production, NonProduction:
		return Class(raw), nil
	case "":
		if name == "production" {
			return Production, nil
		}
		return NonProduction, nil
	default:
		return "", errs.Configf("environment %s: unknown class %q", name, raw)
	}
}

func isBuiltIn(name string) bool {
	for _, n := range BuiltIn {
		if n == name {
			return true
		}
	}
	return false
}

func cacheKey(name, path string) string {
	return name + "\x00" + path
}
