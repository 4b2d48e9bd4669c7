package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/resaccess/secret"
)

// Options tune Load. The zero value reads ".env", the process environment
// and the default secret providers.
type Options struct {
	// EnvFiles are loaded with godotenv before anything else. Missing files
	// are skipped.
	// Default: [".env"]
	EnvFiles []string

	// Lookup reads environment overrides.
	// Default: os.LookupEnv
	Lookup func(string) (string, bool)

	// Resolver resolves secretref: values.
	// Default: secret.DefaultResolver()
	Resolver *secret.Resolver
}

// Load reads the configuration. An empty path skips the YAML file.
func Load(ctx context.Context, path string) (*Config, error) {
	return LoadWith(ctx, path, Options{})
}

// LoadWith is Load with explicit options.
func LoadWith(ctx context.Context, path string, opts Options) (*Config, error) {
	if opts.EnvFiles == nil {
		opts.EnvFiles = []string{".env"}
	}
	if opts.Lookup == nil {
		opts.Lookup = os.LookupEnv
	}
	if opts.Resolver == nil {
		opts.Resolver = secret.DefaultResolver()
	}

	for _, f := range opts.EnvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := decode(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, opts.Lookup); err != nil {
		return nil, err
	}
	if err := resolveSecrets(ctx, &cfg, opts.Resolver); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// decode expands ${VAR} references, then decodes YAML over cfg. Unknown
// keys are rejected.
func decode(data []byte, cfg *Config) error {
	expanded, err := secret.ExpandEnvStrict(string(data))
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

type binding struct {
	names []string
	apply func(*Config, string) error
}

// bindings are checked in order; for each, the first set name wins.
var bindings = []binding{
	{[]string{"RESACCESS_CACHE_DEFAULT_TTL"}, durationField(func(c *Config) *time.Duration { return &c.Cache.DefaultTTL })},
	{[]string{"RESACCESS_CACHE_MAX_TTL"}, durationField(func(c *Config) *time.Duration { return &c.Cache.MaxTTL })},
	{[]string{"RESACCESS_CACHE_DIRECTORY", "CACHE_DIRECTORY"}, stringField(func(c *Config) *string { return &c.Cache.Directory })},
	{[]string{"RESACCESS_RETRY_MAX_ATTEMPTS"}, intField(func(c *Config) *int { return &c.Retry.MaxAttempts })},
	{[]string{"RESACCESS_RETRY_BASE_DELAY"}, durationField(func(c *Config) *time.Duration { return &c.Retry.BaseDelay })},
	{[]string{"RESACCESS_RETRY_MAX_DELAY"}, durationField(func(c *Config) *time.Duration { return &c.Retry.MaxDelay })},
	{[]string{"RESACCESS_RETRY_DEADLINE"}, durationField(func(c *Config) *time.Duration { return &c.Retry.Deadline })},
	{[]string{"RESACCESS_EVENTS_BACKEND"}, stringField(func(c *Config) *string { return &c.Events.Backend })},
	{[]string{"RESACCESS_EVENTS_PATH"}, stringField(func(c *Config) *string { return &c.Events.Path })},
	{[]string{"RESACCESS_EVENTS_DSN"}, stringField(func(c *Config) *string { return &c.Events.DSN })},
	{[]string{"RESACCESS_EVENTS_CAPACITY", "MAX_EVENTS_IN_MEMORY"}, intField(func(c *Config) *int { return &c.Events.Capacity })},
	{[]string{"RESACCESS_EVENTS_RETENTION"}, durationField(func(c *Config) *time.Duration { return &c.Events.Retention })},
	{[]string{"EVENT_RETENTION_DAYS"}, func(c *Config, v string) error {
		days, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		c.Events.Retention = time.Duration(days) * 24 * time.Hour
		return nil
	}},
	{[]string{"RESACCESS_EVENTS_HANDLER_TIMEOUT"}, durationField(func(c *Config) *time.Duration { return &c.Events.HandlerTimeout })},
	{[]string{"RESACCESS_REDIS_URL"}, stringField(func(c *Config) *string { return &c.Relay.Redis.URL })},
	{[]string{"RESACCESS_WEBHOOK_URL"}, stringField(func(c *Config) *string { return &c.Relay.Webhook.URL })},
	{[]string{"RESACCESS_WEBHOOK_SECRET"}, stringField(func(c *Config) *string { return &c.Relay.Webhook.Secret })},
	{[]string{"RESACCESS_WEBHOOK_TIMEOUT"}, durationField(func(c *Config) *time.Duration { return &c.Relay.Webhook.Timeout })},
	{[]string{"RESACCESS_WEBHOOK_DEADLINE"}, durationField(func(c *Config) *time.Duration { return &c.Relay.Webhook.Deadline })},
	{[]string{"WEBHOOK_TIMEOUT_MS"}, func(c *Config, v string) error {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		c.Relay.Webhook.Timeout = time.Duration(ms) * time.Millisecond
		return nil
	}},
	{[]string{"RESACCESS_ADMIN_ADDR"}, stringField(func(c *Config) *string { return &c.Admin.Addr })},
	{[]string{"RESACCESS_ADMIN_JWT_KEY"}, stringField(func(c *Config) *string { return &c.Admin.JWTKey })},
	{[]string{"RESACCESS_ADMIN_API_KEYS"}, func(c *Config, v string) error {
		c.Admin.APIKeys = splitList(v)
		return nil
	}},
	{[]string{"RESACCESS_LOG_LEVEL"}, stringField(func(c *Config) *string { return &c.Observe.Logging.Level })},
	{[]string{"RESACCESS_LOG_FORMAT"}, stringField(func(c *Config) *string { return &c.Observe.Logging.Format })},
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, b := range bindings {
		for _, name := range b.names {
			v, ok := lookup(name)
			if !ok {
				continue
			}
			if err := b.apply(cfg, strings.TrimSpace(v)); err != nil {
				return fmt.Errorf("%w: %s=%q: %w", ErrInvalid, name, v, err)
			}
			break
		}
	}
	return nil
}

func stringField(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func intField(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func durationField(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func resolveSecrets(ctx context.Context, cfg *Config, r *secret.Resolver) error {
	err := r.ResolveInto(ctx, map[string]*string{
		"events.dsn":           &cfg.Events.DSN,
		"relay.redis.url":      &cfg.Relay.Redis.URL,
		"relay.webhook.url":    &cfg.Relay.Webhook.URL,
		"relay.webhook.secret": &cfg.Relay.Webhook.Secret,
		"admin.jwt_key":        &cfg.Admin.JWTKey,
	})
	if err != nil {
		return fmt.Errorf("config: resolve %w", err)
	}
	keys, err := r.ResolveSlice(ctx, cfg.Admin.APIKeys)
	if err != nil {
		return fmt.Errorf("config: resolve admin.api_keys%w", err)
	}
	cfg.Admin.APIKeys = keys
	return nil
}
