package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonwraymond/resaccess/eventstore"
	"github.com/jonwraymond/resaccess/resilience"
	"github.com/jonwraymond/resaccess/secret"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func load(t *testing.T, path string, env map[string]string) (*Config, error) {
	t.Helper()
	return LoadWith(context.Background(), path, Options{EnvFiles: []string{}, Lookup: envMap(env)})
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(t, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Events.Capacity != 1000 || cfg.Events.Retention != 7*24*time.Hour {
		t.Errorf("events = %+v", cfg.Events)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.BaseDelay != time.Second {
		t.Errorf("retry = %+v", cfg.Retry)
	}
	if cfg.Relay.Webhook.Timeout != 5*time.Second || cfg.Relay.Webhook.Deadline != 30*time.Second {
		t.Errorf("webhook = %+v", cfg.Relay.Webhook)
	}
	if cfg.Events.HandlerTimeout != time.Minute {
		t.Errorf("handler timeout = %s", cfg.Events.HandlerTimeout)
	}
	if got := cfg.EventsPath(); got != filepath.Join(".resaccess", "events") {
		t.Errorf("EventsPath = %q", got)
	}
}

func TestLoad_YAML(t *testing.T) {
	t.Setenv("RESACCESS_TEST_PG", "postgres://events@db/resaccess")
	path := writeFile(t, "resaccess.yaml", `
cache:
  default_ttl: 10m
  max_ttl: 2h
retry:
  max_attempts: 5
  base_delay: 250ms
  overrides:
    - operation: create_issue
      status_codes: [502]
      outcome: permanent
events:
  backend: postgres
  dsn: ${RESACCESS_TEST_PG}
  capacity: 50
relay:
  webhook:
    url: https://hooks.example.com/resaccess
    filter:
      - resource_type: issue
        type: deleted
`)
	cfg, err := load(t, path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if p := cfg.CachePolicy(); p.DefaultTTL != 10*time.Minute || p.MaxTTL != 2*time.Hour {
		t.Errorf("policy = %+v", p)
	}
	if cfg.Retry.MaxAttempts != 5 || cfg.Retry.BaseDelay != 250*time.Millisecond {
		t.Errorf("retry = %+v", cfg.Retry)
	}
	if cfg.Events.DSN != "postgres://events@db/resaccess" || cfg.Events.Capacity != 50 {
		t.Errorf("events = %+v", cfg.Events)
	}
	if f := cfg.Relay.Webhook.Filter; len(f) != 1 || f[0].Type != eventstore.EventDeleted {
		t.Errorf("webhook filter = %+v", f)
	}

	cl, err := cfg.Classifier()
	if err != nil {
		t.Fatal(err)
	}
	got := cl.Classify(resilience.Failure{Operation: "create_issue", StatusCode: 502})
	if got.Outcome != resilience.OutcomePermanent {
		t.Errorf("override outcome = %s", got.Outcome)
	}
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := writeFile(t, "bad.yaml", "cache:\n  defualt_ttl: 1m\n")
	if _, err := load(t, path, nil); err == nil {
		t.Fatal("misspelled key accepted")
	}
}

func TestLoad_MissingEnvInYAML(t *testing.T) {
	path := writeFile(t, "env.yaml", "admin:\n  jwt_key: ${RESACCESS_TEST_UNSET_KEY}\n")
	_, err := load(t, path, nil)
	var missing *secret.MissingEnvError
	if !errors.As(err, &missing) {
		t.Fatalf("error = %v, want missing variable", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	cfg, err := load(t, "", map[string]string{
		"EVENT_RETENTION_DAYS":     "3",
		"MAX_EVENTS_IN_MEMORY":     "200",
		"CACHE_DIRECTORY":          "/var/lib/resaccess",
		"WEBHOOK_TIMEOUT_MS":       "1500",
		"RESACCESS_EVENTS_BACKEND": "sqlite",
		"RESACCESS_ADMIN_API_KEYS": "k1, k2,,",
		"RESACCESS_RETRY_DEADLINE": "45s",
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Events.Retention != 72*time.Hour || cfg.Events.Capacity != 200 {
		t.Errorf("events = %+v", cfg.Events)
	}
	if cfg.Relay.Webhook.Timeout != 1500*time.Millisecond {
		t.Errorf("webhook timeout = %s", cfg.Relay.Webhook.Timeout)
	}
	if got := cfg.EventsPath(); got != "/var/lib/resaccess/events.db" {
		t.Errorf("EventsPath = %q", got)
	}
	if len(cfg.Admin.APIKeys) != 2 || cfg.Admin.APIKeys[1] != "k2" {
		t.Errorf("api keys = %q", cfg.Admin.APIKeys)
	}
	if cfg.Retry.Deadline != 45*time.Second {
		t.Errorf("deadline = %s", cfg.Retry.Deadline)
	}
}

func TestLoad_NewNameWinsOverLegacy(t *testing.T) {
	cfg, err := load(t, "", map[string]string{
		"RESACCESS_EVENTS_CAPACITY": "10",
		"MAX_EVENTS_IN_MEMORY":      "20",
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Events.Capacity != 10 {
		t.Errorf("capacity = %d, want 10", cfg.Events.Capacity)
	}
}

func TestLoad_BadEnvValue(t *testing.T) {
	_, err := load(t, "", map[string]string{"MAX_EVENTS_IN_MEMORY": "lots"})
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("error = %v, want ErrInvalid", err)
	}
}

func TestLoad_ResolvesSecrets(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "jwt")
	if err := os.WriteFile(keyFile, []byte("file-key\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RESACCESS_TEST_HOOK_SECRET", "hook-secret")

	cfg, err := load(t, "", map[string]string{
		"RESACCESS_ADMIN_JWT_KEY":  "secretref:file:" + keyFile,
		"RESACCESS_WEBHOOK_SECRET": "secretref:env:RESACCESS_TEST_HOOK_SECRET",
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Admin.JWTKey != "file-key" || cfg.Relay.Webhook.Secret != "hook-secret" {
		t.Errorf("secrets not resolved: jwt=%q webhook=%q", cfg.Admin.JWTKey, cfg.Relay.Webhook.Secret)
	}
}

func TestLoad_DotenvFile(t *testing.T) {
	env := writeFile(t, ".env", "RESACCESS_TEST_DOTENV_DSN=postgres://from-dotenv/db\n")
	t.Cleanup(func() { os.Unsetenv("RESACCESS_TEST_DOTENV_DSN") })
	path := writeFile(t, "cfg.yaml", "events:\n  backend: postgres\n  dsn: ${RESACCESS_TEST_DOTENV_DSN}\n")

	cfg, err := LoadWith(context.Background(), path, Options{
		EnvFiles: []string{env, filepath.Join(t.TempDir(), "absent.env")},
		Lookup:   envMap(nil),
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Events.DSN != "postgres://from-dotenv/db" {
		t.Errorf("dsn = %q", cfg.Events.DSN)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{"unknown backend", func(c *Config) { c.Events.Backend = "mongo" }},
		{"postgres without dsn", func(c *Config) { c.Events.Backend = BackendPostgres }},
		{"bad outcome", func(c *Config) { c.Retry.Overrides = []RuleConfig{{Outcome: "maybe"}} }},
		{"zero capacity", func(c *Config) { c.Events.Capacity = 0 }},
		{"negative handler timeout", func(c *Config) { c.Events.HandlerTimeout = -time.Second }},
		{"bad log level", func(c *Config) { c.Observe.Logging.Level = "loud" }},
		{"rate limit without rate", func(c *Config) { c.RateLimit = RateLimitConfig{Enabled: true} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate = %v, want ErrInvalid", err)
			}
		})
	}

	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}
