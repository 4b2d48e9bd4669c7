package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jonwraymond/resaccess/cache"
	"github.com/jonwraymond/resaccess/eventstore"
	"github.com/jonwraymond/resaccess/observe"
	"github.com/jonwraymond/resaccess/relay"
	"github.com/jonwraymond/resaccess/resilience"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Event log backends.
const (
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config is the full configuration.
type Config struct {
	Cache     CacheConfig     `yaml:"cache"`
	Retry     RetryConfig     `yaml:"retry"`
	Circuit   CircuitConfig   `yaml:"circuit"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Events    EventsConfig    `yaml:"events"`
	Relay     RelayConfig     `yaml:"relay"`
	Observe   observe.Config  `yaml:"observe"`
	Admin     AdminConfig     `yaml:"admin"`
}

type CacheConfig struct {
	DefaultTTL    time.Duration `yaml:"default_ttl"`
	MaxTTL        time.Duration `yaml:"max_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// Directory holds on-disk state: the badger or sqlite event log when
	// events.path is unset.
	Directory string `yaml:"directory"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Deadline    time.Duration `yaml:"deadline"`
	Jitter      bool          `yaml:"jitter"`

	DefaultRetryAfter time.Duration `yaml:"default_retry_after"`
	MaxRetryAfter     time.Duration `yaml:"max_retry_after"`
	Overrides         []RuleConfig  `yaml:"overrides"`
}

// RuleConfig is a classification override. Outcome is one of transient,
// rate_limited, permanent or unknown.
type RuleConfig struct {
	Operation   string `yaml:"operation"`
	StatusCodes []int  `yaml:"status_codes"`
	Outcome     string `yaml:"outcome"`
}

type CircuitConfig struct {
	Enabled      bool          `yaml:"enabled"`
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	Rate    float64 `yaml:"rate"`
	Burst   int     `yaml:"burst"`
	// MaxConcurrent caps in-flight remote calls. Zero disables the cap.
	MaxConcurrent int `yaml:"max_concurrent"`
}

type EventsConfig struct {
	// Backend is memory, badger, sqlite or postgres.
	Backend     string        `yaml:"backend"`
	Path        string        `yaml:"path"`
	DSN         string        `yaml:"dsn"`
	Capacity    int           `yaml:"capacity"`
	Retention   time.Duration `yaml:"retention"`
	RotateEvery time.Duration `yaml:"rotate_every"`
	SyncWrites  bool          `yaml:"sync_writes"`
	QueueSize   int           `yaml:"queue_size"`

	// HandlerTimeout bounds one subscriber call. Zero means no bound.
	HandlerTimeout time.Duration `yaml:"handler_timeout"`
}

type RelayConfig struct {
	Redis   RedisRelayConfig   `yaml:"redis"`
	Webhook WebhookRelayConfig `yaml:"webhook"`
}

type RedisRelayConfig struct {
	URL           string              `yaml:"url"`
	ChannelPrefix string              `yaml:"channel_prefix"`
	Filter        []eventstore.Filter `yaml:"filter"`
}

type WebhookRelayConfig struct {
	URL      string              `yaml:"url"`
	Secret   string              `yaml:"secret"`
	Timeout  time.Duration       `yaml:"timeout"`
	Deadline time.Duration       `yaml:"deadline"`
	Filter   []eventstore.Filter `yaml:"filter"`
}

type AdminConfig struct {
	Addr    string   `yaml:"addr"`
	JWTKey  string   `yaml:"jwt_key"`
	Issuer  string   `yaml:"issuer"`
	APIKeys []string `yaml:"api_keys"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	policy := cache.DefaultPolicy()
	return Config{
		Cache: CacheConfig{
			DefaultTTL:    policy.DefaultTTL,
			MaxTTL:        policy.MaxTTL,
			SweepInterval: time.Minute,
			Directory:     ".resaccess",
		},
		Retry: RetryConfig{
			MaxAttempts:       3,
			BaseDelay:         time.Second,
			MaxDelay:          30 * time.Second,
			DefaultRetryAfter: 60 * time.Second,
			MaxRetryAfter:     time.Hour,
		},
		Circuit: CircuitConfig{MaxFailures: 5, ResetTimeout: 30 * time.Second},
		Events: EventsConfig{
			Backend:     BackendBadger,
			Capacity:    eventstore.DefaultCapacity,
			Retention:   eventstore.DefaultRetention,
			RotateEvery: eventstore.DefaultRotateEvery,
			QueueSize:   256,

			HandlerTimeout: time.Minute,
		},
		Relay: RelayConfig{
			Redis:   RedisRelayConfig{ChannelPrefix: "resaccess:events"},
			Webhook: WebhookRelayConfig{
				Timeout:  relay.DefaultWebhookTimeout,
				Deadline: relay.DefaultWebhookDeadline,
			},
		},
		Observe: observe.Config{
			ServiceName: "resaccess",
			Logging:     observe.LoggingConfig{Enabled: true, Level: "info", Format: "text"},
			Metrics:     observe.MetricsConfig{Enabled: true, Exporter: "prometheus"},
		},
		Admin: AdminConfig{Addr: "127.0.0.1:8089", Issuer: "resaccess"},
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	check(c.Cache.MaxTTL >= 0, "cache.max_ttl %s", c.Cache.MaxTTL)
	check(c.Retry.MaxAttempts >= 1, "retry.max_attempts %d", c.Retry.MaxAttempts)
	check(c.Retry.BaseDelay >= 0 && c.Retry.MaxDelay >= 0 && c.Retry.Deadline >= 0, "retry delays must not be negative")
	for i, r := range c.Retry.Overrides {
		_, err := resilience.ParseOutcome(r.Outcome)
		check(err == nil, "retry.overrides[%d].outcome %q", i, r.Outcome)
	}
	check(c.Events.Capacity > 0, "events.capacity %d", c.Events.Capacity)
	check(c.Events.Retention > 0, "events.retention %s", c.Events.Retention)
	switch c.Events.Backend {
	case BackendMemory, BackendBadger, BackendSQLite:
	case BackendPostgres:
		check(c.Events.DSN != "", "events.dsn is required for the postgres backend")
	default:
		check(false, "events.backend %q", c.Events.Backend)
	}
	check(c.Events.HandlerTimeout >= 0, "events.handler_timeout %s", c.Events.HandlerTimeout)
	check(c.Relay.Webhook.Timeout >= 0, "relay.webhook.timeout %s", c.Relay.Webhook.Timeout)
	check(c.Relay.Webhook.Deadline >= 0, "relay.webhook.deadline %s", c.Relay.Webhook.Deadline)
	check(!c.RateLimit.Enabled || c.RateLimit.Rate > 0, "rate_limit.rate %g", c.RateLimit.Rate)

	if err := c.Observe.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%w: observe: %w", ErrInvalid, err))
	}
	return errors.Join(errs...)
}

// EventsPath returns the on-disk location of the event log: events.path,
// or a file under cache.directory.
func (c *Config) EventsPath() string {
	if c.Events.Path != "" {
		return c.Events.Path
	}
	switch c.Events.Backend {
	case BackendSQLite:
		return filepath.Join(c.Cache.Directory, "events.db")
	default:
		return filepath.Join(c.Cache.Directory, "events")
	}
}

// CachePolicy returns the cache TTL policy.
func (c *Config) CachePolicy() cache.Policy {
	return cache.Policy{DefaultTTL: c.Cache.DefaultTTL, MaxTTL: c.Cache.MaxTTL}
}

// Classifier builds the error classifier with the configured overrides.
func (c *Config) Classifier() (*resilience.Classifier, error) {
	rules := make([]resilience.ClassificationRule, 0, len(c.Retry.Overrides))
	for _, r := range c.Retry.Overrides {
		outcome, err := resilience.ParseOutcome(r.Outcome)
		if err != nil {
			return nil, fmt.Errorf("config: retry override: %w", err)
		}
		rules = append(rules, resilience.ClassificationRule{
			Operation:   r.Operation,
			StatusCodes: r.StatusCodes,
			Outcome:     outcome,
		})
	}
	return resilience.NewClassifier(resilience.ClassifierConfig{
		DefaultRetryAfter: c.Retry.DefaultRetryAfter,
		MaxRetryAfter:     c.Retry.MaxRetryAfter,
		Overrides:         rules,
	}), nil
}

// RetryConfig returns the retry executor configuration.
func (c *Config) RetryConfig(classifier *resilience.Classifier, logger observe.Logger, metrics observe.Metrics) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.BaseDelay,
		MaxDelay:    c.Retry.MaxDelay,
		Deadline:    c.Retry.Deadline,
		Jitter:      c.Retry.Jitter,
		Classifier:  classifier,
		Logger:      logger,
		Metrics:     metrics,
	}
}
