package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonwraymond/resaccess/eventstore"
	"github.com/jonwraymond/resaccess/observe"
)

// RedisConfig configures RedisPublisher.
type RedisConfig struct {
	URL string `yaml:"url"`

	// Password overrides the password in URL.
	Password string `yaml:"password"`

	// ChannelPrefix is prepended to the resource type.
	// Default: "resaccess:events"
	ChannelPrefix string `yaml:"channel_prefix"`

	Logger observe.Logger `yaml:"-"`
}

// publisher is the subset of *redis.Client the relay uses.
type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Close() error
}

// RedisPublisher publishes events on Redis pub/sub.
type RedisPublisher struct {
	client publisher
	prefix string
	logger observe.Logger
}

// NewRedisPublisher connects to cfg.URL and verifies the connection.
func NewRedisPublisher(ctx context.Context, cfg RedisConfig) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("relay: parse redis url: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("relay: redis ping: %w", err)
	}
	return newRedisPublisher(client, cfg), nil
}

func newRedisPublisher(client publisher, cfg RedisConfig) *RedisPublisher {
	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = "resaccess:events"
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}
	return &RedisPublisher{
		client: client,
		prefix: cfg.ChannelPrefix,
		logger: cfg.Logger.With(observe.Component("relay.redis")),
	}
}

// Channel returns the channel an event of resourceType is published on.
func (p *RedisPublisher) Channel(resourceType string) string {
	return p.prefix + ":" + resourceType
}

// Deliver publishes e. The returned error is nil even when no client is
// subscribed to the channel.
func (p *RedisPublisher) Deliver(ctx context.Context, e eventstore.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("relay: encode event %d: %w", e.Seq, err)
	}
	channel := p.Channel(e.ResourceType)
	receivers, err := p.client.Publish(ctx, channel, body).Result()
	if err != nil {
		return fmt.Errorf("relay: publish %s: %w", channel, err)
	}
	p.logger.Debug(ctx, "event published",
		observe.F("channel", channel), observe.F("seq", e.Seq), observe.F("receivers", receivers))
	return nil
}

func (p *RedisPublisher) Transport() eventstore.Transport { return eventstore.TransportRedis }

// Close closes the Redis client.
func (p *RedisPublisher) Close() error { return p.client.Close() }
