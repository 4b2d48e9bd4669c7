package relay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/jonwraymond/resaccess/eventstore"
	"github.com/jonwraymond/resaccess/observe"
	"github.com/jonwraymond/resaccess/resilience"
)

// Webhook headers.
const (
	HeaderSignature = "X-Resaccess-Signature"
	HeaderEvent     = "X-Resaccess-Event"
	HeaderDelivery  = "X-Resaccess-Delivery"
	HeaderSeq       = "X-Resaccess-Seq"
)

const (
	// DefaultWebhookTimeout bounds one delivery attempt.
	DefaultWebhookTimeout = 5 * time.Second

	// DefaultWebhookDeadline bounds one delivery, retries and waits included.
	DefaultWebhookDeadline = 30 * time.Second
)

// WebhookConfig configures Webhook.
type WebhookConfig struct {
	URL string `yaml:"url"`

	// Secret signs request bodies. Empty disables signing.
	Secret string `yaml:"secret"`

	// Timeout bounds each attempt.
	// Default: 5s
	Timeout time.Duration `yaml:"timeout"`

	// Retry configures redelivery. Operation defaults to "webhook" and
	// Deadline to DefaultWebhookDeadline; a rate-limit wait that would
	// overrun the deadline fails the delivery at once.
	Retry resilience.RetryConfig `yaml:"-"`

	// Client is used for requests; its Timeout is replaced by Timeout.
	Client *http.Client `yaml:"-"`

	Logger observe.Logger `yaml:"-"`
}

// ErrNoURL is returned by NewWebhook without an endpoint.
var ErrNoURL = errors.New("relay: webhook url is required")

// Webhook POSTs events to an HTTP endpoint.
type Webhook struct {
	url    string
	secret []byte
	client *http.Client
	retry  *resilience.Retry
	logger observe.Logger
}

// NewWebhook creates a webhook relay.
func NewWebhook(cfg WebhookConfig) (*Webhook, error) {
	if cfg.URL == "" {
		return nil, ErrNoURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultWebhookTimeout
	}
	client := &http.Client{Timeout: cfg.Timeout}
	if cfg.Client != nil {
		c := *cfg.Client
		c.Timeout = cfg.Timeout
		client = &c
	}
	if cfg.Retry.Operation == "" {
		cfg.Retry.Operation = "webhook"
	}
	if cfg.Retry.Deadline <= 0 {
		cfg.Retry.Deadline = DefaultWebhookDeadline
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}
	if cfg.Retry.Logger == nil {
		cfg.Retry.Logger = cfg.Logger
	}
	return &Webhook{
		url:    cfg.URL,
		secret: []byte(cfg.Secret),
		client: client,
		retry:  resilience.NewRetry(cfg.Retry),
		logger: cfg.Logger.With(observe.Component("relay.webhook")),
	}, nil
}

// Sign returns the signature header value for body: "sha256=" followed by
// the hex HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is a valid Sign of body.
func Verify(secret, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

// Deliver POSTs e, retrying transient and rate-limited failures.
func (w *Webhook) Deliver(ctx context.Context, e eventstore.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("relay: encode event %d: %w", e.Seq, err)
	}

	report, err := w.retry.ExecuteReport(ctx, func(ctx context.Context) error {
		return w.post(ctx, e, body)
	})
	if err != nil {
		return fmt.Errorf("relay: webhook delivery of %d: %w", e.Seq, err)
	}
	if report.Attempts > 1 {
		w.logger.Info(ctx, "webhook delivered after retry",
			observe.F("seq", e.Seq), observe.F("attempts", report.Attempts))
	}
	return nil
}

func (w *Webhook) post(ctx context.Context, e eventstore.Event, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(e.Type))
	req.Header.Set(HeaderDelivery, e.ID)
	req.Header.Set(HeaderSeq, strconv.FormatUint(e.Seq, 10))
	if len(w.secret) > 0 {
		req.Header.Set(HeaderSignature, Sign(w.secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()
	return resilience.CheckResponse(resp)
}

func (w *Webhook) Transport() eventstore.Transport { return eventstore.TransportWebhook }

// Close releases idle connections.
func (w *Webhook) Close() error {
	w.client.CloseIdleConnections()
	return nil
}
