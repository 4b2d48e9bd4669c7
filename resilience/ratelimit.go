package resilience

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig configures the client-side rate limiter.
type RateLimiterConfig struct {
	// Rate is the number of operations allowed per second.
	// Default: 100
	Rate float64

	// Burst is the maximum burst size.
	// Default: 10
	Burst int

	// WaitOnLimit waits for a token instead of returning an error.
	// Default: false
	WaitOnLimit bool

	// MaxWait is the maximum time to wait for a token. It does not bound
	// waits imposed by PauseUntil.
	// Default: 1 second
	MaxWait time.Duration

	// Now is the limiter's clock.
	// Default: time.Now
	Now func() time.Time
}

// RateLimiter is a token bucket that can also be paused until a remote
// rate-limit window resets.
type RateLimiter struct {
	config  RateLimiterConfig
	limiter *rate.Limiter

	mu          sync.Mutex
	pausedUntil time.Time
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.Rate <= 0 {
		config.Rate = 100
	}
	if config.Burst <= 0 {
		config.Burst = 10
	}
	if config.MaxWait <= 0 {
		config.MaxWait = time.Second
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &RateLimiter{
		config:  config,
		limiter: rate.NewLimiter(rate.Limit(config.Rate), config.Burst),
	}
}

// Allow reports whether one operation may proceed now.
func (rl *RateLimiter) Allow() bool {
	return rl.AllowN(1)
}

// AllowN reports whether n operations may proceed now.
func (rl *RateLimiter) AllowN(n int) bool {
	if rl.pauseRemaining() > 0 {
		return false
	}
	return rl.current().AllowN(rl.config.Now(), n)
}

// Wait blocks until a token is available or ctx ends.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.WaitN(ctx, 1)
}

// WaitN blocks until n tokens are available. A pause is waited out in full;
// token waits longer than MaxWait fail with ErrRateLimitExceeded.
func (rl *RateLimiter) WaitN(ctx context.Context, n int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if pause := rl.pauseRemaining(); pause > 0 {
		if err := sleepContext(ctx, pause); err != nil {
			return err
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, rl.config.MaxWait)
	defer cancel()

	if err := rl.current().WaitN(waitCtx, n); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrRateLimitExceeded
	}
	return nil
}

// Execute runs op if the limiter admits it.
func (rl *RateLimiter) Execute(ctx context.Context, op func(context.Context) error) error {
	if rl.config.WaitOnLimit {
		if err := rl.Wait(ctx); err != nil {
			return err
		}
	} else if !rl.Allow() {
		return ErrRateLimitExceeded
	}

	return op(ctx)
}

// PauseUntil holds every caller until t. Earlier deadlines than the current
// pause are ignored.
func (rl *RateLimiter) PauseUntil(t time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if t.After(rl.pausedUntil) {
		rl.pausedUntil = t
	}
}

// PausedUntil returns the end of the current pause, or the zero time.
func (rl *RateLimiter) PausedUntil() time.Time {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if !rl.pausedUntil.After(rl.config.Now()) {
		return time.Time{}
	}
	return rl.pausedUntil
}

func (rl *RateLimiter) pauseRemaining() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.pausedUntil.IsZero() {
		return 0
	}
	return rl.pausedUntil.Sub(rl.config.Now())
}

// Tokens returns the current number of available tokens.
func (rl *RateLimiter) Tokens() float64 {
	return rl.current().TokensAt(rl.config.Now())
}

// Reset refills the bucket and clears any pause.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.pausedUntil = time.Time{}
	rl.limiter = rate.NewLimiter(rate.Limit(rl.config.Rate), rl.config.Burst)
}

func (rl *RateLimiter) current() *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.limiter
}
