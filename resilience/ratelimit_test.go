package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{})

	if rl.config.Rate != 100 {
		t.Errorf("Rate = %f, want 100", rl.config.Rate)
	}
	if rl.config.Burst != 10 {
		t.Errorf("Burst = %d, want 10", rl.config.Burst)
	}
	if rl.config.MaxWait != time.Second {
		t.Errorf("MaxWait = %v, want 1s", rl.config.MaxWait)
	}
}

func TestRateLimiter_BurstThenDeny(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(RateLimiterConfig{Rate: 1, Burst: 3, Now: clock.Now})

	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("Allow() = false on call %d, want true", i)
		}
	}
	if rl.Allow() {
		t.Error("Allow() = true after burst, want false")
	}

	clock.Advance(time.Second)
	if !rl.Allow() {
		t.Error("Allow() = false after refill, want true")
	}
}

func TestRateLimiter_ExecuteRejects(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(RateLimiterConfig{Rate: 1, Burst: 1, Now: clock.Now})
	ctx := context.Background()

	if err := rl.Execute(ctx, succeed); err != nil {
		t.Fatalf("first Execute() = %v", err)
	}
	if err := rl.Execute(ctx, succeed); !errors.Is(err, ErrRateLimitExceeded) {
		t.Errorf("second Execute() = %v, want ErrRateLimitExceeded", err)
	}
}

func TestRateLimiter_PauseUntil(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(RateLimiterConfig{Rate: 100, Burst: 10, Now: clock.Now})

	rl.PauseUntil(clock.Now().Add(30 * time.Second))
	if rl.Allow() {
		t.Error("Allow() during pause = true, want false")
	}
	if got := rl.PausedUntil(); !got.Equal(clock.Now().Add(30 * time.Second)) {
		t.Errorf("PausedUntil = %v", got)
	}

	rl.PauseUntil(clock.Now().Add(5 * time.Second))
	if got := rl.PausedUntil(); !got.Equal(clock.Now().Add(30 * time.Second)) {
		t.Errorf("earlier pause should not shorten the current one, got %v", got)
	}

	clock.Advance(31 * time.Second)
	if !rl.PausedUntil().IsZero() {
		t.Error("PausedUntil after expiry should be zero")
	}
	if !rl.Allow() {
		t.Error("Allow() after pause = false, want true")
	}
}

func TestRateLimiter_WaitHonorsPauseAndContext(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 100, Burst: 10})
	rl.PauseUntil(time.Now().Add(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() during long pause = %v, want context.DeadlineExceeded", err)
	}
}

func TestRateLimiter_WaitShortPause(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 100, Burst: 10, WaitOnLimit: true})
	rl.PauseUntil(time.Now().Add(15 * time.Millisecond))

	start := time.Now()
	if err := rl.Execute(context.Background(), succeed); err != nil {
		t.Fatalf("Execute() = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("Execute returned after %v, want it to wait out the pause", elapsed)
	}
}

func TestRateLimiter_WaitExceedsMaxWait(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 0.1, Burst: 1, MaxWait: 10 * time.Millisecond})
	ctx := context.Background()

	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("first Wait() = %v", err)
	}
	if err := rl.Wait(ctx); !errors.Is(err, ErrRateLimitExceeded) {
		t.Errorf("second Wait() = %v, want ErrRateLimitExceeded", err)
	}
}

func TestRateLimiter_Reset(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(RateLimiterConfig{Rate: 1, Burst: 2, Now: clock.Now})

	rl.Allow()
	rl.Allow()
	rl.PauseUntil(clock.Now().Add(time.Minute))
	rl.Reset()

	if !rl.PausedUntil().IsZero() {
		t.Error("Reset should clear the pause")
	}
	if got := rl.Tokens(); got < 2 {
		t.Errorf("Tokens after Reset = %f, want 2", got)
	}
}
