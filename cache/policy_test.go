package cache

import (
	"testing"
	"time"
)

func TestPolicy_EffectiveTTL(t *testing.T) {
	tests := []struct {
		name     string
		policy   Policy
		override time.Duration
		want     time.Duration
	}{
		{"zero uses default", DefaultPolicy(), 0, time.Hour},
		{"override within max", DefaultPolicy(), 10 * time.Minute, 10 * time.Minute},
		{"override clamped", DefaultPolicy(), 48 * time.Hour, 24 * time.Hour},
		{"negative disables", DefaultPolicy(), NoCache, 0},
		{"no-cache default", NoCachePolicy(), 0, 0},
		{"no-cache explicit", NoCachePolicy(), time.Minute, time.Minute},
		{"unbounded max", Policy{DefaultTTL: time.Minute}, 72 * time.Hour, 72 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.EffectiveTTL(tt.override); got != tt.want {
				t.Errorf("EffectiveTTL(%v) = %v, want %v", tt.override, got, tt.want)
			}
		})
	}
}

func TestPolicy_ShouldCache(t *testing.T) {
	if !DefaultPolicy().ShouldCache() {
		t.Error("DefaultPolicy().ShouldCache() = false")
	}
	if NoCachePolicy().ShouldCache() {
		t.Error("NoCachePolicy().ShouldCache() = true")
	}
}

func TestValidateKey(t *testing.T) {
	long := make([]byte, MaxKeyLength+1)
	for i := range long {
		long[i] = 'x'
	}
	tests := []struct {
		key     string
		wantErr error
	}{
		{"issue-1", nil},
		{"", ErrInvalidKey},
		{"   ", ErrInvalidKey},
		{"a\rb", ErrInvalidKey},
		{string(long), ErrKeyTooLong},
	}
	for _, tt := range tests {
		if err := ValidateKey(tt.key); err != tt.wantErr {
			t.Errorf("ValidateKey(%.10q) = %v, want %v", tt.key, err, tt.wantErr)
		}
	}
}

func TestKey_String(t *testing.T) {
	k := Key{Type: TypePullRequest, ID: "99"}
	if got := k.String(); got != "pull_request:99" {
		t.Errorf("String() = %q", got)
	}
}
