package cache

import "time"

// NoCache as a TTL stores nothing.
const NoCache time.Duration = -1

// Policy configures entry lifetimes.
type Policy struct {
	// DefaultTTL applies when a write carries no TTL. NoCache (or any
	// negative value) disables caching.
	DefaultTTL time.Duration `yaml:"default_ttl"`

	// MaxTTL clamps every TTL. Zero means no maximum.
	MaxTTL time.Duration `yaml:"max_ttl"`
}

// DefaultPolicy returns the default policy: one hour, clamped to a day.
func DefaultPolicy() Policy {
	return Policy{
		DefaultTTL: time.Hour,
		MaxTTL:     24 * time.Hour,
	}
}

// NoCachePolicy returns a policy under which nothing is stored unless a
// write asks for an explicit TTL.
func NoCachePolicy() Policy {
	return Policy{DefaultTTL: NoCache}
}

// ShouldCache reports whether writes without an explicit TTL are stored.
func (p Policy) ShouldCache() bool {
	return p.DefaultTTL > 0
}

// EffectiveTTL resolves a per-write TTL against the policy. A result of
// zero means the write must not be stored.
func (p Policy) EffectiveTTL(override time.Duration) time.Duration {
	ttl := override
	switch {
	case ttl < 0:
		return 0
	case ttl == 0:
		ttl = max(p.DefaultTTL, 0)
	}

	if p.MaxTTL > 0 && ttl > p.MaxTTL {
		ttl = p.MaxTTL
	}
	return ttl
}
