package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

// MaxKeyLength is the maximum allowed length for a resource id.
const MaxKeyLength = 512

// Sentinel errors for cache operations.
var (
	ErrNilCache   = errors.New("cache: cache is nil")
	ErrInvalidKey = errors.New("cache: key is invalid")
	ErrKeyTooLong = errors.New("cache: key exceeds max length")
)

// ResourceType names a kind of remote resource. The set is open; the
// constants cover the types the layer ships with.
type ResourceType string

const (
	TypeProject      ResourceType = "project"
	TypeIssue        ResourceType = "issue"
	TypeMilestone    ResourceType = "milestone"
	TypeSprint       ResourceType = "sprint"
	TypeRelationship ResourceType = "relationship"
	TypePullRequest  ResourceType = "pull_request"
	TypeLabel        ResourceType = "label"
	TypeView         ResourceType = "view"
	TypeField        ResourceType = "field"
	TypeComment      ResourceType = "comment"
	TypeQuery        ResourceType = "query"
)

// Key identifies one cached resource.
type Key struct {
	Type ResourceType
	ID   string
}

// String returns "type:id".
func (k Key) String() string {
	return string(k.Type) + ":" + k.ID
}

// Validate checks both parts of the key.
func (k Key) Validate() error {
	if err := ValidateKey(string(k.Type)); err != nil {
		return err
	}
	return ValidateKey(k.ID)
}

// ValidateKey checks if a key component is valid for caching.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}

// SetOptions carries the optional attributes of a cache write.
type SetOptions struct {
	// TTL overrides the policy default. Zero means "use the default";
	// a negative value (see NoCache) stores nothing.
	TTL time.Duration

	// Tags are free-form labels usable with GetByTag and InvalidateTag.
	Tags []string

	// Namespace groups entries for GetByNamespace and InvalidateNamespace.
	Namespace string
}

// Cache is the subset of ResourceCache that ReadThrough and the access
// layer depend on.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: methods never fail; a broken cache behaves as an empty one.
type Cache[V any] interface {
	Get(ctx context.Context, t ResourceType, id string, requireTags ...string) (V, bool)
	Set(ctx context.Context, t ResourceType, id string, value V, opts SetOptions)
	Delete(ctx context.Context, t ResourceType, id string) bool
}
