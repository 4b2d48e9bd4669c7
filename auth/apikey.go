package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

// APIKeyHeader carries static API keys.
const APIKeyHeader = "X-API-Key"

// HashAPIKey returns the hex SHA-256 of key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// APIKeyAuthenticator accepts a fixed set of keys. Keys are held only as
// hashes and compared in constant time.
type APIKeyAuthenticator struct {
	hashes [][]byte
	roles  []string
}

// NewAPIKeyAuthenticator accepts keys, granting roles to each. Empty keys
// are ignored.
func NewAPIKeyAuthenticator(keys []string, roles ...string) *APIKeyAuthenticator {
	a := &APIKeyAuthenticator{roles: roles}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			a.hashes = append(a.hashes, []byte(HashAPIKey(k)))
		}
	}
	return a
}

func (a *APIKeyAuthenticator) Name() string { return "api_key" }

func (a *APIKeyAuthenticator) Authenticate(_ context.Context, h http.Header) (*Identity, error) {
	key := strings.TrimSpace(h.Get(APIKeyHeader))
	if key == "" {
		return nil, ErrMissingCredentials
	}
	hash := []byte(HashAPIKey(key))
	match := 0
	for _, known := range a.hashes {
		match |= subtle.ConstantTimeCompare(hash, known)
	}
	if match != 1 {
		return nil, ErrInvalidCredentials
	}
	return &Identity{
		Principal: "api_key:" + string(hash[:12]),
		Method:    MethodAPIKey,
		Roles:     a.roles,
	}, nil
}

var _ Authenticator = (*APIKeyAuthenticator)(nil)
