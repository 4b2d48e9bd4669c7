package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig configures JWTAuthenticator.
type JWTConfig struct {
	// Key is the HMAC signing key.
	Key []byte

	// Issuer, when set, must match the iss claim.
	Issuer string

	// Audience, when set, must appear in the aud claim.
	Audience string

	// RolesClaim names the claim listing roles.
	// Default: "roles"
	RolesClaim string

	// Leeway tolerates clock skew on exp and nbf.
	Leeway time.Duration
}

// Claims are the token claims the admin API reads.
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthenticator validates "Authorization: Bearer <token>" headers.
type JWTAuthenticator struct {
	cfg    JWTConfig
	parser *jwt.Parser
}

// NewJWTAuthenticator creates a JWT authenticator. An empty key is an error.
func NewJWTAuthenticator(cfg JWTConfig) (*JWTAuthenticator, error) {
	if len(cfg.Key) == 0 {
		return nil, ErrNoKey
	}
	if cfg.RolesClaim == "" {
		cfg.RolesClaim = "roles"
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &JWTAuthenticator{cfg: cfg, parser: jwt.NewParser(opts...)}, nil
}

func (a *JWTAuthenticator) Name() string { return "jwt" }

func (a *JWTAuthenticator) Authenticate(_ context.Context, h http.Header) (*Identity, error) {
	raw, ok := strings.CutPrefix(h.Get("Authorization"), "Bearer ")
	if !ok {
		return nil, ErrMissingCredentials
	}

	claims := jwt.MapClaims{}
	_, err := a.parser.ParseWithClaims(strings.TrimSpace(raw), claims, func(*jwt.Token) (any, error) {
		return a.cfg.Key, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenMalformed):
		return nil, ErrTokenMalformed
	default:
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}

	id := &Identity{Method: MethodJWT, Claims: claims}
	id.Principal, _ = claims.GetSubject()
	if exp, _ := claims.GetExpirationTime(); exp != nil {
		id.ExpiresAt = exp.Time
	}
	if roles, ok := claims[a.cfg.RolesClaim].([]any); ok {
		for _, r := range roles {
			if s, ok := r.(string); ok {
				id.Roles = append(id.Roles, s)
			}
		}
	}
	return id, nil
}

// IssueToken signs an HS256 token for subject. A zero ttl issues a token
// without expiry.
func IssueToken(key []byte, issuer, subject string, roles []string, ttl time.Duration, now time.Time) (string, error) {
	if len(key) == 0 {
		return "", ErrNoKey
	}
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   issuer,
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

var _ Authenticator = (*JWTAuthenticator)(nil)
