package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testKey = []byte("admin-signing-key")

func bearer(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}

func TestJWTAuthenticator(t *testing.T) {
	a, err := NewJWTAuthenticator(JWTConfig{Key: testKey, Issuer: "resaccess"})
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()

	valid, _ := IssueToken(testKey, "resaccess", "ops@example.com", []string{"admin"}, time.Hour, now)
	expired, _ := IssueToken(testKey, "resaccess", "ops@example.com", nil, time.Minute, now.Add(-time.Hour))
	otherIssuer, _ := IssueToken(testKey, "elsewhere", "ops@example.com", nil, time.Hour, now)
	wrongKey, _ := IssueToken([]byte("other-key"), "resaccess", "ops@example.com", nil, time.Hour, now)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "x", "iss": "resaccess"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name    string
		header  http.Header
		wantErr error
	}{
		{"valid", bearer(valid), nil},
		{"no header", http.Header{}, ErrMissingCredentials},
		{"basic auth", http.Header{"Authorization": {"Basic Zm9vOmJhcg=="}}, ErrMissingCredentials},
		{"expired", bearer(expired), ErrTokenExpired},
		{"garbage", bearer("not.a.jwt"), ErrTokenMalformed},
		{"wrong issuer", bearer(otherIssuer), ErrInvalidCredentials},
		{"wrong key", bearer(wrongKey), ErrInvalidCredentials},
		{"alg none", bearer(none), ErrInvalidCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := a.Authenticate(context.Background(), tt.header)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Authenticate error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if id.Principal != "ops@example.com" || !id.HasRole("admin") || id.Method != MethodJWT {
				t.Errorf("identity = %+v", id)
			}
			if id.ExpiresAt.IsZero() {
				t.Error("ExpiresAt not set")
			}
		})
	}
}

func TestNewJWTAuthenticator_RequiresKey(t *testing.T) {
	if _, err := NewJWTAuthenticator(JWTConfig{}); !errors.Is(err, ErrNoKey) {
		t.Errorf("error = %v, want ErrNoKey", err)
	}
	if _, err := IssueToken(nil, "", "x", nil, 0, time.Now()); !errors.Is(err, ErrNoKey) {
		t.Errorf("IssueToken error = %v, want ErrNoKey", err)
	}
}

func TestAPIKeyAuthenticator(t *testing.T) {
	a := NewAPIKeyAuthenticator([]string{"key-one", " ", "key-two"}, "reader")

	id, err := a.Authenticate(context.Background(), http.Header{http.CanonicalHeaderKey(APIKeyHeader): {"key-two"}})
	if err != nil {
		t.Fatal(err)
	}
	if id.Method != MethodAPIKey || !id.HasRole("reader") || id.HasRole("admin") {
		t.Errorf("identity = %+v", id)
	}

	if _, err := a.Authenticate(context.Background(), http.Header{http.CanonicalHeaderKey(APIKeyHeader): {"nope"}}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown key error = %v", err)
	}
	if _, err := a.Authenticate(context.Background(), http.Header{}); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("missing key error = %v", err)
	}
}

func TestChain(t *testing.T) {
	jwtAuth, _ := NewJWTAuthenticator(JWTConfig{Key: testKey})
	chain := Chain{jwtAuth, NewAPIKeyAuthenticator([]string{"k"}, "admin")}

	id, err := chain.Authenticate(context.Background(), http.Header{http.CanonicalHeaderKey(APIKeyHeader): {"k"}})
	if err != nil || id.Method != MethodAPIKey {
		t.Fatalf("api key via chain = %+v, %v", id, err)
	}

	// A bad bearer token is not rescued by a later authenticator.
	h := bearer("bad")
	h.Set(APIKeyHeader, "k")
	if _, err := chain.Authenticate(context.Background(), h); !errors.Is(err, ErrTokenMalformed) {
		t.Errorf("bad bearer error = %v", err)
	}

	if _, err := chain.Authenticate(context.Background(), http.Header{}); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("empty chain error = %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	a := NewAPIKeyAuthenticator([]string{"reader-key"}, "reader")
	var seen *Identity
	h := Middleware(a, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = IdentityFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/events", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	var body map[string]string
	_ = json.NewDecoder(rec.Body).Decode(&body)
	if body["error"] != ErrMissingCredentials.Error() {
		t.Errorf("body = %v", body)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/events", nil)
	req.Header.Set(APIKeyHeader, "reader-key")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || seen == nil || !seen.HasRole("reader") {
		t.Errorf("status = %d, identity = %+v", rec.Code, seen)
	}
}

func TestRequireRole(t *testing.T) {
	h := RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, tt := range []struct {
		id   *Identity
		want int
	}{
		{nil, http.StatusForbidden},
		{&Identity{Roles: []string{"reader"}}, http.StatusForbidden},
		{&Identity{Roles: []string{"reader", "admin"}}, http.StatusNoContent},
	} {
		req := httptest.NewRequest(http.MethodPost, "/v1/events/rotate", nil)
		req = req.WithContext(WithIdentity(req.Context(), tt.id))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("identity %+v: status = %d, want %d", tt.id, rec.Code, tt.want)
		}
	}
}
