package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jonwraymond/resaccess/observe"
)

// Middleware authenticates every request with a. Failures get a JSON 401;
// successes carry the Identity in the request context.
func Middleware(a Authenticator, logger observe.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observe.NopLogger()
	}
	logger = logger.With(observe.Component("auth"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := a.Authenticate(r.Context(), r.Header)
			if err != nil {
				logger.Debug(r.Context(), "request rejected",
					observe.F("path", r.URL.Path), observe.Err(err))
				w.Header().Set("WWW-Authenticate", `Bearer realm="resaccess"`)
				writeError(w, http.StatusUnauthorized, publicMessage(err))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireRole rejects requests whose identity lacks role with 403.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !IdentityFromContext(r.Context()).HasRole(role) {
				writeError(w, http.StatusForbidden, ErrForbidden.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func publicMessage(err error) string {
	for _, known := range []error{ErrMissingCredentials, ErrTokenExpired, ErrTokenMalformed} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return ErrInvalidCredentials.Error()
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
