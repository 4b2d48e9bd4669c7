package auth

import (
	"context"
	"errors"
	"net/http"
)

// Authenticator validates the credentials carried by request headers.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Authenticate returns ErrMissingCredentials when the headers carry no
//   credential it understands, so a Chain can try the next one.
type Authenticator interface {
	Name() string
	Authenticate(ctx context.Context, h http.Header) (*Identity, error)
}

// Chain tries authenticators in order. The first that finds credentials
// decides the outcome.
type Chain []Authenticator

func (c Chain) Name() string { return "chain" }

func (c Chain) Authenticate(ctx context.Context, h http.Header) (*Identity, error) {
	for _, a := range c {
		id, err := a.Authenticate(ctx, h)
		if errors.Is(err, ErrMissingCredentials) {
			continue
		}
		return id, err
	}
	return nil, ErrMissingCredentials
}

var _ Authenticator = Chain(nil)
