package auth

import "errors"

var (
	ErrMissingCredentials = errors.New("auth: missing credentials")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrTokenExpired       = errors.New("auth: token expired")
	ErrTokenMalformed     = errors.New("auth: token malformed")
	ErrNoKey              = errors.New("auth: signing key is empty")
	ErrForbidden          = errors.New("auth: access denied")
)
