package secret

import (
	"errors"
	"strings"
)

var (
	ErrUnknownProvider = errors.New("secret: provider not registered")
	ErrEmptySecret     = errors.New("secret: resolved to empty value")
	ErrNotFound        = errors.New("secret: not found")
)

// MissingEnvError lists ${VAR} references with no environment value.
type MissingEnvError struct {
	Names []string
}

func (e *MissingEnvError) Error() string {
	return "secret: missing environment variables: " + strings.Join(e.Names, ", ")
}
