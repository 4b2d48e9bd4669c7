package secret

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Provider resolves a reference to a secret value. Implementations must be
// safe for concurrent use and must never log the values they return.
type Provider interface {
	Name() string
	Resolve(ctx context.Context, ref string) (string, error)
	Close() error
}

// EnvProvider resolves references as environment variable names.
type EnvProvider struct {
	// Lookup defaults to os.LookupEnv.
	Lookup func(string) (string, bool)
}

func (EnvProvider) Name() string { return "env" }

func (p EnvProvider) Resolve(_ context.Context, ref string) (string, error) {
	lookup := p.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, ok := lookup(ref)
	if !ok {
		return "", fmt.Errorf("%w: env %s", ErrNotFound, ref)
	}
	return v, nil
}

func (EnvProvider) Close() error { return nil }

// FileProvider resolves references as file paths, the way container
// runtimes mount secrets. Relative paths are joined to Dir. Surrounding
// whitespace is trimmed from the content.
type FileProvider struct {
	Dir string
}

func (FileProvider) Name() string { return "file" }

func (p FileProvider) Resolve(_ context.Context, ref string) (string, error) {
	path := ref
	if !filepath.IsAbs(path) && p.Dir != "" {
		path = filepath.Join(p.Dir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: file %s", ErrNotFound, ref)
		}
		return "", fmt.Errorf("secret: read %s: %w", ref, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (FileProvider) Close() error { return nil }
