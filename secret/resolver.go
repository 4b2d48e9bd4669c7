package secret

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const refPrefix = "secretref:"

// Resolver expands environment references and resolves secret references
// against its providers. A nil *Resolver only expands the environment.
type Resolver struct {
	providers map[string]Provider
	strict    bool
}

// NewResolver creates a resolver over providers. With strict set, a
// reference resolving to "" is an error.
func NewResolver(strict bool, providers ...Provider) *Resolver {
	r := &Resolver{providers: make(map[string]Provider, len(providers)), strict: strict}
	for _, p := range providers {
		if p != nil {
			r.providers[p.Name()] = p
		}
	}
	return r
}

// DefaultResolver resolves "env" and "file" references strictly.
func DefaultResolver() *Resolver {
	return NewResolver(true, EnvProvider{}, FileProvider{})
}

// ResolveValue returns value with environment and secret references
// resolved.
func (r *Resolver) ResolveValue(ctx context.Context, value string) (string, error) {
	expanded, err := ExpandEnvStrict(value)
	if err != nil || r == nil {
		return expanded, err
	}
	if provider, ref, ok := ParseRef(expanded); ok {
		return r.resolve(ctx, provider, ref)
	}
	return r.resolveEmbedded(ctx, expanded)
}

// ResolveInto resolves each pointed-to string in place. It stops at the
// first failure.
func (r *Resolver) ResolveInto(ctx context.Context, fields map[string]*string) error {
	for name, field := range fields {
		if field == nil || *field == "" {
			continue
		}
		v, err := r.ResolveValue(ctx, *field)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*field = v
	}
	return nil
}

// ResolveSlice resolves every element of values.
func (r *Resolver) ResolveSlice(ctx context.Context, values []string) ([]string, error) {
	out := make([]string, len(values))
	for i, v := range values {
		resolved, err := r.ResolveValue(ctx, v)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out[i] = resolved
	}
	return out, nil
}

// Close closes every provider.
func (r *Resolver) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, p := range r.providers {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}

// ParseRef splits a whole-value reference "secretref:<provider>:<ref>".
func ParseRef(value string) (provider, ref string, ok bool) {
	rest, found := strings.CutPrefix(value, refPrefix)
	if !found {
		return "", "", false
	}
	provider, ref, found = strings.Cut(rest, ":")
	if !found || provider == "" || ref == "" {
		return "", "", false
	}
	return provider, ref, true
}

func (r *Resolver) resolve(ctx context.Context, provider, ref string) (string, error) {
	p, ok := r.providers[provider]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	v, err := p.Resolve(ctx, ref)
	if err != nil {
		return "", err
	}
	if r.strict && v == "" {
		return "", fmt.Errorf("%w: %s:%s", ErrEmptySecret, provider, ref)
	}
	return v, nil
}

var embeddedRef = regexp.MustCompile(`secretref:([^:\s]+):(\S+)`)

func (r *Resolver) resolveEmbedded(ctx context.Context, value string) (string, error) {
	var firstErr error
	out := embeddedRef.ReplaceAllStringFunc(value, func(m string) string {
		if firstErr != nil {
			return m
		}
		provider, ref, _ := ParseRef(m)
		v, err := r.resolve(ctx, provider, ref)
		if err != nil {
			firstErr = err
			return m
		}
		return v
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}
