package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// Keyer derives cache ids for list-query results, so the result of
// "list issues in project X with state open" can be cached under
// TypeQuery like any single resource.
//
// Contract:
// - Determinism: equal params produce equal ids regardless of map order.
// - Concurrency: implementations must be safe for concurrent use.
type Keyer interface {
	QueryID(operation string, params any) (string, error)
}

// HashKeyer hashes canonical JSON with SHA-256.
type HashKeyer struct{}

// QueryID returns "<operation>:<hash>" where hash is the first 16 hex
// characters of SHA-256 over the canonical JSON of params.
func (HashKeyer) QueryID(operation string, params any) (string, error) {
	if err := ValidateKey(operation); err != nil {
		return "", fmt.Errorf("cache: operation: %w", err)
	}
	canonical, err := canonicalize(params)
	if err != nil {
		return "", fmt.Errorf("cache: canonicalize params: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return fmt.Sprintf("%s:%s", operation, hex.EncodeToString(sum[:8])), nil
}

// QueryID is HashKeyer{}.QueryID.
func QueryID(operation string, params any) (string, error) {
	return HashKeyer{}.QueryID(operation, params)
}

func canonicalize(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}

	switch val := v.(type) {
	case map[string]any:
		return canonicalizeMap(val)
	case []any:
		return canonicalizeSlice(val)
	case map[string]string:
		m := make(map[string]any, len(val))
		for k, s := range val {
			m[k] = s
		}
		return canonicalizeMap(m)
	default:
		// Structs marshal in field order; maps with string keys are sorted
		// by encoding/json itself.
		return json.Marshal(v)
	}
}

func canonicalizeMap(m map[string]any) ([]byte, error) {
	keys := slices.Sorted(maps.Keys(m))

	result := []byte("{")
	for i, k := range keys {
		if i > 0 {
			result = append(result, ',')
		}

		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		result = append(result, keyBytes...)
		result = append(result, ':')

		valBytes, err := canonicalize(m[k])
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	result = append(result, '}')

	return result, nil
}

func canonicalizeSlice(s []any) ([]byte, error) {
	result := []byte("[")
	for i, v := range s {
		if i > 0 {
			result = append(result, ',')
		}

		valBytes, err := canonicalize(v)
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	result = append(result, ']')

	return result, nil
}

var _ Keyer = HashKeyer{}
