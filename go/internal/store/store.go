// Package store defines the shared state store the session engine runs on: a
// path-addressed tree of JSON leaves with change subscriptions and guarded,
// atomic multi-path updates.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned by Get when no value exists at the path.
	ErrNotFound = errors.New("path not found")
	// ErrUnavailable wraps transport or database failures of a store adapter.
	ErrUnavailable = errors.New("store unavailable")
)

// Guard is a precondition of an Update. A nil Expect requires the path to be
// absent; otherwise the stored value must equal Expect.
type Guard struct {
	Path   string
	Expect []byte
}

// Absent guards that nothing is stored at path.
func Absent(path string) Guard {
	return Guard{Path: path}
}

// Equals guards that the value at path equals the JSON encoding of v.
func Equals(path string, v any) Guard {
	return Guard{Path: path, Expect: MustMarshal(v)}
}

// Change is delivered to subscribers for every written leaf. Value is nil
// when the leaf was deleted.
type Change struct {
	Path  string
	Value []byte
}

// Store is the shared state store.
type Store interface {
	// Get returns the value stored at path or ErrNotFound.
	Get(ctx context.Context, path string) ([]byte, error)
	// List returns every leaf at or below prefix keyed by full path.
	List(ctx context.Context, prefix string) (map[string][]byte, error)
	// Update applies all writes atomically if every guard holds and reports
	// whether it did. A nil value deletes the leaf.
	Update(ctx context.Context, writes map[string][]byte, guards ...Guard) (bool, error)
	// Subscribe registers fn for changes at or below prefix. The returned
	// func detaches the subscription and is safe to call more than once.
	Subscribe(ctx context.Context, prefix string, fn func(Change)) (func(), error)
}

// Set writes a single leaf unconditionally.
func Set(ctx context.Context, s Store, path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	_, err = s.Update(ctx, map[string][]byte{path: data})
	return err
}

// GetJSON decodes the value at path into v.
func GetJSON(ctx context.Context, s Store, path string, v any) error {
	data, err := s.Get(ctx, path)
	if err != nil {
		return err
	}
	return Unmarshal(path, data, v)
}

// Unmarshal decodes the leaf read from path into v.
func Unmarshal(path string, data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// MustMarshal encodes values the engine itself builds; they always encode.
func MustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("store: marshal %T: %v", v, err))
	}
	return data
}

// Matches reports whether path lies at or below prefix.
func Matches(path, prefix string) bool {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" || path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}

// SameValue compares two JSON leaves, ignoring insignificant whitespace.
func SameValue(a, b []byte) bool {
	if bytes.Equal(a, b) {
		return true
	}
	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return false
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}
