// Package kv provides the key-value store behind call records. Keys are
// hierarchical paths (e.g. ["call", callSid, "lead"]) encoded with a ':'
// separator, so everything written for one call lists under a single
// prefix.
//
// The package includes a BadgerDB-backed implementation for production
// use and an in-memory implementation for testing.
package kv

import (
	"context"
	"errors"
	"iter"
	"strings"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("kv: not found")

// separator joins key segments in the encoded form. Segments must not
// contain it.
const separator byte = ':'

// Key is a hierarchical path represented as a slice of string segments.
// Key{"call", "CA123", "lead"} encodes to "call:CA123:lead".
type Key []string

// String returns the encoded form of the key.
func (k Key) String() string {
	return strings.Join(k, string(separator))
}

// Entry is a key-value pair returned by List and used by BatchSet.
type Entry struct {
	Key   Key
	Value []byte
}

// Store is the interface for a key-value store with path-based keys.
type Store interface {
	// Get retrieves the value for a key. Returns ErrNotFound if not present.
	Get(ctx context.Context, key Key) ([]byte, error)

	// Set stores a key-value pair. Overwrites any existing value.
	Set(ctx context.Context, key Key, value []byte) error

	// Delete removes a key. No error if the key does not exist.
	Delete(ctx context.Context, key Key) error

	// List iterates over all entries whose key starts with the given prefix.
	// The iteration order is lexicographic by encoded key.
	List(ctx context.Context, prefix Key) iter.Seq2[Entry, error]

	// BatchSet atomically stores multiple key-value pairs.
	BatchSet(ctx context.Context, entries []Entry) error

	// BatchDelete atomically removes multiple keys.
	BatchDelete(ctx context.Context, keys []Key) error

	// Close releases any resources held by the store.
	Close() error
}

// encode converts a Key to its byte representation.
func encode(k Key) []byte {
	n := 0
	for i, seg := range k {
		if i > 0 {
			n++
		}
		n += len(seg)
	}
	buf := make([]byte, n)
	pos := 0
	for i, seg := range k {
		if i > 0 {
			buf[pos] = separator
			pos++
		}
		pos += copy(buf[pos:], seg)
	}
	return buf
}

// decode converts an encoded key back to its segments.
func decode(b []byte) Key {
	parts := strings.Split(string(b), string(separator))
	return Key(parts)
}
