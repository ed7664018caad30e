package kv

import (
	"context"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// PutRecord msgpack-encodes v and stores it under key.
func PutRecord(ctx context.Context, s Store, key Key, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("kv: encode %s: %w", key, err)
	}
	return s.Set(ctx, key, data)
}

// GetRecord loads the value under key and msgpack-decodes it into v.
// Returns ErrNotFound if the key does not exist.
func GetRecord(ctx context.Context, s Store, key Key, v any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("kv: decode %s: %w", key, err)
	}
	return nil
}

// RecordEntry msgpack-encodes v into an Entry for use with BatchSet.
func RecordEntry(key Key, v any) (Entry, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return Entry{}, fmt.Errorf("kv: encode %s: %w", key, err)
	}
	return Entry{Key: key, Value: data}, nil
}
