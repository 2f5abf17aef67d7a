package storage

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
)

// GetJSON reads key from s and decodes it into a T.
func GetJSON[T any](ctx context.Context, s Store, key string) (T, error) {
	var v T
	data, err := s.Get(ctx, key)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode %s/%s: %w", s.Name(), key, err)
	}
	return v, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON[T any](ctx context.Context, s Store, key string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", s.Name(), key, err)
	}
	return s.Set(ctx, key, data)
}

// MultiGetJSON reads keys from s. Missing keys are left out of the result.
func MultiGetJSON[T any](ctx context.Context, s Store, keys []string) (map[string]T, error) {
	values, err := s.MultiGet(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make(map[string]T, len(keys))
	for i, data := range values {
		if data == nil {
			continue
		}
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", s.Name(), keys[i], err)
		}
		out[keys[i]] = v
	}
	return out, nil
}

// DecodeEntry decodes the value of a cursor entry.
func DecodeEntry[T any](e Entry) (T, error) {
	var v T
	if err := json.Unmarshal(e.Value, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", e.Key, err)
	}
	return v, nil
}
