// Package kv provides the key-value store used for run-local state that is
// too fine-grained for the file store: cached mel features keyed by audio
// file, and per-step training statistics written by the dashboard.
//
// Keys are hierarchical paths such as Key{"train", "stats", "0000000100"},
// encoded with a separator byte (default ':'). Values are opaque bytes;
// GetValue and SetValue encode typed values with msgpack.
//
// Badger backs on-disk stores. Memory is a sorted in-memory store for tests
// and for runs without a cache directory.
package kv

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("kv: not found")

// Key is a hierarchical path of string segments. Segments must not contain
// the store's separator.
type Key []string

// String joins the segments with ':' for display.
func (k Key) String() string {
	return strings.Join(k, ":")
}

// Entry is a key-value pair returned by List and written by BatchSet.
type Entry struct {
	Key   Key
	Value []byte
}

// Store is a key-value store with path-based keys.
// Implementations must be safe for concurrent use; data loader workers
// read and fill the feature cache in parallel.
type Store interface {
	// Get returns ErrNotFound if key is not present.
	Get(ctx context.Context, key Key) ([]byte, error)

	// Set stores value under key, overwriting any previous value.
	Set(ctx context.Context, key Key, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key Key) error

	// List iterates over entries under prefix in lexicographic key order.
	List(ctx context.Context, prefix Key) iter.Seq2[Entry, error]

	// BatchSet stores all entries atomically.
	BatchSet(ctx context.Context, entries []Entry) error

	Close() error
}

// GetValue reads key and decodes it as msgpack into a T.
func GetValue[T any](ctx context.Context, s Store, key Key) (T, error) {
	var v T
	data, err := s.Get(ctx, key)
	if err != nil {
		return v, err
	}
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("kv: decode %s: %w", key, err)
	}
	return v, nil
}

// SetValue encodes v as msgpack and stores it under key.
func SetValue(ctx context.Context, s Store, key Key, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("kv: encode %s: %w", key, err)
	}
	return s.Set(ctx, key, data)
}

// DefaultSeparator joins key segments in storage.
const DefaultSeparator byte = ':'

// Options configures key encoding.
type Options struct {
	// Separator defaults to ':' when zero.
	Separator byte
}

func (o *Options) sep() byte {
	if o != nil && o.Separator != 0 {
		return o.Separator
	}
	return DefaultSeparator
}

func (o *Options) encode(k Key) []byte {
	s := o.sep()
	n := 0
	for i, seg := range k {
		if i > 0 {
			n++
		}
		n += len(seg)
	}
	buf := make([]byte, 0, n)
	for i, seg := range k {
		if i > 0 {
			buf = append(buf, s)
		}
		buf = append(buf, seg...)
	}
	return buf
}

// prefix returns the encoded scan prefix for p. A trailing separator keeps
// "a:b" from matching "a:bc"; an empty prefix scans everything.
func (o *Options) prefix(p Key) []byte {
	b := o.encode(p)
	if len(b) == 0 {
		return nil
	}
	return append(b, o.sep())
}

func (o *Options) decode(b []byte) Key {
	return Key(strings.Split(string(b), string(o.sep())))
}
