// Package storage is a transactional key-value store with secondary indexes,
// split into named collections. Every operation runs in its own transaction
// that is finished before the call returns, so no caller ever holds the
// database across unrelated work.
package storage

import (
	"context"
)

// Schema declares a collection and the secondary indexes kept for it.
type Schema struct {
	Name    string
	Indexes []Index
}

// Index is a secondary index over a JSON path of each stored value. Values
// without the path are left out of the index.
type Index struct {
	Name string
	Path string
}

// Entry is one stored record. IndexKey is set when the entry was produced by
// a cursor over an index.
type Entry struct {
	Key      string
	Value    []byte
	IndexKey any
}

// Direction is the iteration order of a cursor.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

// KeyRange bounds a cursor. A nil bound is unbounded.
type KeyRange struct {
	Lower     any
	Upper     any
	LowerOpen bool
	UpperOpen bool
}

// Only matches a single key.
func Only(key any) *KeyRange {
	return &KeyRange{Lower: key, Upper: key}
}

// LowerBound matches keys above key.
func LowerBound(key any, open bool) *KeyRange {
	return &KeyRange{Lower: key, LowerOpen: open}
}

// UpperBound matches keys below key.
func UpperBound(key any, open bool) *KeyRange {
	return &KeyRange{Upper: key, UpperOpen: open}
}

// CursorOptions selects what a cursor walks. With an empty Index the cursor
// walks primary keys.
type CursorOptions struct {
	Index     string
	Range     *KeyRange
	Direction Direction
	Limit     int
}

// Tx is the view of a collection inside a DBOp transaction.
type Tx interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
}

// Cursor iterates entries lazily. It owns a transaction until Next returns
// false or Close is called, whichever comes first. Close is safe to call more
// than once.
type Cursor interface {
	Next() bool
	Entry() Entry
	Err() error
	Close() error
}

// Store defines the operations on one collection.
type Store interface {
	// Name returns the collection name.
	Name() string

	// DBOp runs fn in a single transaction, committing if fn returns nil.
	DBOp(ctx context.Context, fn func(tx Tx) error) error

	// Get returns the value stored under key, or model.ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// MultiGet returns the values for keys in order, with nil for missing keys.
	MultiGet(ctx context.Context, keys []string) ([][]byte, error)

	// MultiSet stores all entries in one transaction.
	MultiSet(ctx context.Context, entries []Entry) error

	// MultiDelete removes all keys in one transaction.
	MultiDelete(ctx context.Context, keys []string) error

	// Cursor opens a cursor. The caller must drain or Close it.
	Cursor(ctx context.Context, opts CursorOptions) (Cursor, error)

	// Each calls fn for every entry the cursor yields until fn returns false
	// or an error. The cursor is always closed before Each returns.
	Each(ctx context.Context, opts CursorOptions, fn func(Entry) (bool, error)) error
}
