// Package store persists assistant state (settings, conversation turns,
// knowledge items) in an embedded key/value database.
package store

import (
	"context"
	"errors"
	"iter"
	"strings"
)

var ErrNotFound = errors.New("store: not found")

const sep = ":"

// Key is a hierarchical key. Segments are joined with ':' on disk.
type Key []string

func (k Key) String() string { return strings.Join(k, sep) }

func parseKey(b []byte) Key { return Key(strings.Split(string(b), sep)) }

type Entry struct {
	Key   Key
	Value []byte
}

type Store interface {
	Get(ctx context.Context, key Key) ([]byte, error)
	Set(ctx context.Context, key Key, value []byte) error
	Delete(ctx context.Context, key Key) error
	// List yields every entry strictly under prefix in key order.
	List(ctx context.Context, prefix Key) iter.Seq2[Entry, error]
	BatchSet(ctx context.Context, entries []Entry) error
	Close() error
}
