package store

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/bt-bridge/realtime-assistant/shared"
	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

type Badger struct {
	db *badger.DB
}

var _ Store = (*Badger)(nil)

type BadgerOptions struct {
	// Dir is required unless InMemory is set.
	Dir      string
	InMemory bool
	Logger   shared.LoggerAdapter
}

func NewBadger(opts BadgerOptions) (*Badger, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("store: BadgerOptions.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	logger := opts.Logger
	if logger == nil {
		logger = shared.NewNopLogger()
	}
	dbOpts = dbOpts.WithLogger(badgerLogger{logger: logger.With(zap.String("component", "badger"))})
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("on opening badger: %w", err)
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Get(_ context.Context, key Key) ([]byte, error) {
	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key.String()))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return val, err
}

func (b *Badger) Set(_ context.Context, key Key, value []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key.String()), value)
	})
}

func (b *Badger) Delete(_ context.Context, key Key) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key.String()))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (b *Badger) List(_ context.Context, prefix Key) iter.Seq2[Entry, error] {
	// trailing separator so "a:b" does not match "a:bc"
	var p []byte
	if len(prefix) > 0 {
		p = []byte(prefix.String() + sep)
	}
	return func(yield func(Entry, error) bool) {
		err := b.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = p
			it := txn.NewIterator(opts)
			defer it.Close()
			for it.Seek(p); it.ValidForPrefix(p); it.Next() {
				item := it.Item()
				val, err := item.ValueCopy(nil)
				if err != nil {
					if !yield(Entry{}, err) {
						return nil
					}
					continue
				}
				if !yield(Entry{Key: parseKey(item.KeyCopy(nil)), Value: val}, nil) {
					return nil
				}
			}
			return nil
		})
		if err != nil {
			yield(Entry{}, err)
		}
	}
}

func (b *Badger) BatchSet(_ context.Context, entries []Entry) error {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, e := range entries {
		if err := wb.Set([]byte(e.Key.String()), e.Value); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func (b *Badger) Close() error {
	return b.db.Close()
}

// badgerLogger routes badger's printf-style logging into zap. Info and
// debug output from compactions is too chatty and goes to Trace.
type badgerLogger struct {
	logger shared.LoggerAdapter
}

func (l badgerLogger) Errorf(f string, v ...any) {
	l.logger.Error("badger", fmt.Errorf(f, v...))
}

func (l badgerLogger) Warningf(f string, v ...any) {
	l.logger.Warn(fmt.Sprintf(f, v...))
}

func (l badgerLogger) Infof(f string, v ...any) {
	l.logger.Trace(fmt.Sprintf(f, v...))
}

func (l badgerLogger) Debugf(f string, v ...any) {
	l.logger.Trace(fmt.Sprintf(f, v...))
}
