package cache

import (
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerCache is a persistent Cache backed by a local badger database.
// Cached model responses survive process restarts, so repeated identical
// queries across sessions stay free.
type BadgerCache struct {
	db *badger.DB
}

// NewBadgerCache opens (or creates) a badger database at dir.
func NewBadgerCache(dir string) (*BadgerCache, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger cache at %s: %w", dir, err)
	}
	return &BadgerCache{db: db}, nil
}

// Get implements Cache.
func (c *BadgerCache) Get(key string) ([]byte, bool) {
	var value []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			// Treat read failures as misses; the caller re-issues the call.
		}
		return nil, false
	}
	return value, true
}

// Set implements Cache.
func (c *BadgerCache) Set(key string, value []byte) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

// Close implements Cache.
func (c *BadgerCache) Close() error {
	return c.db.Close()
}
