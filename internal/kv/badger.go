package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore persists values in an embedded badger database directory.
// It is the default backend for on-device state.
type BadgerStore struct {
	db *badger.DB
}

var _ Store = (*BadgerStore)(nil)

// OpenBadgerStore opens (or creates) a badger database at dir.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	if dir == "" {
		return nil, errors.New("badger store: directory is required")
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger store: open %s: %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

// Get returns the value stored under key.
func (s *BadgerStore) Get(_ context.Context, key string) (string, bool, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(out), true, nil
}

// Set stores value under key.
func (s *BadgerStore) Set(_ context.Context, key, value string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	})
}

// Delete removes key.
func (s *BadgerStore) Delete(_ context.Context, key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// Close flushes and closes the database.
func (s *BadgerStore) Close() error { return s.db.Close() }
