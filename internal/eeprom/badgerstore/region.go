// Package badgerstore persists an eeprom.Region as a single badger value.
package badgerstore

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/BrandonDHaskell/Portunus/relay/internal/eeprom"
)

const keyPrefix = "eeprom/"

// Region mirrors the image in memory and rewrites the stored value on every
// cell change. Badger commits the value atomically, so a cell write is all
// or nothing.
type Region struct {
	db  *badger.DB
	key []byte

	mu    sync.RWMutex
	image []byte
}

// OpenDB opens a badger database in dir, or an in-memory one when dir is "".
func OpenDB(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger open %q: %w", dir, err)
	}
	return db, nil
}

// Open loads the image called name. A missing or short image is padded
// with zeros up to size.
func Open(db *badger.DB, name string, size int) (*Region, error) {
	if name == "" {
		name = "main"
	}
	r := &Region{
		db:    db,
		key:   []byte(keyPrefix + name),
		image: make([]byte, size),
	}

	err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(r.key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			copy(r.image, val)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("badgerstore load %s: %w", name, err)
	}
	return r, nil
}

func (r *Region) ReadCell(addr int) (byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := eeprom.CheckAddr(addr, len(r.image)); err != nil {
		return 0, err
	}
	return r.image[addr], nil
}

func (r *Region) WriteCell(addr int, b byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := eeprom.CheckAddr(addr, len(r.image)); err != nil {
		return err
	}
	if r.image[addr] == b {
		return nil
	}

	next := make([]byte, len(r.image))
	copy(next, r.image)
	next[addr] = b

	if err := r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(r.key, next)
	}); err != nil {
		return fmt.Errorf("badgerstore write [%d]: %w", addr, err)
	}

	r.image = next
	return nil
}

func (r *Region) Size() int { return len(r.image) }
