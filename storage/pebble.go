package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/cockroachdb/pebble"
)

// Value format: [timestamp (8 bytes)] [data]
const valueHeaderSize = 8

// PebbleStore persists values in a local pebble database.
type PebbleStore struct {
	db *pebble.DB
}

// NewPebbleStore opens (or creates) the database at path.
func NewPebbleStore(path string, cacheSizeMB int) (*PebbleStore, error) {
	if cacheSizeMB <= 0 {
		cacheSizeMB = 8
	}
	cache := pebble.NewCache(int64(cacheSizeMB * 1024 * 1024))
	defer cache.Unref()

	db, err := pebble.Open(path, &pebble.Options{
		Cache: cache,
	})
	if err != nil {
		return nil, err
	}

	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Get(_ context.Context, key string) ([]byte, error) {
	res, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	if len(res) < valueHeaderSize {
		return nil, ErrNotFound
	}

	data := make([]byte, len(res)-valueHeaderSize)
	copy(data, res[valueHeaderSize:])
	return data, nil
}

func (s *PebbleStore) Set(_ context.Context, key string, value []byte) error {
	stored := make([]byte, valueHeaderSize+len(value))
	binary.BigEndian.PutUint64(stored[:valueHeaderSize], uint64(time.Now().UnixNano()))
	copy(stored[valueHeaderSize:], value)

	return s.db.Set([]byte(key), stored, pebble.Sync)
}

func (s *PebbleStore) Remove(_ context.Context, key string) error {
	return s.db.Delete([]byte(key), pebble.Sync)
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}
