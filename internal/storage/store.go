// Package storage keeps the registry, sessions, and finalized sightings in a
// single Pebble database, each under its own key prefix.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cockroachdb/pebble"
)

// Key prefixes. Every prefix ends in ':' so the matching upper bound is the
// same prefix with ';'.
const (
	registryPrefix    = "registry:plate:"
	sessionPrefix     = "session:"
	sightingPrefix    = "sighting:id:"
	sightingTimeIndex = "sighting:time:"
	sightingPlateIdx  = "sighting:plate:"
	sightingWhoIdx    = "sighting:identity:"
)

// ErrClosed indicates the store has been closed.
var ErrClosed = errors.New("storage closed")

// Store is an open Pebble database.
type Store struct {
	db     *pebble.DB
	logger *slog.Logger
}

// Open opens (or creates) a Pebble database at path.
func Open(path string) (*Store, error) {
	logger := slog.Default().With(slog.String("component", "storage"))

	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	logger.Info("Opened pebble database", slog.String("path", path))

	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close pebble: %w", err)
	}
	s.db = nil
	return nil
}

// Ping reports whether the database is open.
func (s *Store) Ping() error {
	if s.db == nil {
		return ErrClosed
	}
	return nil
}

func (s *Store) getJSON(key string, v any) (bool, error) {
	if s.db == nil {
		return false, ErrClosed
	}
	data, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	defer closer.Close()

	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) setJSON(key string, v any) error {
	if s.db == nil {
		return ErrClosed
	}
	data, err := jsonMarshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.db.Set([]byte(key), data, pebble.Sync); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *Store) delete(key string) error {
	if s.db == nil {
		return ErrClosed
	}
	if err := s.db.Delete([]byte(key), pebble.Sync); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func jsonMarshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	return data, nil
}

// scanPrefix calls fn for every key under prefix in key order. fn returns
// false to stop early.
func (s *Store) scanPrefix(prefix string, fn func(key, value []byte) (bool, error)) error {
	if s.db == nil {
		return ErrClosed
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("iterate %s: %w", prefix, err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		more, err := fn(iter.Key(), iter.Value())
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("iterate %s: %w", prefix, err)
	}
	return nil
}

// upperBound returns the smallest key greater than every key with prefix.
func upperBound(prefix string) []byte {
	end := []byte(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
