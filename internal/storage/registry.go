package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cockroachdb/pebble"

	"github.com/Veraticus/sightings/internal/registry"
)

const (
	importBatchSize  = 1000
	scanCancelStride = 1024
)

// Registry is the Pebble-backed vehicle registry.
type Registry struct {
	store *Store
}

var _ registry.Lookup = (*Registry)(nil)

// NewRegistry returns the registry table of store.
func NewRegistry(store *Store) *Registry {
	return &Registry{store: store}
}

func registryKey(plate string) string {
	return registryPrefix + plate
}

// LookupExact implements registry.Lookup.
func (r *Registry) LookupExact(ctx context.Context, plate string) (*registry.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec registry.Record
	found, err := r.store.getJSON(registryKey(registry.NormalizePlate(plate)), &rec)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

// Scan implements registry.Lookup. Keys sort by plate, so results do too.
func (r *Registry) Scan(ctx context.Context, pred registry.Predicate) ([]registry.Record, error) {
	var out []registry.Record
	seen := 0

	err := r.store.scanPrefix(registryPrefix, func(_, value []byte) (bool, error) {
		seen++
		if seen%scanCancelStride == 0 {
			if err := ctx.Err(); err != nil {
				return false, err
			}
		}

		var rec registry.Record
		if err := json.Unmarshal(value, &rec); err != nil {
			return false, fmt.Errorf("decode registry record: %w", err)
		}
		if pred == nil || pred(rec) {
			out = append(out, rec)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Import upserts records in batches and returns how many were written.
// Records without a plate are skipped.
func (r *Registry) Import(ctx context.Context, records []registry.Record) (int, error) {
	if err := r.store.Ping(); err != nil {
		return 0, err
	}

	written := 0
	batch := r.store.db.NewBatch()
	defer func() { _ = batch.Close() }()

	pending := 0
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		rec.Plate = registry.NormalizePlate(rec.Plate)
		if rec.Plate == "" {
			continue
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return written, fmt.Errorf("encode record %s: %w", rec.Plate, err)
		}
		if err := batch.Set([]byte(registryKey(rec.Plate)), data, nil); err != nil {
			return written, fmt.Errorf("stage record %s: %w", rec.Plate, err)
		}
		pending++

		if pending >= importBatchSize {
			if err := batch.Commit(pebble.Sync); err != nil {
				return written, fmt.Errorf("commit registry batch: %w", err)
			}
			written += pending
			pending = 0
			_ = batch.Close()
			batch = r.store.db.NewBatch()
		}
	}

	if pending > 0 {
		if err := batch.Commit(pebble.Sync); err != nil {
			return written, fmt.Errorf("commit registry batch: %w", err)
		}
		written += pending
	}

	r.store.logger.InfoContext(ctx, "Imported registry records", slog.Int("count", written))
	return written, nil
}

// Count returns the number of registry records.
func (r *Registry) Count(ctx context.Context) (int, error) {
	n := 0
	err := r.store.scanPrefix(registryPrefix, func(_, _ []byte) (bool, error) {
		n++
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	return n, ctx.Err()
}
