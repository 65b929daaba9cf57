package registry

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-memory registry snapshot.
type Memory struct {
	records map[string]Record
	plates  []string
	mu      sync.RWMutex
}

var _ Lookup = (*Memory)(nil)

// NewMemory builds a snapshot from records. Later duplicates of a plate win.
func NewMemory(records ...Record) *Memory {
	m := &Memory{records: make(map[string]Record, len(records))}
	m.Replace(records)
	return m
}

// Replace swaps the whole snapshot atomically.
func (m *Memory) Replace(records []Record) {
	byPlate := make(map[string]Record, len(records))
	for _, rec := range records {
		rec.Plate = NormalizePlate(rec.Plate)
		if rec.Plate == "" {
			continue
		}
		byPlate[rec.Plate] = rec
	}

	plates := make([]string, 0, len(byPlate))
	for plate := range byPlate {
		plates = append(plates, plate)
	}
	sort.Strings(plates)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = byPlate
	m.plates = plates
}

// Len returns the number of records in the snapshot.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.plates)
}

// LookupExact implements Lookup.
func (m *Memory) LookupExact(ctx context.Context, plate string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[NormalizePlate(plate)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Scan implements Lookup.
func (m *Memory) Scan(ctx context.Context, pred Predicate) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Record
	for i, plate := range m.plates {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec := m.records[plate]
		if pred == nil || pred(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}
