package registry

import "context"

// Predicate selects records during a scan.
type Predicate func(Record) bool

// Lookup is read-only access to the registry.
// Implementations must return Scan results in ascending plate order and
// stay consistent for the duration of a single match call.
type Lookup interface {
	// LookupExact returns the record for a normalized plate, or nil when absent.
	LookupExact(ctx context.Context, plate string) (*Record, error)

	// Scan returns every record accepted by pred, ordered by plate.
	Scan(ctx context.Context, pred Predicate) ([]Record, error)
}
