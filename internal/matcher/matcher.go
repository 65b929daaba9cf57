// Package matcher resolves free-form plate text against a registry snapshot.
//
// Matching runs in three tiers and stops at the first tier that produces a
// candidate: an exact key lookup, a fixed-length wildcard scan where each '*'
// stands for exactly one character, and finally a bounded edit-distance scan.
// Output ordering depends only on the registry contents and the input text.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Veraticus/sightings/internal/registry"
)

// WildcardMarker stands for exactly one unknown plate character.
const WildcardMarker = '*'

const (
	// MaxFuzzyDistance is the largest edit distance reported as a fuzzy match.
	MaxFuzzyDistance = 2

	// MaxLengthDelta bounds how much a fuzzy candidate's length may differ from the input.
	MaxLengthDelta = 2

	shortFormDigits = 6
)

var (
	// ErrMalformedPlate indicates the text is empty after normalization.
	ErrMalformedPlate = errors.New("malformed plate text")

	// ErrRegistryUnavailable indicates the registry lookup failed or timed out.
	ErrRegistryUnavailable = errors.New("registry unavailable")
)

// Kind identifies which tier produced a candidate.
type Kind string

const (
	// KindExact is a direct key hit.
	KindExact Kind = "EXACT"
	// KindWildcard is a fixed-length pattern hit.
	KindWildcard Kind = "WILDCARD"
	// KindFuzzy is a near miss within MaxFuzzyDistance edits.
	KindFuzzy Kind = "FUZZY"
)

// Candidate is a ranked registry record.
type Candidate struct {
	Record   registry.Record `json:"record"`
	Kind     Kind            `json:"kind"`
	Distance int             `json:"distance"`
}

// Options adjusts a single match call.
type Options struct {
	// VINPrefix overrides registry.FiskerVINPrefix when FiskerOnly is set.
	VINPrefix string

	// Limit truncates the ranked result; zero keeps everything.
	Limit int

	// ActiveOnly drops records whose active flag is false.
	ActiveOnly bool

	// FiskerOnly drops records whose VIN lacks the program prefix.
	FiskerOnly bool

	// ExpandShortForm rewrites six bare digits to the T######C plate form.
	ExpandShortForm bool
}

func (o Options) accept(rec registry.Record) bool {
	if o.ActiveOnly && !rec.Active {
		return false
	}
	if o.FiskerOnly {
		prefix := o.VINPrefix
		if prefix == "" {
			prefix = registry.FiskerVINPrefix
		}
		if !rec.HasVINPrefix(prefix) {
			return false
		}
	}
	return true
}

// Normalize returns the comparison form of text under opts.
func Normalize(text string, opts Options) string {
	plate := registry.NormalizePlate(text)
	if opts.ExpandShortForm && len(plate) == shortFormDigits && isDigits(plate) {
		plate = "T" + plate + "C"
	}
	return plate
}

// HasWildcard reports whether normalized text contains the wildcard marker.
func HasWildcard(text string) bool {
	return strings.ContainsRune(text, WildcardMarker)
}

// Match returns candidates for text, highest confidence first.
// An empty result means nothing in the registry is close enough.
func Match(ctx context.Context, lookup registry.Lookup, text string, opts Options) ([]Candidate, error) {
	plate := Normalize(text, opts)
	if plate == "" {
		return nil, ErrMalformedPlate
	}

	var (
		candidates []Candidate
		err        error
	)

	if HasWildcard(plate) {
		candidates, err = matchWildcard(ctx, lookup, plate, opts)
	} else {
		candidates, err = matchExact(ctx, lookup, plate, opts)
		if err == nil && len(candidates) == 0 {
			candidates, err = matchFuzzy(ctx, lookup, plate, opts)
		}
	}
	if err != nil {
		return nil, err
	}

	if opts.Limit > 0 && len(candidates) > opts.Limit {
		candidates = candidates[:opts.Limit]
	}
	return candidates, nil
}

func matchExact(ctx context.Context, lookup registry.Lookup, plate string, opts Options) ([]Candidate, error) {
	rec, err := lookup.LookupExact(ctx, plate)
	if err != nil {
		return nil, fmt.Errorf("%w: exact lookup %s: %w", ErrRegistryUnavailable, plate, err)
	}
	if rec == nil || !opts.accept(*rec) {
		return nil, nil
	}
	return []Candidate{{Record: *rec, Kind: KindExact}}, nil
}

func matchWildcard(ctx context.Context, lookup registry.Lookup, pattern string, opts Options) ([]Candidate, error) {
	compiled := []rune(pattern)
	wildcards := strings.Count(pattern, string(WildcardMarker))

	records, err := lookup.Scan(ctx, func(rec registry.Record) bool {
		return opts.accept(rec) && matchesPattern(compiled, rec.Plate)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: wildcard scan %s: %w", ErrRegistryUnavailable, pattern, err)
	}

	candidates := make([]Candidate, 0, len(records))
	for _, rec := range records {
		candidates = append(candidates, Candidate{Record: rec, Kind: KindWildcard, Distance: wildcards})
	}
	sortCandidates(candidates)
	return candidates, nil
}

func matchFuzzy(ctx context.Context, lookup registry.Lookup, plate string, opts Options) ([]Candidate, error) {
	input := []rune(plate)
	distances := make(map[string]int)

	records, err := lookup.Scan(ctx, func(rec registry.Record) bool {
		if !opts.accept(rec) {
			return false
		}
		target := []rune(rec.Plate)
		if abs(len(target)-len(input)) > MaxLengthDelta {
			return false
		}
		d := Distance(input, target)
		if d > MaxFuzzyDistance {
			return false
		}
		distances[rec.Plate] = d
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("%w: fuzzy scan %s: %w", ErrRegistryUnavailable, plate, err)
	}

	candidates := make([]Candidate, 0, len(records))
	for _, rec := range records {
		candidates = append(candidates, Candidate{Record: rec, Kind: KindFuzzy, Distance: distances[rec.Plate]})
	}
	sortCandidates(candidates)
	return candidates, nil
}

func matchesPattern(pattern []rune, plate string) bool {
	target := []rune(plate)
	if len(target) != len(pattern) {
		return false
	}
	for i, r := range pattern {
		if r != WildcardMarker && r != target[i] {
			return false
		}
	}
	return true
}

// sortCandidates orders by distance, then plate, independent of scan order.
func sortCandidates(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Distance != candidates[j].Distance {
			return candidates[i].Distance < candidates[j].Distance
		}
		return candidates[i].Record.Plate < candidates[j].Record.Plate
	})
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
