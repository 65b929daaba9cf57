package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	"github.com/Veraticus/sightings/internal/controller"
	"github.com/Veraticus/sightings/internal/session"
)

// Sighting is a finalized vehicle sighting.
type Sighting struct {
	CreatedAt       time.Time         `json:"created_at"`
	Location        *session.Location `json:"location,omitempty"`
	ID              string            `json:"id"`
	Identity        string            `json:"identity"`
	Plate           string            `json:"plate"`
	ImageRef        string            `json:"image_ref,omitempty"`
	ContributorName string            `json:"contributor_name,omitempty"`
}

// Sightings is the append-only sighting log. It is the controller's Finalizer.
type Sightings struct {
	store *Store
	now   func() time.Time
	newID func() string
}

var _ controller.Finalizer = (*Sightings)(nil)

// NewSightings returns the sighting log of store.
func NewSightings(store *Store) *Sightings {
	return &Sightings{
		store: store,
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
}

// timeKey sorts chronologically; the ID breaks ties.
func timeKey(prefix string, at time.Time, id string) string {
	return fmt.Sprintf("%s%020d:%s", prefix, at.UTC().UnixNano(), id)
}

// Finalize records a sighting and returns its ID along with the plate,
// overall and contributor tallies that now include it.
func (s *Sightings) Finalize(ctx context.Context, req controller.FinalizeRequest) (controller.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return controller.Receipt{}, err
	}
	if err := s.store.Ping(); err != nil {
		return controller.Receipt{}, err
	}
	if req.Plate == "" {
		return controller.Receipt{}, fmt.Errorf("sighting requires a plate")
	}

	sighting := Sighting{
		ID:              s.newID(),
		Identity:        req.Identity,
		Plate:           req.Plate,
		ImageRef:        req.ImageRef,
		Location:        req.Location,
		ContributorName: req.ContributorName,
		CreatedAt:       s.now().UTC(),
	}

	data, err := jsonMarshal(sighting)
	if err != nil {
		return controller.Receipt{}, err
	}

	batch := s.store.db.NewBatch()
	defer func() { _ = batch.Close() }()

	id := []byte(sighting.ID)
	if err := batch.Set([]byte(sightingPrefix+sighting.ID), data, nil); err != nil {
		return controller.Receipt{}, fmt.Errorf("stage sighting: %w", err)
	}
	if err := batch.Set([]byte(timeKey(sightingTimeIndex, sighting.CreatedAt, sighting.ID)), id, nil); err != nil {
		return controller.Receipt{}, fmt.Errorf("stage sighting time index: %w", err)
	}
	plateIdx := timeKey(sightingPlateIdx+sighting.Plate+":", sighting.CreatedAt, sighting.ID)
	if err := batch.Set([]byte(plateIdx), id, nil); err != nil {
		return controller.Receipt{}, fmt.Errorf("stage sighting plate index: %w", err)
	}
	whoIdx := timeKey(sightingWhoIdx+sighting.Identity+":", sighting.CreatedAt, sighting.ID)
	if err := batch.Set([]byte(whoIdx), id, nil); err != nil {
		return controller.Receipt{}, fmt.Errorf("stage sighting identity index: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return controller.Receipt{}, fmt.Errorf("commit sighting: %w", err)
	}

	s.store.logger.InfoContext(ctx, "Recorded sighting",
		slog.String("sighting_id", sighting.ID),
		slog.String("plate", sighting.Plate))

	receipt := controller.Receipt{SightingID: sighting.ID}
	// The sighting is durable; a failed tally only drops the counts from the reply.
	if err := s.tally(ctx, &receipt, sighting); err != nil {
		s.store.logger.WarnContext(ctx, "Failed to count sightings",
			slog.String("sighting_id", sighting.ID),
			slog.Any("error", err))
		return controller.Receipt{SightingID: sighting.ID}, nil
	}
	return receipt, nil
}

func (s *Sightings) tally(ctx context.Context, receipt *controller.Receipt, sighting Sighting) error {
	var err error
	if receipt.PlateCount, err = s.CountByPlate(ctx, sighting.Plate); err != nil {
		return err
	}
	if receipt.TotalCount, err = s.Count(ctx); err != nil {
		return err
	}
	receipt.ContributorCount, err = s.CountByIdentity(ctx, sighting.Identity)
	return err
}

// Get returns a sighting by ID.
func (s *Sightings) Get(_ context.Context, id string) (*Sighting, error) {
	var out Sighting
	found, err := s.store.getJSON(sightingPrefix+id, &out)
	if err != nil || !found {
		return nil, err
	}
	return &out, nil
}

// List returns sightings oldest first, optionally only for plate. A positive
// limit keeps the most recent limit entries.
func (s *Sightings) List(ctx context.Context, plate string, limit int) ([]Sighting, error) {
	prefix := sightingTimeIndex
	if plate != "" {
		prefix = sightingPlateIdx + plate + ":"
	}

	var ids []string
	err := s.store.scanPrefix(prefix, func(_, value []byte) (bool, error) {
		ids = append(ids, string(value))
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}

	out := make([]Sighting, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sighting, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if sighting != nil {
			out = append(out, *sighting)
		}
	}
	return out, nil
}

// CountByPlate returns how many sightings a plate has.
func (s *Sightings) CountByPlate(_ context.Context, plate string) (int, error) {
	return s.count(sightingPlateIdx + plate + ":")
}

// CountByIdentity returns how many sightings a contributor has logged.
func (s *Sightings) CountByIdentity(_ context.Context, identity string) (int, error) {
	return s.count(sightingWhoIdx + identity + ":")
}

// Count returns the total number of sightings.
func (s *Sightings) Count(_ context.Context) (int, error) {
	return s.count(sightingTimeIndex)
}

func (s *Sightings) count(prefix string) (int, error) {
	n := 0
	err := s.store.scanPrefix(prefix, func(_, _ []byte) (bool, error) {
		n++
		return true, nil
	})
	return n, err
}
