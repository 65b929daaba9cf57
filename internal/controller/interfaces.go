package controller

import (
	"context"

	"github.com/Veraticus/sightings/internal/session"
)

// FinalizeRequest is a completed sighting handed to the Finalizer.
type FinalizeRequest struct {
	Location        *session.Location
	Identity        string
	Plate           string
	ImageRef        string
	ContributorName string
}

// Receipt describes a recorded sighting. The counts include it.
type Receipt struct {
	SightingID       string
	PlateCount       int
	TotalCount       int
	ContributorCount int
}

// Finalizer persists a completed sighting.
type Finalizer interface {
	Finalize(ctx context.Context, req FinalizeRequest) (Receipt, error)
}

// Sink delivers a reply to a contributor.
type Sink interface {
	Send(ctx context.Context, identity, text string) error
}

// Recorder observes controller activity. Implementations must be safe for
// concurrent use.
type Recorder interface {
	ObserveEvent(class Class)
	ObserveTransition(from, to session.State)
	ObserveMatch(tier string, candidates int)
	ObserveDuplicate()
	ObserveFinalize(ok bool)
	ObserveError(kind string)
}

type noopRecorder struct{}

func (noopRecorder) ObserveEvent(Class)                           {}
func (noopRecorder) ObserveTransition(session.State, session.State) {}
func (noopRecorder) ObserveMatch(string, int)                     {}
func (noopRecorder) ObserveDuplicate()                            {}
func (noopRecorder) ObserveFinalize(bool)                         {}
func (noopRecorder) ObserveError(string)                          {}
