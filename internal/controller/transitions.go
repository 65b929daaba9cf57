package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Veraticus/sightings/internal/matcher"
	"github.com/Veraticus/sightings/internal/registry"
	"github.com/Veraticus/sightings/internal/session"
)

// MaxNameLength caps contributor names, in characters.
const MaxNameLength = 50

// step is the result of one transition. The session is the complete next
// value; nothing is written until the whole step succeeds.
type step struct {
	err        error
	reply      string
	sightingID string
	session    session.Session
}

type stepFunc func(ctx context.Context, c *Controller, s session.Session, cmd Command, ev Event) step

// transitions maps a state and event class to its handler. Pairs missing
// from the table re-emit the current prompt.
var transitions = map[session.State]map[Class]stepFunc{
	session.StateIdle: {
		ClassPhoto: startSighting,
		ClassHelp:  help,
	},
	session.StateAwaitingLocation: {
		ClassHelp:      help,
		ClassCancel:    cancel,
		ClassOther:     attachLocation,
		ClassPlateLike: attachLocation,
		ClassNumeric:   attachLocation,
	},
	session.StateAwaitingPlate: {
		ClassHelp:      help,
		ClassCancel:    cancel,
		ClassPlateLike: matchPlate,
		ClassOther:     matchWord,
	},
	session.StateAwaitingConfirmation: {
		ClassHelp:        help,
		ClassCancel:      cancel,
		ClassAffirmative: confirmSole,
		ClassNumeric:     selectNumbered,
		ClassPlateLike:   matchPlate,
		ClassOther:       matchWord,
	},
	session.StateAwaitingName: {
		ClassHelp:        help,
		ClassCancel:      cancel,
		ClassSkip:        finalizeAnonymous,
		ClassOther:       finalizeNamed,
		ClassPlateLike:   finalizeNamed,
		ClassNumeric:     finalizeNamed,
		ClassAffirmative: finalizeNamed,
	},
}

func lookupTransition(state session.State, class Class) stepFunc {
	if byClass, ok := transitions[state]; ok {
		if fn, ok := byClass[class]; ok {
			return fn
		}
	}
	return reprompt
}

func startSighting(_ context.Context, c *Controller, s session.Session, _ Command, ev Event) step {
	s = s.Reset()
	s.PendingImageRef = ev.ImageRef

	if ev.Location == nil {
		s.State = session.StateAwaitingLocation
		return step{session: s, reply: c.templates.PhotoWithoutLocation()}
	}

	loc := *ev.Location
	if loc.Source == "" {
		loc.Source = session.LocationSourcePhoto
	}
	s.Location = &loc
	s.State = session.StateAwaitingPlate
	return step{session: s, reply: c.templates.PhotoReceived()}
}

func help(_ context.Context, c *Controller, s session.Session, _ Command, _ Event) step {
	return step{session: s, reply: c.templates.Help(s.State)}
}

func cancel(_ context.Context, c *Controller, s session.Session, _ Command, _ Event) step {
	return step{session: s.Reset(), reply: c.templates.Cancelled()}
}

func attachLocation(ctx context.Context, c *Controller, s session.Session, cmd Command, ev Event) step {
	if cmd.Text == "" {
		return reprompt(ctx, c, s, cmd, ev)
	}
	s.Location = parseLocation(cmd.Text)
	s.State = session.StateAwaitingPlate
	return step{session: s, reply: c.templates.LocationReceived()}
}

// matchWord looks up a single word that lacks the usual plate shape, such
// as a vanity plate. Anything longer goes back to the prompt.
func matchWord(ctx context.Context, c *Controller, s session.Session, cmd Command, ev Event) step {
	if len(strings.Fields(cmd.Text)) != 1 {
		return reprompt(ctx, c, s, cmd, ev)
	}
	plate := registry.NormalizePlate(cmd.Text)
	if n := utf8.RuneCountInString(plate); n < minPlateLength || n > maxPlateLength {
		return reprompt(ctx, c, s, cmd, ev)
	}
	cmd.Plate = plate
	return matchPlate(ctx, c, s, cmd, ev)
}

func matchPlate(ctx context.Context, c *Controller, s session.Session, cmd Command, _ Event) step {
	plate := matcher.Normalize(cmd.Plate, c.matchOptions)

	matchCtx, cancelMatch := context.WithTimeout(ctx, c.registryTimeout)
	candidates, err := matcher.Match(matchCtx, c.lookup, cmd.Plate, c.matchOptions)
	cancelMatch()

	if err != nil {
		if errors.Is(err, matcher.ErrMalformedPlate) {
			c.recorder.ObserveMatch("NONE", 0)
			s.PendingPlateText = plate
			s.Candidates = nil
			s.State = session.StateAwaitingPlate
			return step{session: s, reply: c.templates.PlateNotFound(plate), err: err}
		}
		if !errors.Is(err, matcher.ErrRegistryUnavailable) {
			err = fmt.Errorf("%w: %w", matcher.ErrRegistryUnavailable, err)
		}
		return step{session: s, reply: c.templates.TryAgain(), err: err}
	}

	tier := "NONE"
	if len(candidates) > 0 {
		tier = string(candidates[0].Kind)
	}
	c.recorder.ObserveMatch(tier, len(candidates))

	s.PendingPlateText = plate
	switch len(candidates) {
	case 0:
		s.Candidates = nil
		s.State = session.StateAwaitingPlate
		return step{session: s, reply: c.templates.PlateNotFound(plate)}
	case 1:
		s.Candidates = candidates
		s.State = session.StateAwaitingConfirmation
		return step{session: s, reply: c.templates.ConfirmCandidate(plate, candidates[0])}
	default:
		s.Candidates = candidates
		s.State = session.StateAwaitingConfirmation
		return step{session: s, reply: c.templates.ChooseCandidate(plate, candidates)}
	}
}

func confirmSole(_ context.Context, c *Controller, s session.Session, _ Command, _ Event) step {
	if len(s.Candidates) != 1 {
		return step{
			session: s,
			reply:   c.candidatePrompt(s),
			err:     fmt.Errorf("%w: %d candidates on offer", ErrInvalidSelection, len(s.Candidates)),
		}
	}
	return selectCandidate(c, s, 0)
}

func selectNumbered(_ context.Context, c *Controller, s session.Session, cmd Command, _ Event) step {
	if cmd.Number < 1 || cmd.Number > len(s.Candidates) {
		return step{
			session: s,
			reply:   c.candidatePrompt(s),
			err:     fmt.Errorf("%w: %d of %d", ErrInvalidSelection, cmd.Number, len(s.Candidates)),
		}
	}
	return selectCandidate(c, s, cmd.Number-1)
}

func selectCandidate(c *Controller, s session.Session, i int) step {
	rec := s.Candidates[i].Record
	s.Selected = &rec
	s.Candidates = nil
	s.State = session.StateAwaitingName
	return step{session: s, reply: c.templates.NamePrompt(rec)}
}

func finalizeAnonymous(ctx context.Context, c *Controller, s session.Session, _ Command, _ Event) step {
	return finalize(ctx, c, s, "")
}

func finalizeNamed(ctx context.Context, c *Controller, s session.Session, cmd Command, ev Event) step {
	name := strings.TrimSpace(cmd.Text)
	if name == "" {
		return reprompt(ctx, c, s, cmd, ev)
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return step{
			session: s,
			reply:   c.templates.NameTooLong(MaxNameLength),
			err:     ErrNameTooLong,
		}
	}
	return finalize(ctx, c, s, name)
}

// finalize hands the sighting off exactly once. On failure the session keeps
// its selection so the contributor can retry.
func finalize(ctx context.Context, c *Controller, s session.Session, name string) step {
	if s.Selected == nil {
		return reprompt(ctx, c, s, Command{Class: ClassOther, Text: name}, Event{})
	}
	selected := *s.Selected

	req := FinalizeRequest{
		Identity:        s.Identity,
		Plate:           selected.Plate,
		ImageRef:        s.PendingImageRef,
		ContributorName: name,
	}
	if s.Location != nil {
		loc := *s.Location
		req.Location = &loc
	}

	receipt, err := c.finalizer.Finalize(ctx, req)
	if err != nil {
		c.recorder.ObserveFinalize(false)
		return step{
			session: s,
			reply:   c.templates.FinalizeFailed(),
			err:     fmt.Errorf("%w: %w", ErrFinalizeFailed, err),
		}
	}
	c.recorder.ObserveFinalize(true)

	return step{
		session:    s.Reset(),
		reply:      c.templates.Saved(selected, name, receipt),
		sightingID: receipt.SightingID,
	}
}

// reprompt leaves the session untouched and repeats what it is waiting for.
func reprompt(_ context.Context, c *Controller, s session.Session, cmd Command, _ Event) step {
	return step{
		session: s,
		reply:   c.prompt(s),
		err:     fmt.Errorf("%w: %s in %s", ErrUnknownCommand, cmd.Class, s.State),
	}
}

func (c *Controller) prompt(s session.Session) string {
	switch s.State {
	case session.StateAwaitingLocation:
		return c.templates.LocationPrompt()
	case session.StateAwaitingPlate:
		return c.templates.PlatePrompt()
	case session.StateAwaitingConfirmation:
		return c.candidatePrompt(s)
	case session.StateAwaitingName:
		if s.Selected != nil {
			return c.templates.NamePrompt(*s.Selected)
		}
		return c.templates.PlatePrompt()
	default:
		return c.templates.SendPhotoFirst()
	}
}

func (c *Controller) candidatePrompt(s session.Session) string {
	if len(s.Candidates) == 1 {
		return c.templates.ConfirmCandidate(s.PendingPlateText, s.Candidates[0])
	}
	return c.templates.ChooseCandidate(s.PendingPlateText, s.Candidates)
}
