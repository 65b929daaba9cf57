package controller

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/Veraticus/sightings/internal/matcher"
	"github.com/Veraticus/sightings/internal/registry"
	"github.com/Veraticus/sightings/internal/session"
)

// Templates renders every outbound message. Rendering must be deterministic
// so a duplicate resend matches the original reply.
type Templates interface {
	PhotoReceived() string
	PhotoWithoutLocation() string
	LocationPrompt() string
	LocationReceived() string
	PlatePrompt() string
	PlateNotFound(plate string) string
	ConfirmCandidate(plate string, c matcher.Candidate) string
	ChooseCandidate(plate string, cs []matcher.Candidate) string
	NamePrompt(rec registry.Record) string
	NameTooLong(limit int) string
	Saved(rec registry.Record, name string, receipt Receipt) string
	Cancelled() string
	SendPhotoFirst() string
	Help(state session.State) string
	TryAgain() string
	FinalizeFailed() string
}

// DefaultTemplates is the stock wording of the NYC sightings line.
type DefaultTemplates struct{}

var _ Templates = DefaultTemplates{}

const helpText = `Fisker Ocean Sightings Bot

Send a photo of a Fisker Ocean to log a sighting. I'll ask where you saw it and for the license plate.

Commands:
- Send a photo to start
- Reply CANCEL to abort
- Reply HELP for this message`

// PhotoReceived is sent when a photo arrives with a location.
func (DefaultTemplates) PhotoReceived() string {
	return "Great photo! What's the license plate number?"
}

// PhotoWithoutLocation is sent when a photo arrives without a location.
func (DefaultTemplates) PhotoWithoutLocation() string {
	return "Great photo! Where did you see this vehicle? (Send a street address or neighborhood in NYC)"
}

func (DefaultTemplates) LocationPrompt() string {
	return "Where did you see this vehicle? (Send a street address or neighborhood in NYC)"
}

func (DefaultTemplates) LocationReceived() string {
	return "Got it. What's the license plate number?"
}

func (DefaultTemplates) PlatePrompt() string {
	return "Please send the license plate number."
}

func (DefaultTemplates) PlateNotFound(plate string) string {
	return fmt.Sprintf("Plate %s not found in the NYC TLC database. Please double-check and send the correct plate number.", plate)
}

// ConfirmCandidate asks about a single candidate.
func (DefaultTemplates) ConfirmCandidate(plate string, c matcher.Candidate) string {
	if c.Kind == matcher.KindExact {
		return fmt.Sprintf("Found it! %s\n\nReply YES to confirm or CANCEL to abort.", describe(c.Record))
	}
	return fmt.Sprintf("Plate %s not found. Did you mean %s?\n\nReply YES to confirm, send the correct plate, or CANCEL to abort.",
		plate, describe(c.Record))
}

// ChooseCandidate lists several candidates, numbered from 1.
func (DefaultTemplates) ChooseCandidate(plate string, cs []matcher.Candidate) string {
	var b strings.Builder
	if len(cs) > 0 && cs[0].Kind == matcher.KindWildcard {
		fmt.Fprintf(&b, "Plates matching %s:\n", plate)
	} else {
		fmt.Fprintf(&b, "Plate %s not found in the NYC TLC database.\n\nDid you mean one of these?\n", plate)
	}
	for i, c := range cs {
		fmt.Fprintf(&b, "%d. %s\n", i+1, describe(c.Record))
	}
	b.WriteString("\nReply with the number or send the correct plate.")
	return b.String()
}

func (DefaultTemplates) NamePrompt(rec registry.Record) string {
	return fmt.Sprintf("Logging %s. Would you like to set a name for future posts? Reply with your name, or SKIP to remain anonymous.", rec.Plate)
}

func (DefaultTemplates) NameTooLong(limit int) string {
	return fmt.Sprintf("Name is too long (max %d characters). Please try again or reply SKIP.", limit)
}

// Saved confirms a finalized sighting; name is empty when the contributor
// skipped. Zero counts are left out.
func (DefaultTemplates) Saved(rec registry.Record, name string, receipt Receipt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sighting of %s saved!", rec.Plate)
	if receipt.PlateCount > 0 {
		fmt.Fprintf(&b, " That's the %s sighting of this vehicle", humanize.Ordinal(receipt.PlateCount))
		if receipt.TotalCount > 0 {
			fmt.Fprintf(&b, " and #%s overall", humanize.Comma(int64(receipt.TotalCount)))
		}
		b.WriteString(".")
	}
	if receipt.ContributorCount > 0 {
		fmt.Fprintf(&b, " You've logged %s.", pluralSightings(receipt.ContributorCount))
	}
	if name == "" {
		b.WriteString(" No problem, you'll remain anonymous.")
	} else {
		fmt.Fprintf(&b, " Future posts will credit you as '%s'.", name)
	}
	b.WriteString(" Send a new photo anytime!")
	return b.String()
}

func pluralSightings(n int) string {
	if n == 1 {
		return "1 sighting"
	}
	return humanize.Comma(int64(n)) + " sightings"
}

func (DefaultTemplates) Cancelled() string {
	return "Sighting cancelled. Send a new photo anytime!"
}

func (DefaultTemplates) SendPhotoFirst() string {
	return "Send a photo of the vehicle first to start a sighting. Reply HELP for more info."
}

// Help returns the help text with a hint for the current step.
func (DefaultTemplates) Help(state session.State) string {
	var hint string
	switch state {
	case session.StateAwaitingLocation:
		hint = "Right now I need to know where you saw the vehicle."
	case session.StateAwaitingPlate:
		hint = "Right now I need the license plate number. Use * for characters you can't read."
	case session.StateAwaitingConfirmation:
		hint = "Right now I need you to confirm the plate: reply YES or the number of the right plate."
	case session.StateAwaitingName:
		hint = "Right now you can reply with a name to be credited, or SKIP."
	default:
		return helpText
	}
	return helpText + "\n\n" + hint
}

func (DefaultTemplates) TryAgain() string {
	return "Sorry, something went wrong. Please try again or contact support."
}

func (DefaultTemplates) FinalizeFailed() string {
	return "Sorry, I couldn't save your sighting. Please reply with your name or SKIP to try again."
}

func describe(rec registry.Record) string {
	var details []string
	if rec.VehicleYear != "" {
		details = append(details, rec.VehicleYear)
	}
	if rec.BaseName != "" {
		details = append(details, rec.BaseName)
	}
	if len(details) == 0 {
		return rec.Plate
	}
	return fmt.Sprintf("%s (%s)", rec.Plate, strings.Join(details, ", "))
}
