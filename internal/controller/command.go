package controller

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Veraticus/sightings/internal/registry"
)

// Class is the closed classification of an inbound event.
type Class string

// Event classes.
const (
	ClassPhoto       Class = "PHOTO"
	ClassHelp        Class = "HELP"
	ClassCancel      Class = "CANCEL"
	ClassSkip        Class = "SKIP"
	ClassAffirmative Class = "AFFIRMATIVE"
	ClassNumeric     Class = "NUMERIC"
	ClassPlateLike   Class = "PLATE_LIKE"
	ClassOther       Class = "OTHER"
)

const (
	minPlateLength = 2
	maxPlateLength = 10
)

var (
	numericPattern = regexp.MustCompile(`^[0-9]{1,2}$`)
	platePattern   = regexp.MustCompile(`^[A-Z0-9*]+$`)
	plateSignal    = regexp.MustCompile(`[0-9*]`)

	affirmatives = map[string]struct{}{
		"YES":     {},
		"Y":       {},
		"YEP":     {},
		"YEAH":    {},
		"OK":      {},
		"CONFIRM": {},
		"CORRECT": {},
	}
)

// Command is a classified event.
type Command struct {
	Class Class
	// Text is the trimmed body as sent.
	Text string
	// Plate is the normalized body, set for PLATE_LIKE.
	Plate string
	// Number is the 1-based selection, set for NUMERIC.
	Number int
}

// Classify maps a text body to its command class. Matching is
// case-insensitive and ignores surrounding whitespace.
func Classify(text string) Command {
	trimmed := strings.TrimSpace(text)
	upper := strings.ToUpper(trimmed)
	cmd := Command{Class: ClassOther, Text: trimmed}

	switch upper {
	case "HELP":
		cmd.Class = ClassHelp
		return cmd
	case "CANCEL":
		cmd.Class = ClassCancel
		return cmd
	case "SKIP":
		cmd.Class = ClassSkip
		return cmd
	}

	if _, ok := affirmatives[upper]; ok {
		cmd.Class = ClassAffirmative
		return cmd
	}

	if numericPattern.MatchString(upper) {
		n, err := strconv.Atoi(upper)
		if err == nil {
			cmd.Class = ClassNumeric
			cmd.Number = n
			return cmd
		}
	}

	if plate := registry.NormalizePlate(trimmed); isPlateLike(plate) {
		cmd.Class = ClassPlateLike
		cmd.Plate = plate
	}
	return cmd
}

func isPlateLike(plate string) bool {
	if len(plate) < minPlateLength || len(plate) > maxPlateLength {
		return false
	}
	return platePattern.MatchString(plate) && plateSignal.MatchString(plate)
}

// classifyEvent classifies a whole event, photos included.
func classifyEvent(ev Event) Command {
	if ev.Kind == EventPhoto {
		return Command{Class: ClassPhoto, Text: strings.TrimSpace(ev.Text)}
	}
	return Classify(ev.Text)
}
