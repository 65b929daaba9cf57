package controller

import (
	"regexp"
	"strconv"

	"github.com/Veraticus/sightings/internal/session"
)

var coordinatePattern = regexp.MustCompile(`^\s*(-?\d{1,3}(?:\.\d+)?)\s*,\s*(-?\d{1,3}(?:\.\d+)?)\s*$`)

// parseLocation reads "lat, lon" as coordinates and anything else as a
// free-form place description.
func parseLocation(text string) *session.Location {
	loc := &session.Location{Description: text, Source: session.LocationSourceText}

	m := coordinatePattern.FindStringSubmatch(text)
	if m == nil {
		return loc
	}
	lat, errLat := strconv.ParseFloat(m[1], 64)
	lon, errLon := strconv.ParseFloat(m[2], 64)
	if errLat != nil || errLon != nil || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return loc
	}
	loc.Latitude = &lat
	loc.Longitude = &lon
	return loc
}
