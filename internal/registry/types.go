// Package registry defines the vehicle registry records that submitted plates
// are resolved against, and the read-only lookup contract over them.
package registry

import (
	"strings"
	"unicode"
)

// FiskerVINPrefix is the VIN prefix shared by every Fisker Ocean.
const FiskerVINPrefix = "VCF1"

// Record is a single registry entry keyed by its normalized plate.
type Record struct {
	Plate       string `json:"plate"`
	VIN         string `json:"vin"`
	OwnerName   string `json:"owner_name"`
	VehicleYear string `json:"vehicle_year"`
	BaseName    string `json:"base_name"`
	BaseType    string `json:"base_type"`
	Active      bool   `json:"active"`
}

// HasVINPrefix reports whether the record's VIN starts with prefix, ignoring case.
func (r Record) HasVINPrefix(prefix string) bool {
	return strings.HasPrefix(strings.ToUpper(r.VIN), strings.ToUpper(prefix))
}

// NormalizePlate uppercases plate text and strips all whitespace.
func NormalizePlate(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}
