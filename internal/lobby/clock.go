package lobby

import (
	"time"
	_ "time/tzdata" // zone rules for hosts without a zoneinfo database
)

// DefaultTimezone is the civil zone lobby timestamps are reported in.
const DefaultTimezone = "Europe/Amsterdam"

// LoadLocation resolves name, falling back to a fixed CET offset for unknown zone names.
func LoadLocation(name string) *time.Location {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("CET", 60*60)
	}
	return loc
}
