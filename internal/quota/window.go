package quota

import (
	"time"

	"gaiya/internal/types"
)

// DefaultTimezone is used when a user has not set one. The primary user
// base lives at UTC+8.
const DefaultTimezone = "Asia/Shanghai"

// loadLocation resolves an IANA zone name, falling back to the default
// zone and finally to UTC if the zone database lacks both.
func loadLocation(name string) *time.Location {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc, err = time.LoadLocation(DefaultTimezone)
		if err != nil {
			return time.UTC
		}
	}
	return loc
}

// NextReset computes the end of the quota window containing now.
// Daily windows close at the next local midnight; weekly windows close
// at the next Monday 00:00 local. A now that sits exactly on a boundary
// belongs to the window that starts there.
func NextReset(now time.Time, timezone string, freq types.ResetFrequency) time.Time {
	loc := loadLocation(timezone)
	local := now.In(loc)

	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	next := midnight.AddDate(0, 0, 1)

	if freq == types.ResetWeekly {
		// Days until next Monday, counting a Monday "now" as 7 days out.
		days := (int(time.Monday) - int(next.Weekday()) + 7) % 7
		next = next.AddDate(0, 0, days)
	}
	return next.UTC()
}
