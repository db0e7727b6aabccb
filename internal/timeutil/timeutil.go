package timeutil

import (
	"time"
)

const DateLayout = "2006-01-02"

// LoadLocation resolves the business timezone, falling back to a fixed EAT
// zone when the tz database is unavailable.
func LoadLocation(name string) *time.Location {
	if name == "" {
		name = "Africa/Nairobi"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("EAT", 3*60*60)
	}
	return loc
}

// ParseDate validates a YYYY-MM-DD trading date.
func ParseDate(value string) (time.Time, error) {
	return time.Parse(DateLayout, value)
}

func ValidDate(value string) bool {
	_, err := ParseDate(value)
	return err == nil
}

// AddDays shifts a trading date; an unparseable date is returned unchanged.
func AddDays(date string, days int) string {
	t, err := ParseDate(date)
	if err != nil {
		return date
	}
	return t.AddDate(0, 0, days).Format(DateLayout)
}

func NextDay(date string) string {
	return AddDays(date, 1)
}

func PrevDay(date string) string {
	return AddDays(date, -1)
}

// StartOfDay returns local midnight of date in loc.
func StartOfDay(date string, loc *time.Location) time.Time {
	t, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return time.Time{}
	}
	return t
}

// DateOf formats t as the trading date it falls on in loc.
func DateOf(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}
