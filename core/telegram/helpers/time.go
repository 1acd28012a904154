package helpers

import (
	"strings"
	"time"
)

var dayFirstLayouts = []string{
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"2-1-2006",
	"02.01.2006",
	"2.1.2006",
	"2006-01-02",
}

// ParseDayMonthYear parses the day-first dates users type in Mexico
// (dd/mm/yyyy and its dash or dot variants) in loc.
func ParseDayMonthYear(input string, loc *time.Location) (time.Time, bool) {
	s := strings.TrimSpace(input)
	if s == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range dayFirstLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// NoonOf returns 12:00 on the calendar day of t in loc. Using noon keeps the
// date stable when it is later rendered in a neighbouring timezone.
func NoonOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 12, 0, 0, 0, loc)
}

// FormatDate renders t as dd/mm/yyyy in loc.
func FormatDate(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format("02/01/2006")
}
