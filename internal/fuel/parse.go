package fuel

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	saleNumberRe = regexp.MustCompile(`^[A-Za-z0-9-]{1,6}$`)
	plainNumber  = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

	currencyStripper = strings.NewReplacer(
		"$", "", "MXN", "", "mxn", "", "pesos", "", "lts", "", "lt", "", "l", "", "L", "",
		" ", "", " ", "",
	)
)

// correctionWindow is how far back a record date may be moved.
const correctionWindow = 30 * 24 * time.Hour

// ParsePositive reads a user-typed quantity. Currency symbols, units and
// spaces are ignored; a lone comma is a decimal separator, while commas
// next to a dot are thousands separators.
func ParsePositive(s string) (decimal.Decimal, bool) {
	s = currencyStripper.Replace(strings.TrimSpace(s))
	switch {
	case strings.Contains(s, ".") && strings.Contains(s, ","):
		s = strings.ReplaceAll(s, ",", "")
	case strings.Count(s, ",") == 1:
		s = strings.Replace(s, ",", ".", 1)
	case strings.Count(s, ",") > 1:
		s = strings.ReplaceAll(s, ",", "")
	}
	if !plainNumber.MatchString(s) {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return decimal.Zero, false
	}
	return d, true
}

// ValidSaleNumber reports whether s is a ticket note number.
func ValidSaleNumber(s string) bool {
	return saleNumberRe.MatchString(s)
}

// withinWindow reports whether the instant t lies in [now-30d, now].
func withinWindow(t, now time.Time) bool {
	return !t.After(now) && !t.Before(now.Add(-correctionWindow))
}

// correctedDate validates a calendar day typed by the user and returns the
// instant to store. The day is accepted when any part of it falls in the
// window; the stored instant is its local noon, clamped into the window.
func correctedDate(day, now time.Time, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	d := day.In(loc)
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)
	lo := now.Add(-correctionWindow)
	if start.After(now) || !end.After(lo) {
		return time.Time{}, false
	}
	noon := start.Add(12 * time.Hour)
	if withinWindow(noon, now) {
		return noon, true
	}
	if noon.After(now) {
		return now, true
	}
	return lo, true
}
