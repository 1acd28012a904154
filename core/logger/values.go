package logger

import (
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Status is "error" for a non-nil err and "ok" otherwise.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Took is the time since start rounded to milliseconds.
func Took(start time.Time) time.Duration { return RoundMS(time.Since(start)) }

// RoundMS rounds d to milliseconds. Negative durations become zero.
func RoundMS(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d.Round(time.Millisecond)
}

// SummarizeStrings joins at most limit values and reports whether any were left out.
func SummarizeStrings(values []string, limit int) (string, bool) {
	if limit <= 0 {
		return "", len(values) > 0
	}
	if len(values) > limit {
		return strings.Join(values[:limit], ", "), true
	}
	return strings.Join(values, ", "), false
}

// Sanitize drops control and format runes, keeping newlines and tabs.
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case unicode.IsControl(r), unicode.Is(unicode.Cf, r):
			return -1
		}
		return r
	}, s)
}

// SanitizeLimit sanitizes s and cuts it to max runes.
func SanitizeLimit(s string, max int) string {
	if max <= 0 {
		return ""
	}
	s = Sanitize(s)
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

// BuildRID formats the correlation id of an update as update:chat:user.
func BuildRID(updateID int, chatID, userID int64) string {
	return strconv.Itoa(updateID) + ":" + strconv.FormatInt(chatID, 10) + ":" + strconv.FormatInt(userID, 10)
}

// CompactRID rewrites each numeric segment of a BuildRID id in base36 and
// joins them with dots. Anything else is returned unchanged.
func CompactRID(rid string) string {
	rid = strings.TrimSpace(rid)
	parts := strings.Split(rid, ":")
	if len(parts) != 3 {
		return rid
	}
	for i, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return rid
		}
		parts[i] = strconv.FormatInt(n, 36)
	}
	return strings.Join(parts, ".")
}
