package logger

import "strings"

var sensitiveKeys = map[string]struct{}{
	"token":     {},
	"bot_token": {},
	"phone":     {},
	"email":     {},
	"password":  {},
}

func isSensitiveKey(key string) bool {
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		key = key[i+1:]
	}
	_, ok := sensitiveKeys[strings.ToLower(key)]
	return ok
}

// maskValue keeps the first and last characters of longer values so operators
// can still correlate entries.
func maskValue(v string) string {
	r := []rune(v)
	switch {
	case len(r) == 0:
		return ""
	case len(r) <= 4:
		return strings.Repeat("*", len(r))
	default:
		return string(r[0]) + strings.Repeat("*", len(r)-2) + string(r[len(r)-1])
	}
}
