package helpers

import (
	"strings"

	tele "gopkg.in/telebot.v4"
)

// DisplayName renders a Telegram user for replies and audit entries.
func DisplayName(u *tele.User) string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name != "" {
		return name
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return ""
}

// Username returns the handle without the leading @, or "".
func Username(u *tele.User) string {
	if u == nil {
		return ""
	}
	return strings.TrimPrefix(u.Username, "@")
}
