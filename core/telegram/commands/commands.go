package commands

import (
	"strings"

	tele "gopkg.in/telebot.v4"
)

// Rule is the access metadata the pipeline reads for a command or callback.
type Rule struct {
	// AdminOnly restricts the entry to bot operators.
	AdminOnly bool
	// TenantAdminOnly restricts the entry to admins of the tenant's group.
	TenantAdminOnly bool
	// Feature names the tenant feature flag gating the entry.
	Feature string
	// SkipTenant lets the entry run before the chat has a tenant.
	SkipTenant bool
	// GroupBypass lets verified admins use the entry in groups outside the
	// allow-list, e.g. to link a brand-new group.
	GroupBypass bool
	// Sensitive requires an operator in private chats or an elevated group
	// role, confirmed live with Telegram.
	Sensitive bool
}

// Command represents a bot command with its handler, description, and metadata.
type Command struct {
	Rule
	Handler     tele.HandlerFunc
	Description string
	Hidden      bool
	Aliases     []string
}

// Callback is an inline button handler with its access metadata.
type Callback struct {
	Rule
	Handler tele.HandlerFunc
}

// Name extracts the command from a message text, dropping arguments and
// the @botname suffix. It returns "" for non-command text.
func Name(text string) string {
	if len(text) < 2 || text[0] != '/' {
		return ""
	}
	end := len(text)
	for i := 1; i < len(text); i++ {
		if text[i] == ' ' || text[i] == '\n' || text[i] == '@' {
			end = i
			break
		}
	}
	return text[:end]
}

// Args returns the whitespace-separated arguments after the command.
func Args(text string) []string {
	if Name(text) == "" {
		return nil
	}
	fields := strings.Fields(text)
	if len(fields) <= 1 {
		return nil
	}
	return fields[1:]
}

// Rest returns everything after the first n arguments, joined by single spaces.
func Rest(text string, n int) string {
	args := Args(text)
	if len(args) <= n {
		return ""
	}
	return strings.Join(args[n:], " ")
}
