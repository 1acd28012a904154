// Package format renders values for Telegram replies.
package format

import (
	"strings"

	"github.com/shopspring/decimal"
)

// legacyMD escapes the characters that open an entity in Markdown mode.
var legacyMD = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)

// MD escapes user-provided text for ModeMarkdown replies.
func MD(text string) string { return legacyMD.Replace(text) }

// Money renders an amount with two decimals and a currency code, MXN by
// default.
func Money(d decimal.Decimal, currency string) string {
	if currency == "" {
		currency = "MXN"
	}
	return "$" + d.StringFixed(2) + " " + currency
}
