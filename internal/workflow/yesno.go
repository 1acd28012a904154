package workflow

import (
	"strings"
	"unicode"
)

// Answer is the category of a free-text confirmation.
type Answer int

const (
	Unknown Answer = iota
	Yes
	No
)

var (
	affirmative = map[string]struct{}{
		"si": {}, "s": {}, "yes": {}, "y": {}, "ok": {}, "okay": {}, "va": {}, "sale": {},
		"confirmar": {}, "confirmo": {}, "confirmado": {}, "correcto": {}, "claro": {},
		"de acuerdo": {}, "afirmativo": {}, "listo": {},
	}
	negative = map[string]struct{}{
		"no": {}, "n": {}, "nop": {}, "nel": {}, "cancelar": {}, "cancela": {},
		"incorrecto": {}, "negativo": {},
	}
	accents = strings.NewReplacer("á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u")
)

// Classify maps a free-text reply onto yes, no or unknown. Matching ignores
// case, accents, surrounding spaces and trailing punctuation.
func Classify(text string) Answer {
	norm := accents.Replace(strings.ToLower(strings.TrimSpace(text)))
	norm = strings.TrimFunc(norm, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
	norm = strings.Join(strings.Fields(norm), " ")
	if _, ok := affirmative[norm]; ok {
		return Yes
	}
	if _, ok := negative[norm]; ok {
		return No
	}
	return Unknown
}
