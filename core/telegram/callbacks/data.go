// Package callbacks reads and writes the inline button data telebot
// produces: "\f<unique>" or "\f<unique>|<payload>".
package callbacks

import (
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"
)

const (
	prefix = "\f"
	sep    = "|"
)

// ParseCallbackData returns the button key and payload of cb. Telebot fills
// Unique itself for buttons it routed; raw data is split here otherwise.
func ParseCallbackData(cb *tele.Callback) (key, payload string) {
	switch {
	case cb == nil:
		return "", ""
	case cb.Unique != "":
		return cb.Unique, cb.Data
	}
	key, payload, _ = strings.Cut(strings.TrimPrefix(cb.Data, prefix), sep)
	return strings.TrimSpace(key), payload
}

// CallbackKey is the key of the pressed button, or "".
func CallbackKey(c tele.Context) string {
	key, _ := ParseCallbackData(c.Callback())
	return key
}

// CallbackPayload is the payload of the pressed button, or "".
func CallbackPayload(c tele.Context) string {
	_, payload := ParseCallbackData(c.Callback())
	return payload
}

// PayloadID parses a numeric payload such as a request id.
func PayloadID(c tele.Context) (int64, error) {
	raw := strings.TrimSpace(CallbackPayload(c))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("callbacks: payload %q is not an id", raw)
	}
	return id, nil
}

// Encode builds the data telebot would put on a button with this key and payload.
func Encode(unique, payload string) string {
	if payload == "" {
		return prefix + unique
	}
	return prefix + unique + sep + payload
}
