package callbacks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fechomap/cargas-gas/core/telegram/teletest"

	tele "gopkg.in/telebot.v4"
)

func TestParseCallbackData(t *testing.T) {
	cases := []struct {
		name         string
		cb           *tele.Callback
		key, payload string
	}{
		{"nil", nil, "", ""},
		{"unique set", &tele.Callback{Unique: "fuel_pay", Data: "PAGADA"}, "fuel_pay", "PAGADA"},
		{"encoded", &tele.Callback{Data: "\fadm_approve|42"}, "adm_approve", "42"},
		{"encoded no payload", &tele.Callback{Data: "\fwf_cancel"}, "wf_cancel", ""},
		{"payload with separator", &tele.Callback{Data: "\fpay_mark|a|b"}, "pay_mark", "a|b"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			k, p := ParseCallbackData(tc.cb)
			assert.Equal(t, tc.key, k)
			assert.Equal(t, tc.payload, p)
		})
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	k, p := ParseCallbackData(&tele.Callback{Data: Encode("date_days", "3")})
	assert.Equal(t, "date_days", k)
	assert.Equal(t, "3", p)
	assert.Equal(t, "\fwf_cancel", Encode("wf_cancel", ""))
}

func TestPayloadID(t *testing.T) {
	press := func(payload string) tele.Context {
		return teletest.NewContext(teletest.Callback(teletest.Chat(1, tele.ChatPrivate), teletest.User(1), "adm_approve", payload))
	}
	id, err := PayloadID(press(" 42 "))
	require.NoError(t, err)
	assert.EqualValues(t, 42, id)

	for _, bad := range []string{"", "x", "0", "-3"} {
		_, err := PayloadID(press(bad))
		assert.Error(t, err, bad)
	}
}
