// Package keyboard builds the inline keyboards the workflows attach to their
// prompts.
package keyboard

import (
	"slices"

	tele "gopkg.in/telebot.v4"
)

// InlineBtn is one inline button. Unique routes the press to a registered
// callback and Data travels with it as the payload.
type InlineBtn struct {
	Text   string
	Unique string
	Data   string
}

// cancelText labels every cancel button.
const cancelText = "❌ Cancelar"

func (b InlineBtn) inline() tele.InlineButton {
	return tele.InlineButton{Text: b.Text, Unique: b.Unique, Data: b.Data}
}

// InlineButtonsRows lays out rows as given. Empty rows are dropped.
func InlineButtonsRows(rows ...[]InlineBtn) *tele.ReplyMarkup {
	kb := make([][]tele.InlineButton, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		line := make([]tele.InlineButton, 0, len(row))
		for _, b := range row {
			line = append(line, b.inline())
		}
		kb = append(kb, line)
	}
	return &tele.ReplyMarkup{InlineKeyboard: kb}
}

// InlineButtonsNPerRow wraps buttons into rows of at most n.
func InlineButtonsNPerRow(buttons []InlineBtn, n int) *tele.ReplyMarkup {
	return InlineButtonsRows(slices.Collect(slices.Chunk(buttons, max(n, 1)))...)
}

// InlineButtons puts each button on its own row.
func InlineButtons(buttons []InlineBtn) *tele.ReplyMarkup {
	return InlineButtonsNPerRow(buttons, 1)
}

// CancelBtn is the cancel button bound to action.
func CancelBtn(action string) InlineBtn {
	return InlineBtn{Text: cancelText, Unique: action}
}

// SingleCancelMarkup is a keyboard holding only the cancel button.
func SingleCancelMarkup(action string) *tele.ReplyMarkup {
	return InlineButtonsRows([]InlineBtn{CancelBtn(action)})
}
