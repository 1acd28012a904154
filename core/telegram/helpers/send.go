package helpers

import (
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/Fechomap/cargas-gas/core/logger"
	"github.com/Fechomap/cargas-gas/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

var queue atomic.Pointer[sender.Dispatcher]

// SetDispatcher routes SendText and SendMD through d. With no dispatcher the
// helpers send inline.
func SetDispatcher(d *sender.Dispatcher) { queue.Store(d) }

// deliver queues run, or runs it inline when there is no queue or the queue
// refuses the job.
func deliver(c tele.Context, action, endpoint string, run func() error) error {
	d := queue.Load()
	if d == nil {
		return run()
	}
	ctx := BuildContext(c)
	err := d.Enqueue(ctx, action, endpoint, run)
	if !errors.Is(err, sender.ErrQueueFull) && !errors.Is(err, sender.ErrQueueClosed) {
		return err
	}
	logger.Warn(ctx, "tg.sender", "queue.fallback",
		slog.String("action", action),
		slog.String("err", err.Error()),
	)
	return run()
}

func markdown(markup []*tele.ReplyMarkup) *tele.SendOptions {
	opts := &tele.SendOptions{ParseMode: tele.ModeMarkdown}
	if len(markup) > 0 {
		opts.ReplyMarkup = markup[0]
	}
	return opts
}

// SendText sends text without a parse mode to the chat of the update.
func SendText(c tele.Context, text string, opts ...*tele.SendOptions) error {
	args := make([]any, 0, 1)
	if len(opts) > 0 && opts[0] != nil {
		args = append(args, opts[0])
	}
	return deliver(c, "send.text", "sendMessage", func() error {
		return c.Send(text, args...)
	})
}

// SendMD sends Markdown text with an optional keyboard.
func SendMD(c tele.Context, text string, markup ...*tele.ReplyMarkup) error {
	return SendText(c, text, markdown(markup))
}

// EditOrSendMD edits the message behind a callback, or sends a new one.
// It always runs inline so the edit lands before the callback is answered.
func EditOrSendMD(c tele.Context, text string, markup ...*tele.ReplyMarkup) error {
	return c.EditOrSend(text, markdown(markup))
}

// Answer acknowledges the callback query once. Later calls are no-ops so the
// router does not overwrite a toast set by the handler.
func Answer(c tele.Context, text string) error {
	if c.Callback() == nil || Answered(c) {
		return nil
	}
	c.Set(answeredKey, true)
	if text == "" {
		return c.Respond()
	}
	return c.Respond(&tele.CallbackResponse{Text: text})
}

// Answered reports whether Answer already ran for this callback.
func Answered(c tele.Context) bool {
	done, _ := c.Get(answeredKey).(bool)
	return done
}
