package middleware

import (
	"sync"

	tele "gopkg.in/telebot.v4"
)

const repliesKey = "replies"

// replies tallies what the handlers sent for one update. Sends may come from
// dispatcher workers, so access is locked.
type replies struct {
	mu       sync.Mutex
	messages int
	keyboard bool
}

func (r *replies) add(opts []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages++
	r.keyboard = r.keyboard || withKeyboard(opts)
}

func withKeyboard(opts []any) bool {
	for _, o := range opts {
		switch v := o.(type) {
		case *tele.ReplyMarkup:
			if v != nil {
				return true
			}
		case *tele.SendOptions:
			if v != nil && v.ReplyMarkup != nil {
				return true
			}
		}
	}
	return false
}

// countingContext counts successful sends and edits into the update's tally.
type countingContext struct {
	tele.Context
	tally *replies
}

func counting(c tele.Context) tele.Context {
	r, ok := c.Get(repliesKey).(*replies)
	if !ok {
		r = &replies{}
		c.Set(repliesKey, r)
	}
	return countingContext{Context: c, tally: r}
}

func (c countingContext) counted(err error, opts []any) error {
	if err == nil {
		c.tally.add(opts)
	}
	return err
}

func (c countingContext) Send(what any, opts ...any) error {
	return c.counted(c.Context.Send(what, opts...), opts)
}

func (c countingContext) Reply(what any, opts ...any) error {
	return c.counted(c.Context.Reply(what, opts...), opts)
}

func (c countingContext) Edit(what any, opts ...any) error {
	return c.counted(c.Context.Edit(what, opts...), opts)
}

func (c countingContext) EditOrSend(what any, opts ...any) error {
	return c.counted(c.Context.EditOrSend(what, opts...), opts)
}

// GetCounters returns how many messages the update produced so far and
// whether any of them carried a keyboard.
func GetCounters(c tele.Context) (int, bool) {
	r, ok := c.Get(repliesKey).(*replies)
	if !ok {
		return 0, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messages, r.keyboard
}
