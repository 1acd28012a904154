// Package membership answers live role questions against Telegram with a
// bounded wait. Timeouts and errors are reported, never guessed.
package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	tele "gopkg.in/telebot.v4"
)

// ErrTimeout is returned when Telegram did not answer in time.
var ErrTimeout = errors.New("membership: lookup timed out")

// API is the part of *tele.Bot used for role lookups.
type API interface {
	ChatMemberOf(chat, user tele.Recipient) (*tele.ChatMember, error)
	AdminsOf(chat *tele.Chat) ([]tele.ChatMember, error)
}

// Checker performs bounded lookups.
type Checker struct {
	api     API
	timeout time.Duration
}

// NewChecker returns a checker waiting at most timeout per call.
func NewChecker(api API, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Checker{api: api, timeout: timeout}
}

// Elevated reports whether userID is creator or administrator of chatID.
func (c *Checker) Elevated(ctx context.Context, chatID, userID int64) (bool, error) {
	m, err := bounded(ctx, c.timeout, func() (*tele.ChatMember, error) {
		return c.api.ChatMemberOf(&tele.Chat{ID: chatID}, &tele.User{ID: userID})
	})
	if err != nil {
		return false, err
	}
	if m == nil {
		return false, fmt.Errorf("membership: empty answer for %d in %d", userID, chatID)
	}
	return m.Role == tele.Creator || m.Role == tele.Administrator, nil
}

// Admins lists the administrator user ids of chatID.
func (c *Checker) Admins(ctx context.Context, chatID int64) ([]int64, error) {
	members, err := bounded(ctx, c.timeout, func() ([]tele.ChatMember, error) {
		return c.api.AdminsOf(&tele.Chat{ID: chatID})
	})
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		if m.User != nil && !m.User.IsBot {
			ids = append(ids, m.User.ID)
		}
	}
	return ids, nil
}

// bounded runs call in a goroutine since telebot calls take no context.
func bounded[T any](ctx context.Context, timeout time.Duration, call func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan result, 1)
	go func() {
		v, err := call()
		ch <- result{v: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, ErrTimeout
		}
		return zero, ctx.Err()
	}
}
