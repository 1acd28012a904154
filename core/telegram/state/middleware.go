package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Fechomap/cargas-gas/core/logger"
	tghelpers "github.com/Fechomap/cargas-gas/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

const sessionKey = "fsm_session"

// Options wires the session stage.
type Options[T any] struct {
	Store  Store
	Codec  Codec[T]
	Locker *Locker
	// LockTimeout bounds how long a turn waits for the previous turn of the
	// same session. Zero means 10s.
	LockTimeout time.Duration
}

// WithSession loads the chat+user session, holds its lock for the whole turn
// and saves it afterwards when its encoding changed. Malformed sessions are
// replaced by the codec default instead of failing the update.
func WithSession[T any](opts Options[T]) tele.MiddlewareFunc {
	if opts.Locker == nil {
		opts.Locker = NewLocker()
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 10 * time.Second
	}
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			chatID, userID := tghelpers.IDs(c)
			if userID == 0 {
				return next(c)
			}
			key := Key(chatID, userID)
			ctx := tghelpers.BuildContext(c)

			lockCtx, cancel := context.WithTimeout(ctx, opts.LockTimeout)
			unlock, err := opts.Locker.Lock(lockCtx, key)
			cancel()
			if err != nil {
				return fmt.Errorf("session lock %s: %w", key, err)
			}
			defer unlock()

			raw, err := opts.Store.Load(ctx, key)
			var (
				sess     T
				repaired bool
			)
			switch {
			case errors.Is(err, ErrNoSession):
				sess = opts.Codec.New()
			case err != nil:
				return fmt.Errorf("session load %s: %w", key, err)
			default:
				sess, repaired = opts.Codec.Decode(raw)
				if repaired {
					logger.LogEvent(ctx, logger.SVCSessions, slog.LevelWarn, "session.repaired",
						slog.String("status", "ok"),
						slog.Int("bytes", len(raw)),
					)
				}
			}
			c.Set(sessionKey, sess)

			handlerErr := next(c)

			if cur, ok := c.Get(sessionKey).(T); ok {
				sess = cur
			}
			enc, err := opts.Codec.Encode(sess)
			if err != nil {
				return errors.Join(handlerErr, fmt.Errorf("session encode %s: %w", key, err))
			}
			if repaired || !bytes.Equal(enc, raw) {
				if err := opts.Store.Save(ctx, key, enc); err != nil {
					logger.LogEvent(ctx, logger.SVCSessions, slog.LevelError, "session.save_failed",
						slog.String("status", "fail"),
						slog.String("err", err.Error()),
					)
					return errors.Join(handlerErr, fmt.Errorf("session save %s: %w", key, err))
				}
			}
			return handlerErr
		}
	}
}

// From returns the session loaded by WithSession for this update.
func From[T any](c tele.Context) (T, bool) {
	s, ok := c.Get(sessionKey).(T)
	return s, ok
}

// Replace swaps the session that will be saved at the end of the turn.
func Replace[T any](c tele.Context, s T) {
	c.Set(sessionKey, s)
}
