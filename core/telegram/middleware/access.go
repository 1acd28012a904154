package middleware

import tele "gopkg.in/telebot.v4"

// AdminOptions configures AdminOnlyMiddleware.
type AdminOptions struct {
	// IsAdmin decides by Telegram user id. Nil denies everyone.
	IsAdmin func(userID int64) bool
	// OnReject answers denied updates. Nil drops them silently.
	OnReject tele.HandlerFunc
}

func (o AdminOptions) allows(c tele.Context) bool {
	u := c.Sender()
	return u != nil && o.IsAdmin != nil && o.IsAdmin(u.ID)
}

// AdminOnlyMiddleware lets only bot operators through.
func AdminOnlyMiddleware(opts AdminOptions) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			switch {
			case opts.allows(c):
				return next(c)
			case opts.OnReject != nil:
				return opts.OnReject(c)
			}
			return nil
		}
	}
}
