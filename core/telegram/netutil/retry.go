// Package netutil decides which Bot API failures are worth another attempt.
package netutil

import (
	"errors"
	"net"
	"net/url"
	"time"

	tele "gopkg.in/telebot.v4"
)

// ShouldRetry reports whether err is a flood wait, a 5xx from the Bot API or
// a network timeout or dial failure.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	// The first check that matches decides. wrappedURL recurses through here,
	// so the list cannot be a package variable.
	checks := [...]func(error) (retry, matched bool){
		flood,
		apiStatus,
		timeout,
		dial,
		wrappedURL,
	}
	for _, check := range checks {
		if retry, ok := check(err); ok {
			return retry
		}
	}
	return false
}

// RetryAfter is the wait Telegram asked for in a flood error, or 0.
func RetryAfter(err error) time.Duration {
	var fe tele.FloodError
	if !errors.As(err, &fe) || fe.RetryAfter <= 0 {
		return 0
	}
	return time.Duration(fe.RetryAfter) * time.Second
}

func flood(err error) (bool, bool) {
	var fe tele.FloodError
	return true, errors.As(err, &fe)
}

func apiStatus(err error) (bool, bool) {
	var ae *tele.Error
	if !errors.As(err, &ae) {
		return false, false
	}
	return ae.Code >= 500, true
}

func timeout(err error) (bool, bool) {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true, true
	}
	return false, false
}

func dial(err error) (bool, bool) {
	var oe *net.OpError
	if !errors.As(err, &oe) {
		return false, false
	}
	if oe.Op == "dial" {
		return true, true
	}
	var inner net.Error
	if errors.As(oe.Err, &inner) && inner.Timeout() {
		return true, true
	}
	return false, false
}

func wrappedURL(err error) (bool, bool) {
	var ue *url.Error
	if !errors.As(err, &ue) || ue.Err == nil || ue.Err == err {
		return false, false
	}
	return ShouldRetry(ue.Err), true
}
