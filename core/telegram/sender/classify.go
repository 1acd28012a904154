package sender

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"regexp"

	tele "gopkg.in/telebot.v4"
)

var tokenRe = regexp.MustCompile(`bot[0-9]+:[A-Za-z0-9_-]+`)

// redact hides bot tokens that net/http embeds in request URLs.
func redact(err error) string {
	if err == nil {
		return ""
	}
	return tokenRe.ReplaceAllString(err.Error(), "bot<redacted>")
}

// classify buckets err for the send.fail log line.
func classify(err error) string {
	var (
		dnsErr   *net.DNSError
		netErr   net.Error
		opErr    *net.OpError
		alertErr tls.AlertError
		apiErr   *tele.Error
		floodErr tele.FloodError
		groupErr tele.GroupError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	case errors.As(err, &dnsErr):
		if dnsErr.IsTimeout {
			return "timeout"
		}
		return "dns"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.As(err, &opErr) && opErr.Op == "dial":
		return "dial"
	case errors.As(err, &alertErr):
		return "tls"
	case errors.As(err, &floodErr):
		return "flood"
	case errors.As(err, &groupErr):
		return "migrated"
	case errors.As(err, &apiErr) && apiErr.Code >= 500:
		return "http_5xx"
	case errors.As(err, &apiErr) && apiErr.Code >= 400:
		return "http_4xx"
	}
	return "unknown"
}
