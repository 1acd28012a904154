package telegram

import (
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	coreconfig "github.com/Fechomap/cargas-gas/core/config"
	"github.com/Fechomap/cargas-gas/core/telegram/netutil"

	tele "gopkg.in/telebot.v4"
)

// allowedUpdates are the only update kinds the bot routes.
var allowedUpdates = []string{"message", "callback_query"}

// ClientOptions tunes the HTTP client used for Bot API calls.
type ClientOptions struct {
	Timeout time.Duration
	Retries int
	Backoff time.Duration
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Retries < 0 {
		o.Retries = 0
	} else if o.Retries == 0 {
		o.Retries = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = time.Second
	}
	return o
}

// NewHTTPClient returns a client that retries transient dial and gateway
// failures with exponential backoff. Long polls are bounded by Timeout, so it
// must exceed the long poll timeout.
func NewHTTPClient(opts ClientOptions) *http.Client {
	opts = opts.withDefaults()
	dialer := &net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}
	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: &retrying{next: base, retries: opts.Retries, backoff: opts.Backoff},
	}
}

type retrying struct {
	next    http.RoundTripper
	retries int
	backoff time.Duration
}

// gatewayFailure reports the statuses the Bot API front returns while it is
// restarting. Telegram's own errors come back as 4xx JSON and are not retried.
func gatewayFailure(code int) bool {
	return code == http.StatusBadGateway || code == http.StatusServiceUnavailable || code == http.StatusGatewayTimeout
}

func (t *retrying) RoundTrip(req *http.Request) (*http.Response, error) {
	wait := t.backoff
	replayable := req.Body == nil || req.GetBody != nil
	for attempt := 0; ; attempt++ {
		r := req
		if attempt > 0 {
			r = req.Clone(req.Context())
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, err
				}
				r.Body = body
			}
		}

		resp, err := t.next.RoundTrip(r)
		last := attempt >= t.retries || !replayable
		switch {
		case err != nil && (last || !netutil.ShouldRetry(err)):
			return nil, err
		case err == nil && (last || !gatewayFailure(resp.StatusCode)):
			return resp, nil
		case err == nil:
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}

		timer := time.NewTimer(wait)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}
		wait *= 2
	}
}

// NewPoller selects the webhook listener or the long poller from cfg.
func NewPoller(cfg *coreconfig.Config) tele.Poller {
	if strings.EqualFold(strings.TrimSpace(cfg.Telegram.RunMode), coreconfig.RunModeWebhook) {
		return &tele.Webhook{
			Listen:         net.JoinHostPort(cfg.Webhook.Listen, strconv.Itoa(cfg.Webhook.Port)),
			Endpoint:       &tele.WebhookEndpoint{PublicURL: cfg.Webhook.URL},
			AllowedUpdates: allowedUpdates,
		}
	}
	return &tele.LongPoller{
		Timeout:        longPollTimeout(cfg),
		AllowedUpdates: allowedUpdates,
	}
}

func longPollTimeout(cfg *coreconfig.Config) time.Duration {
	if s := cfg.Telegram.LongPollTimeoutSeconds; s > 0 {
		return time.Duration(s) * time.Second
	}
	return 10 * time.Second
}
