package sender

import (
	"context"
	"log/slog"
	"time"

	"github.com/Fechomap/cargas-gas/core/logger"
	"github.com/Fechomap/cargas-gas/core/telegram/netutil"
)

// process runs j until it succeeds, fails with a permanent error, runs out of
// attempts or exceeds MaxDuration. Backoff grows linearly and honours the
// retry_after Telegram sends with flood errors.
func (d *Dispatcher) process(j job) {
	ctx, cancel := context.WithTimeout(j.ctx, d.opts.MaxDuration)
	defer cancel()
	start := time.Now()
	attrs := []slog.Attr{slog.String("action", j.action), slog.String("endpoint", j.endpoint)}
	logger.Debug(j.ctx, component, "send.start", attrs...)

	attempts := d.opts.MaxRetries + 1
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if d.limiter != nil {
			if err = d.limiter.Wait(ctx); err != nil {
				break
			}
		}
		if err = j.run(); err == nil {
			if attempt > 1 {
				attrs = append(attrs, slog.Int("attempt", attempt))
			}
			logger.Debug(j.ctx, component, "send.success", append(attrs, slog.Duration("elapsed", logger.Took(start)))...)
			return
		}
		if attempt == attempts || !netutil.ShouldRetry(err) {
			break
		}
		delay := max(d.opts.RetryBackoff*time.Duration(attempt), netutil.RetryAfter(err))
		logger.Debug(j.ctx, component, "send.retry.backoff", append(attrs,
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
		)...)
		if err = sleep(ctx, delay); err != nil {
			break
		}
	}

	d.failed.Add(1)
	logger.Error(j.ctx, component, "send.fail", append(attrs,
		slog.String("err", redact(err)),
		slog.String("err_kind", classify(err)),
		slog.Int("attempts", attempts),
		slog.Duration("elapsed", logger.Took(start)),
	)...)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
