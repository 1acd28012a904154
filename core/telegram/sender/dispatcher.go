// Package sender runs outbound Bot API calls off the update goroutine, with a
// shared rate limit and retries for transient failures.
package sender

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/Fechomap/cargas-gas/core/logger"
)

var (
	// ErrQueueClosed is returned by Enqueue after Close.
	ErrQueueClosed = errors.New("telegram sender: queue closed")
	// ErrQueueFull is returned when the queue has no room for the job.
	ErrQueueFull = errors.New("telegram sender: queue full")
)

const component = "tg.sender"

// Options controls the dispatcher. Zero values select the defaults.
type Options struct {
	QueueSize    int
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
	// MaxDuration bounds the time spent on one job, retries included.
	MaxDuration time.Duration
	// RatePerSecond caps calls across all workers; 0 disables the cap.
	RatePerSecond float64
	Burst         int
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	o.MaxRetries = max(o.MaxRetries, 0)
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 2 * time.Second
	}
	if o.MaxDuration <= 0 {
		o.MaxDuration = 12 * time.Second
	}
	return o
}

type job struct {
	ctx      context.Context
	action   string
	endpoint string
	run      func() error
}

// Dispatcher is a bounded queue drained by a fixed set of workers.
type Dispatcher struct {
	opts    Options
	limiter *rate.Limiter
	jobs    chan job
	workers sync.WaitGroup
	failed  atomic.Uint64

	mu      sync.RWMutex
	closed  bool
	delayed map[*time.Timer]struct{}
}

// NewDispatcher starts the workers.
func NewDispatcher(opts Options) *Dispatcher {
	opts = opts.withDefaults()
	d := &Dispatcher{
		opts:    opts,
		jobs:    make(chan job, opts.QueueSize),
		delayed: map[*time.Timer]struct{}{},
	}
	if opts.RatePerSecond > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), max(opts.Burst, 1))
	}
	d.workers.Add(opts.Workers)
	for range opts.Workers {
		go func() {
			defer d.workers.Done()
			for j := range d.jobs {
				d.process(j)
			}
		}()
	}
	return d
}

// Enqueue queues run without blocking. run may be called more than once
// when it fails with a retryable error.
func (d *Dispatcher) Enqueue(ctx context.Context, action, endpoint string, run func() error) error {
	if run == nil {
		return errors.New("telegram sender: nil run function")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrQueueClosed
	}
	select {
	case d.jobs <- job{ctx: ctx, action: action, endpoint: endpoint, run: run}:
		return nil
	default:
		return ErrQueueFull
	}
}

// EnqueueAfter queues run once delay has elapsed. Close discards pending
// delayed jobs. A job that cannot be queued when its timer fires is logged
// and dropped.
func (d *Dispatcher) EnqueueAfter(ctx context.Context, delay time.Duration, action, endpoint string, run func() error) {
	if run == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		d.mu.Lock()
		delete(d.delayed, t)
		d.mu.Unlock()
		if err := d.Enqueue(ctx, action, endpoint, run); err != nil {
			logger.Warn(ctx, component, "send.delayed.drop",
				slog.String("action", action),
				slog.String("err", err.Error()),
			)
		}
	})
	d.delayed[t] = struct{}{}
}

// ErrorCount is the number of jobs that failed for good.
func (d *Dispatcher) ErrorCount() uint64 { return d.failed.Load() }

// Close discards delayed jobs, lets the workers finish what was queued and
// waits for them. It is safe to call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.workers.Wait()
		return
	}
	d.closed = true
	for t := range d.delayed {
		t.Stop()
	}
	clear(d.delayed)
	close(d.jobs)
	d.mu.Unlock()
	d.workers.Wait()
}
