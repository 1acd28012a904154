package middleware

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Fechomap/cargas-gas/core/logger"
	tghelpers "github.com/Fechomap/cargas-gas/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

const namespace, subsystem = "cargas", "bot"

// Metrics holds the collectors fed by the diagnostics stage.
type Metrics struct {
	updates  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	replies  *prometheus.CounterVec
	faults   prometheus.Counter
}

func counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help}
}

// NewMetrics registers the diagnostics collectors on reg. Registering twice
// on the same registry fails.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		updates: prometheus.NewCounterVec(counterOpts("updates_total", "Inbound updates by kind and outcome."),
			[]string{"kind", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "update_duration_seconds",
			Help:      "Time spent in the pipeline per update.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"kind"}),
		replies: prometheus.NewCounterVec(counterOpts("replies_total", "Messages sent or edited while handling updates."),
			[]string{"kind"}),
		faults: prometheus.NewCounter(counterOpts("diagnostics_faults_total", "Internal failures of the diagnostics stage.")),
	}
	for _, c := range []prometheus.Collector{m.updates, m.duration, m.replies, m.faults} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Middleware counts replies for every update and, on a non-nil receiver,
// records kind, outcome and latency. A fault while recording is logged and
// never reaches the handler.
func (m *Metrics) Middleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		start := time.Now()
		kind := tghelpers.Kind(c)
		err := next(counting(c))
		if m != nil {
			m.observe(c, kind, err, time.Since(start))
		}
		return err
	}
}

func (m *Metrics) observe(c tele.Context, kind string, err error, took time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			m.faults.Inc()
			logger.LogEvent(tghelpers.BuildContext(c), logger.TG, slog.LevelWarn, "diagnostics.fault", slog.Any("err", r))
		}
	}()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.updates.WithLabelValues(kind, outcome).Inc()
	m.duration.WithLabelValues(kind).Observe(took.Seconds())
	if n, _ := GetCounters(c); n > 0 {
		m.replies.WithLabelValues(kind).Add(float64(n))
	}
}

// MessageMetricsMiddleware only counts replies.
func MessageMetricsMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	var m *Metrics
	return m.Middleware(next)
}
