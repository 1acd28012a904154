// Package audit appends onboarding decisions and saved records to a Redis
// stream. Writes are best-effort: failures are logged and never reach the
// caller.
package audit

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Fechomap/cargas-gas/core/logger"
)

// Event kinds.
const (
	RequestCreated  = "request.created"
	RequestApproved = "request.approved"
	RequestRejected = "request.rejected"
	GroupLinked     = "group.linked"
	RecordSaved     = "fuel.saved"
	RecordPaid      = "fuel.paid"
	RecordRedated   = "fuel.redated"
)

// Event is one audit entry.
type Event struct {
	Kind     string
	TenantID string
	ActorID  int64
	Fields   map[string]string
	At       time.Time
}

// Recorder accepts audit events.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

// Nop drops every event.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(context.Context, Event) {}

// Stream writes events with XADD, trimming the stream to about maxLen entries.
type Stream struct {
	client  redis.UniversalClient
	stream  string
	maxLen  int64
	timeout time.Duration
}

// NewStream returns a Recorder over client. An empty name uses "audit".
func NewStream(client redis.UniversalClient, name string) *Stream {
	if name == "" {
		name = "audit"
	}
	return &Stream{client: client, stream: name, maxLen: 100000, timeout: 2 * time.Second}
}

// New returns a Stream when client is set and Nop otherwise.
func New(client redis.UniversalClient, name string) Recorder {
	if client == nil {
		return Nop{}
	}
	return NewStream(client, name)
}

// Record implements Recorder.
func (s *Stream) Record(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	values := map[string]any{
		"kind": ev.Kind,
		"at":   ev.At.UTC().Format(time.RFC3339),
	}
	if ev.TenantID != "" {
		values["tenant_id"] = ev.TenantID
	}
	if ev.ActorID != 0 {
		values["actor_id"] = strconv.FormatInt(ev.ActorID, 10)
	}
	for k, v := range ev.Fields {
		if _, taken := values[k]; !taken {
			values[k] = v
		}
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		logger.LogEvent(ctx, logger.Storage, slog.LevelWarn, "audit.write_failed",
			slog.String("status", "fail"),
			slog.String("kind", ev.Kind),
			slog.String("err", err.Error()),
		)
		return
	}
	logger.LogEvent(ctx, logger.Storage, slog.LevelDebug, "audit.written",
		slog.String("status", "ok"),
		slog.String("kind", ev.Kind),
		slog.String("id", id),
	)
}
