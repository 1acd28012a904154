package logger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

type lineFormat int

const (
	formatJSON lineFormat = iota
	formatKV
)

const tsLayout = "2006-01-02T15:04:05.000Z07:00"

type handlerOptions struct {
	level  slog.Leveler
	out    *sink
	format lineFormat
	order  []string
	stacks bool
}

// handler is a slog.Handler writing one flat line per record, either as
// key=value pairs or as a JSON object, with keys in a fixed order.
type handler struct {
	opts handlerOptions
	rank map[string]int

	preset []scoped
	group  string
}

// scoped is an attribute bound through WithAttrs under the group open at that time.
type scoped struct {
	group string
	attr  slog.Attr
}

// entry is one record flattened to dotted keys.
type entry map[string]any

func (e entry) setDefault(key string, v any) {
	if _, ok := e[key]; !ok {
		e[key] = v
	}
}

func (e entry) str(key string) string {
	s, _ := e[key].(string)
	return s
}

var bufPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

func newHandler(opts handlerOptions) *handler {
	if opts.level == nil {
		opts.level = slog.LevelInfo
	}
	if opts.order == nil {
		opts.order = defaultKeyOrder
	}
	rank := make(map[string]int, len(opts.order))
	for i, k := range opts.order {
		if _, dup := rank[k]; !dup {
			rank[k] = i
		}
	}
	return &handler{opts: opts, rank: rank}
}

func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.level.Level()
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	if h.opts.out == nil {
		return errors.New("logger: handler has no sink")
	}
	e := make(entry, len(h.preset)+r.NumAttrs()+8)
	ts := r.Time.UTC()
	e["ts"] = ts.Truncate(time.Millisecond).Format(tsLayout)
	e["level"] = levelName(r.Level)
	if h.opts.format == formatJSON {
		e["ts_unix_nano"] = ts.UnixNano()
	}
	for _, p := range h.preset {
		put(e, p.group, p.attr)
	}
	r.Attrs(func(a slog.Attr) bool {
		put(e, h.group, a)
		return true
	})
	metaFrom(ctx).fill(e)
	h.finish(e, r.Message)

	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufPool.Put(buf)
	if err := h.encode(buf, e); err != nil {
		return err
	}
	return h.opts.out.write(buf.Bytes())
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	c := *h
	c.preset = make([]scoped, 0, len(h.preset)+len(attrs))
	c.preset = append(c.preset, h.preset...)
	for _, a := range attrs {
		c.preset = append(c.preset, scoped{group: h.group, attr: a})
	}
	return &c
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.group = dotted(h.group, name)
	return &c
}

// finish applies the line invariants: compact rid, mandatory event and
// component, optional stacks, closed enums and no empty values.
func (h *handler) finish(e entry, msg string) {
	if rid := e.str("rid"); rid != "" {
		if compact := CompactRID(rid); compact != rid {
			if h.opts.format == formatJSON {
				e.setDefault("rid_full", rid)
			}
			e["rid"] = compact
		}
	}
	if e.str("event") == "" {
		e["event"] = msg
		if msg == "" {
			e["event"] = "unknown"
		}
	}
	if e.str("component") == "" {
		e["component"] = "app"
	}
	if !h.opts.stacks {
		delete(e, "stack")
	}
	e.normalizeEnums()
	for k, v := range e {
		if v == nil || v == "" {
			delete(e, k)
		}
	}
}

func dotted(prefix, key string) string {
	switch {
	case prefix == "":
		return key
	case key == "":
		return prefix
	}
	return prefix + "." + key
}

// put flattens a into e under group. Sensitive string values are masked.
func put(e entry, group string, a slog.Attr) {
	v := a.Value.Resolve()
	key := dotted(group, a.Key)
	if v.Kind() == slog.KindGroup {
		for _, child := range v.Group() {
			put(e, key, child)
		}
		return
	}
	if key == "" {
		return
	}
	key, val, ok := scalar(key, v)
	if !ok {
		return
	}
	if s, isStr := val.(string); isStr && isSensitiveKey(key) {
		val = maskValue(s)
	}
	e[key] = val
}

// scalar converts v to a JSON-friendly value. Durations are written in
// milliseconds and their key gains an _ms suffix.
func scalar(key string, v slog.Value) (string, any, bool) {
	switch v.Kind() {
	case slog.KindString:
		return key, strings.TrimSpace(v.String()), true
	case slog.KindBool:
		return key, v.Bool(), true
	case slog.KindInt64:
		return key, v.Int64(), true
	case slog.KindUint64:
		return key, v.Uint64(), true
	case slog.KindFloat64:
		return key, v.Float64(), true
	case slog.KindDuration:
		return msKey(key), RoundMS(v.Duration()).Milliseconds(), true
	case slog.KindTime:
		return key, v.Time().UTC().Format(time.RFC3339Nano), true
	}
	switch x := v.Any().(type) {
	case nil:
		return key, nil, false
	case error:
		return key, x.Error(), true
	case time.Duration:
		return msKey(key), RoundMS(x).Milliseconds(), true
	case fmt.Stringer:
		return key, x.String(), true
	case string:
		return key, strings.TrimSpace(x), true
	default:
		return key, fmt.Sprint(x), true
	}
}

func msKey(key string) string {
	switch {
	case key == "duration":
		return "duration_ms"
	case strings.HasSuffix(key, "_ms"):
		return key
	}
	return key + "_ms"
}
