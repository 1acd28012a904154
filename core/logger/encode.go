package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

func (h *handler) encode(buf *bytes.Buffer, e entry) error {
	keys := h.sortedKeys(e)
	if h.opts.format == formatKV {
		encodeKV(buf, keys, e)
		return nil
	}
	return encodeJSON(buf, keys, e)
}

// sortedKeys orders ranked keys first, the rest alphabetically.
func (h *handler) sortedKeys(e entry) []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ri, iok := h.rank[keys[i]]
		rj, jok := h.rank[keys[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		}
		return keys[i] < keys[j]
	})
	return keys
}

func encodeJSON(buf *bytes.Buffer, keys []string, e entry) error {
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(k)
		if err != nil {
			return err
		}
		val, err := json.Marshal(e[k])
		if err != nil {
			return fmt.Errorf("logger: encode %s: %w", k, err)
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteString("}\n")
	return nil
}

func encodeKV(buf *bytes.Buffer, keys []string, e entry) {
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(k)
		buf.WriteByte('=')
		buf.WriteString(kvValue(e[k]))
	}
	buf.WriteByte('\n')
}

func kvValue(v any) string {
	var s string
	switch x := v.(type) {
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case string:
		s = x
	default:
		s = fmt.Sprint(x)
	}
	if strings.IndexFunc(s, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' }) >= 0 {
		return strconv.Quote(s)
	}
	return s
}
