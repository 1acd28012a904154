package session

import (
	"encoding/json"
	"strings"
)

// Schema declares the states a workflow may persist.
type Schema struct {
	Workflow Workflow
	Prefix   string
	States   []string
}

// Codec encodes sessions as JSON and repairs anything that does not match a
// registered schema back to the idle baseline.
type Codec struct {
	schemas map[Workflow]schemaSet
}

type schemaSet struct {
	prefix string
	states map[string]struct{}
}

// NewCodec builds a codec accepting the given workflow schemas.
func NewCodec(schemas ...Schema) *Codec {
	c := &Codec{schemas: make(map[Workflow]schemaSet, len(schemas))}
	for _, s := range schemas {
		set := schemaSet{prefix: s.Prefix, states: make(map[string]struct{}, len(s.States))}
		for _, st := range s.States {
			set.states[st] = struct{}{}
		}
		c.schemas[s.Workflow] = set
	}
	return c
}

// New returns the idle baseline.
func (c *Codec) New() Session { return New() }

// Encode marshals s.
func (c *Codec) Encode(s Session) ([]byte, error) {
	return json.Marshal(s)
}

// Decode unmarshals data. On any inconsistency it returns the idle baseline
// and repaired=true.
func (c *Codec) Decode(data []byte) (Session, bool) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return New(), true
	}
	if !c.valid(s) {
		fresh := New()
		fresh.LastInteraction = s.LastInteraction
		return fresh, true
	}
	if len(s.History) > maxHistory || len(s.Pending) > maxPending {
		s.History = trimTail(s.History, maxHistory)
		s.Pending = trimTail(s.Pending, maxPending)
		return s, true
	}
	return s, false
}

func (c *Codec) valid(s Session) bool {
	if s.Workflow == None {
		return s.State == Idle && s.Registration == nil && s.Fuel == nil
	}
	set, ok := c.schemas[s.Workflow]
	if !ok {
		return false
	}
	if !strings.HasPrefix(s.State, set.prefix+":") {
		return false
	}
	if _, ok := set.states[s.State]; !ok {
		return false
	}
	switch s.Workflow {
	case Onboarding:
		return s.Registration != nil && s.Fuel == nil
	case Fuel:
		return s.Fuel != nil && s.Registration == nil
	}
	return true
}

func trimTail(in []string, max int) []string {
	if len(in) <= max {
		return in
	}
	return append([]string(nil), in[len(in)-max:]...)
}
