// Package stage defines the fixed six-stage adventure pipeline and the
// legal transitions between stages.
package stage

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Stage is one phase of the adventure-creation sequence. The zero value is
// Invoking, the first stage of a new session.
type Stage int

const (
	Invoking Stage = iota
	Attuning
	Binding
	Weaving
	Inscribing
	Delivering
)

var names = map[Stage]string{
	Invoking:   "invoking",
	Attuning:   "attuning",
	Binding:    "binding",
	Weaving:    "weaving",
	Inscribing: "inscribing",
	Delivering: "delivering",
}

// Advance rejection reasons, surfaced to callers as descriptive errors.
var (
	ErrFinalStage      = errors.New("already at final stage")
	ErrInactiveSession = errors.New("cannot advance inactive session")
)

// All returns every stage in pipeline order.
func All() []Stage {
	return []Stage{Invoking, Attuning, Binding, Weaving, Inscribing, Delivering}
}

// Valid reports whether s is a member of the enumeration.
func (s Stage) Valid() bool {
	_, ok := names[s]
	return ok
}

// Terminal reports whether s has no successor.
func (s Stage) Terminal() bool {
	return s == Delivering
}

// Next returns the successor stage. ok is false when s is terminal or not
// a member of the enumeration.
func (s Stage) Next() (Stage, bool) {
	if !s.Valid() || s.Terminal() {
		return s, false
	}
	return s + 1, true
}

func (s Stage) String() string {
	if name, ok := names[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Parse returns the stage named by raw.
func Parse(raw string) (Stage, error) {
	for s, name := range names {
		if name == raw {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown stage %q", raw)
}

// MarshalJSON encodes the stage by name so stored sessions stay readable
// and stable if the enum is ever reordered.
func (s Stage) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid stage %d", int(s))
	}
	return json.Marshal(s.String())
}

func (s *Stage) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MarshalText lets stages serve as JSON map keys by name.
func (s Stage) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid stage %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Stage) UnmarshalText(data []byte) error {
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
