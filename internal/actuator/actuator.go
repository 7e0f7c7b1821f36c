package actuator

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/incubator-controller/internal/model"
)

// Writer drives a physical output. Implementations must return within a bounded time.
type Writer interface {
	Write(on bool) error
}

type WriterFunc func(on bool) error

func (f WriterFunc) Write(on bool) error { return f(on) }

type Kind int

const (
	KindOnOff Kind = iota
	// KindPulsed toggles its output every Pulse while logically on.
	KindPulsed
)

func ParseKind(s string) (Kind, error) {
	switch s {
	case "", "on_off":
		return KindOnOff, nil
	case "pulsed":
		return KindPulsed, nil
	default:
		return KindOnOff, fmt.Errorf("unknown actuator kind %q", s)
	}
}

func (k Kind) String() string {
	if k == KindPulsed {
		return "pulsed"
	}
	return "on_off"
}

type Actuator struct {
	ID     model.ActuatorID
	Kind   Kind
	Pulse  time.Duration
	Writer Writer
}

type output struct {
	Actuator
	state      model.State
	level      bool
	written    bool
	lastToggle time.Time
}

// Store tracks logical actuator state. Owned by the control loop.
type Store struct {
	order   []model.ActuatorID
	outputs map[model.ActuatorID]*output
}

func NewStore(actuators []Actuator) (*Store, error) {
	s := &Store{outputs: make(map[model.ActuatorID]*output, len(actuators))}
	for _, a := range actuators {
		if a.Writer == nil {
			return nil, fmt.Errorf("actuator %s: no writer", a.ID)
		}
		if a.Kind == KindPulsed && a.Pulse <= 0 {
			return nil, fmt.Errorf("actuator %s: pulsed kind needs a positive period", a.ID)
		}
		if _, dup := s.outputs[a.ID]; dup {
			return nil, fmt.Errorf("actuator %s registered twice", a.ID)
		}
		s.order = append(s.order, a.ID)
		s.outputs[a.ID] = &output{Actuator: a}
	}
	return s, nil
}

// Init drives every output to its initial state, defaulting to off.
func (s *Store) Init(initial map[model.ActuatorID]model.State, now time.Time) error {
	var errs []error
	for _, id := range s.order {
		o := s.outputs[id]
		o.written = false
		if err := s.apply(o, initial[id], now); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Set changes the logical state of an actuator and writes the output when it
// differs from the last successful write. A failed write leaves the state
// unchanged so the next tick retries it.
func (s *Store) Set(id model.ActuatorID, st model.State, now time.Time) error {
	o, ok := s.outputs[id]
	if !ok {
		return fmt.Errorf("unknown actuator %s", id)
	}
	if o.written && o.state == st {
		return nil
	}
	prev := o.state
	if err := s.apply(o, st, now); err != nil {
		return err
	}
	log.Info().
		Str("actuator", string(id)).
		Str("from", prev.String()).
		Str("to", st.String()).
		Msg("Actuator state changed")
	return nil
}

func (s *Store) apply(o *output, st model.State, now time.Time) error {
	level := st == model.On
	if err := o.Writer.Write(level); err != nil {
		return fmt.Errorf("write %s=%s: %w", o.ID, st, err)
	}
	o.state = st
	o.level = level
	o.written = true
	o.lastToggle = now
	return nil
}

// Refresh advances pulsed outputs. Called once per tick.
func (s *Store) Refresh(now time.Time) {
	for _, id := range s.order {
		o := s.outputs[id]
		if o.Kind != KindPulsed || o.state != model.On || !o.written {
			continue
		}
		if now.Sub(o.lastToggle) < o.Pulse {
			continue
		}
		if err := o.Writer.Write(!o.level); err != nil {
			log.Error().Err(err).Str("actuator", string(id)).Msg("Failed to toggle pulsed output")
			continue
		}
		o.level = !o.level
		o.lastToggle = now
	}
}

func (s *Store) State(id model.ActuatorID) (model.State, bool) {
	o, ok := s.outputs[id]
	if !ok {
		return model.Off, false
	}
	return o.state, true
}

// Level reports the physical output level, which differs from State for a pulsed output mid-cycle.
func (s *Store) Level(id model.ActuatorID) bool {
	o, ok := s.outputs[id]
	return ok && o.level
}

func (s *Store) Has(id model.ActuatorID) bool {
	_, ok := s.outputs[id]
	return ok
}

func (s *Store) States() map[model.ActuatorID]model.State {
	out := make(map[model.ActuatorID]model.State, len(s.outputs))
	for id, o := range s.outputs {
		out[id] = o.state
	}
	return out
}

// AllOff forces every output off, attempting all of them.
func (s *Store) AllOff(now time.Time) error {
	var errs []error
	for _, id := range s.order {
		o := s.outputs[id]
		if err := s.apply(o, model.Off, now); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
