package sensor

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/incubator-controller/internal/model"
	"github.com/thatsimonsguy/incubator-controller/internal/notifications"
)

// Reader is a hardware transducer.
type Reader interface {
	Read() (float64, error)
}

type ReaderFunc func() (float64, error)

func (f ReaderFunc) Read() (float64, error) { return f() }

// ReadFailure wraps a transducer error for one sensor. The stored value is left untouched.
type ReadFailure struct {
	Sensor model.SensorID
	Err    error
}

func (e *ReadFailure) Error() string {
	return fmt.Sprintf("read %s: %v", e.Sensor, e.Err)
}

func (e *ReadFailure) Unwrap() error { return e.Err }

type Sensor struct {
	ID     model.SensorID
	Lower  float64
	Upper  float64
	Offset float64
	Reader Reader
}

type reading struct {
	Sensor
	latest   float64
	stale    bool
	failures int
	alarmed  bool
}

// Store holds the latest reading of every sensor. It is owned by the control
// loop and is not safe for concurrent use.
type Store struct {
	order     []model.SensorID
	readings  map[model.SensorID]*reading
	threshold int
	notifier  notifications.Notifier
}

// NewStore keeps sensors in the given order. A threshold of zero disables
// failure alerts.
func NewStore(sensors []Sensor, threshold int, notifier notifications.Notifier) (*Store, error) {
	if notifier == nil {
		notifier = notifications.Discard{}
	}
	s := &Store{
		readings:  make(map[model.SensorID]*reading, len(sensors)),
		threshold: threshold,
		notifier:  notifier,
	}
	for _, sn := range sensors {
		if sn.Lower > sn.Upper {
			return nil, fmt.Errorf("sensor %s: lower limit %.2f above upper limit %.2f", sn.ID, sn.Lower, sn.Upper)
		}
		if sn.Reader == nil {
			return nil, fmt.Errorf("sensor %s: no reader", sn.ID)
		}
		if _, dup := s.readings[sn.ID]; dup {
			return nil, fmt.Errorf("sensor %s registered twice", sn.ID)
		}
		s.order = append(s.order, sn.ID)
		// Nothing sampled yet.
		s.readings[sn.ID] = &reading{Sensor: sn, stale: true}
	}
	return s, nil
}

// Sample reads one sensor, applies its calibration and stores the result.
func (s *Store) Sample(id model.SensorID) (float64, error) {
	r, ok := s.readings[id]
	if !ok {
		return 0, fmt.Errorf("unknown sensor %s", id)
	}

	v, err := read(r.Sensor)
	if err != nil {
		r.stale = true
		r.failures++
		s.checkFailureThreshold(r, err)
		return r.latest, err
	}

	if r.alarmed {
		log.Info().Str("sensor", string(id)).Int("failures", r.failures).Msg("Sensor recovered")
		s.send("Sensor recovered", fmt.Sprintf("%s reading again (%.2f) after %d failed reads", id, v, r.failures))
	}
	r.latest = v
	r.stale = false
	r.failures = 0
	r.alarmed = false
	return v, nil
}

func read(sn Sensor) (v float64, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &ReadFailure{Sensor: sn.ID, Err: fmt.Errorf("driver panic: %v", p)}
		}
	}()

	raw, err := sn.Reader.Read()
	if err != nil {
		return 0, &ReadFailure{Sensor: sn.ID, Err: err}
	}
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 0, &ReadFailure{Sensor: sn.ID, Err: fmt.Errorf("non-finite reading %v", raw)}
	}
	return raw + sn.Offset, nil
}

func (s *Store) checkFailureThreshold(r *reading, err error) {
	log.Error().Err(err).Str("sensor", string(r.ID)).Int("failures", r.failures).Msg("Sensor read failed, keeping last value")

	if s.threshold <= 0 || r.alarmed || r.failures < s.threshold {
		return
	}
	r.alarmed = true
	log.Warn().Str("sensor", string(r.ID)).Int("failures", r.failures).Msg("Sensor failure threshold reached")
	s.send("Sensor failing", fmt.Sprintf("%s failed %d consecutive reads: %v", r.ID, r.failures, err))
}

func (s *Store) send(title, message string) {
	if err := s.notifier.Send(title, message); err != nil {
		log.Warn().Err(err).Str("title", title).Msg("Failed to queue notification")
	}
}

// SampleAll attempts every sensor, even when earlier ones fail, and returns the failures.
func (s *Store) SampleAll() []error {
	var errs []error
	for _, id := range s.order {
		if _, err := s.Sample(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (s *Store) Latest(id model.SensorID) (float64, bool) {
	r, ok := s.readings[id]
	if !ok {
		return 0, false
	}
	return r.latest, true
}

func (s *Store) Bounds(id model.SensorID) (lower, upper float64, ok bool) {
	r, ok := s.readings[id]
	if !ok {
		return 0, 0, false
	}
	return r.Lower, r.Upper, true
}

func (s *Store) Values() map[model.SensorID]float64 {
	out := make(map[model.SensorID]float64, len(s.readings))
	for id, r := range s.readings {
		out[id] = r.latest
	}
	return out
}

func (s *Store) Stale() map[model.SensorID]bool {
	out := make(map[model.SensorID]bool)
	for id, r := range s.readings {
		if r.stale {
			out[id] = true
		}
	}
	return out
}
