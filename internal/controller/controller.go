package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/incubator-controller/internal/actuator"
	"github.com/thatsimonsguy/incubator-controller/internal/model"
	"github.com/thatsimonsguy/incubator-controller/internal/notifications"
	"github.com/thatsimonsguy/incubator-controller/internal/sensor"
	"github.com/thatsimonsguy/incubator-controller/internal/state"
)

// Observer is handed every published snapshot from the control loop goroutine.
// Implementations must not block.
type Observer interface {
	Observe(s *model.Snapshot)
}

type ObserverFunc func(s *model.Snapshot)

func (f ObserverFunc) Observe(s *model.Snapshot) { f(s) }

// Persister records operator choices so a restart resumes them.
type Persister interface {
	SaveMode(m model.Mode) error
	SaveActuatorState(id model.ActuatorID, st model.State) error
}

type Options struct {
	Sensors   *sensor.Store
	Actuators *actuator.Store
	Channel   *state.Channel
	Rules     []Rule
	Mode      model.Mode
	Interval  time.Duration
	Persister Persister
	Notifier  notifications.Notifier
	Observers []Observer
}

type Loop struct {
	sensors   *sensor.Store
	actuators *actuator.Store
	channel   *state.Channel
	rules     []Rule
	mode      model.Mode
	interval  time.Duration
	persister Persister
	notifier  notifications.Notifier
	observers []Observer

	tick      uint64
	outside   []bool
	unapplied map[model.ActuatorID]model.State
}

func New(opts Options) *Loop {
	if opts.Notifier == nil {
		opts.Notifier = notifications.Discard{}
	}
	if opts.Mode == "" {
		opts.Mode = model.ModeManual
	}
	return &Loop{
		sensors:   opts.Sensors,
		actuators: opts.Actuators,
		channel:   opts.Channel,
		rules:     opts.Rules,
		mode:      opts.Mode,
		interval:  opts.Interval,
		persister: opts.Persister,
		notifier:  opts.Notifier,
		observers: opts.Observers,
		outside:   make([]bool, len(opts.Rules)),
		unapplied: make(map[model.ActuatorID]model.State),
	}
}

func (l *Loop) Mode() model.Mode { return l.mode }

// Run ticks every interval until ctx is cancelled. A panicking tick is logged
// and the loop carries on.
func (l *Loop) Run(ctx context.Context) {
	log.Info().
		Dur("interval", l.interval).
		Str("mode", string(l.mode)).
		Int("rules", len(l.rules)).
		Msg("Starting control loop")

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		l.safeTick(time.Now())
		select {
		case <-ctx.Done():
			log.Info().Uint64("tick", l.tick).Msg("Control loop stopped")
			return
		case <-ticker.C:
		}
	}
}

func (l *Loop) safeTick(now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Uint64("tick", l.tick).Msg("Control tick panicked")
		}
	}()
	l.Tick(now)
}

// Tick runs one sample, decide, publish cycle and returns the published snapshot.
func (l *Loop) Tick(now time.Time) *model.Snapshot {
	l.tick++
	pending := l.channel.Take()

	if pending.Mode != nil {
		l.switchMode(*pending.Mode)
	}

	if errs := l.sensors.SampleAll(); len(errs) > 0 {
		log.Debug().Uint64("tick", l.tick).Int("failed", len(errs)).Msg("Partial sensor sample")
	}

	l.checkAlarms()

	switch l.mode {
	case model.ModeAuto:
		if len(pending.Overrides) > 0 {
			log.Warn().
				Int("overrides", len(pending.Overrides)).
				Msg("Ignoring actuator overrides in auto mode")
		}
		for _, rule := range l.rules {
			if _, err := l.ApplyConstraint(rule, now); err != nil {
				log.Error().Err(err).Str("actuator", string(rule.Actuator)).Msg("Failed to apply constraint")
			}
		}
	case model.ModeManual:
		l.applyOverrides(pending.Overrides, now)
	}

	l.actuators.Refresh(now)

	snap := model.NewSnapshot(l.tick, now, l.mode, l.sensors.Values(), l.sensors.Stale(), l.actuators.States())
	l.channel.Publish(snap)

	log.Debug().Uint64("tick", l.tick).Str("mode", string(l.mode)).Msg("Published snapshot")

	for _, o := range l.observers {
		o.Observe(snap)
	}
	return snap
}

func (l *Loop) switchMode(m model.Mode) {
	if m == l.mode {
		return
	}
	log.Info().Str("from", string(l.mode)).Str("to", string(m)).Uint64("tick", l.tick).Msg("Switching mode")
	l.mode = m
	// Overrides queued under the old mode are not carried across a switch.
	l.unapplied = make(map[model.ActuatorID]model.State)
	if l.persister != nil {
		if err := l.persister.SaveMode(m); err != nil {
			log.Error().Err(err).Msg("Failed to persist mode")
		}
	}
}

// ApplyConstraint drives the rule's actuator from its sensor's latest value.
func (l *Loop) ApplyConstraint(rule Rule, now time.Time) (model.State, error) {
	value, ok := l.sensors.Latest(rule.Sensor)
	if !ok {
		return model.Off, fmt.Errorf("no sensor %s", rule.Sensor)
	}
	lower, upper, _ := l.sensors.Bounds(rule.Sensor)

	want := rule.Decide(value, lower, upper)
	if err := l.actuators.Set(rule.Actuator, want, now); err != nil {
		return want, err
	}
	return want, nil
}

func (l *Loop) applyOverrides(overrides map[model.ActuatorID]model.State, now time.Time) {
	for id, st := range overrides {
		l.unapplied[id] = st
	}
	for id, st := range l.unapplied {
		if err := l.actuators.Set(id, st, now); err != nil {
			log.Error().Err(err).Str("actuator", string(id)).Msg("Override not applied, retrying next tick")
			continue
		}
		delete(l.unapplied, id)
		if l.persister != nil {
			if err := l.persister.SaveActuatorState(id, st); err != nil {
				log.Error().Err(err).Str("actuator", string(id)).Msg("Failed to persist actuator state")
			}
		}
	}
}

func (l *Loop) checkAlarms() {
	for i, rule := range l.rules {
		value, ok := l.sensors.Latest(rule.Sensor)
		if !ok {
			continue
		}
		lower, upper, _ := l.sensors.Bounds(rule.Sensor)
		outside := rule.outside(value, lower, upper)
		if outside == l.outside[i] {
			continue
		}
		l.outside[i] = outside

		if outside {
			log.Warn().
				Str("sensor", string(rule.Sensor)).
				Float64("value", value).
				Float64("lower", lower).
				Float64("upper", upper).
				Msg("Sensor outside bounds")
			l.send("Incubator alarm", fmt.Sprintf("%s at %.2f is outside [%.2f, %.2f]", rule.Sensor, value, lower, upper))
		} else {
			log.Info().Str("sensor", string(rule.Sensor)).Float64("value", value).Msg("Sensor back within bounds")
			l.send("Incubator recovered", fmt.Sprintf("%s back within bounds at %.2f", rule.Sensor, value))
		}
	}
}

func (l *Loop) send(title, message string) {
	if err := l.notifier.Send(title, message); err != nil {
		log.Warn().Err(err).Str("title", title).Msg("Failed to queue notification")
	}
}
