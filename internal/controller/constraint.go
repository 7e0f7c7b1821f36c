package controller

import (
	"fmt"

	"github.com/thatsimonsguy/incubator-controller/internal/config"
	"github.com/thatsimonsguy/incubator-controller/internal/model"
)

// Strategy reports whether value lies outside [lower, upper].
type Strategy func(value, lower, upper float64) bool

// OutsideBounds is strict on both sides: a value equal to a limit is inside.
func OutsideBounds(value, lower, upper float64) bool {
	return value < lower || value > upper
}

// Rule drives one actuator from one sensor's latest value.
type Rule struct {
	Actuator model.ActuatorID
	Sensor   model.SensorID
	Outside  model.State
	Inside   model.State
	Strategy Strategy
}

func (r Rule) outside(value, lower, upper float64) bool {
	strategy := r.Strategy
	if strategy == nil {
		strategy = OutsideBounds
	}
	return strategy(value, lower, upper)
}

// Decide returns the state the actuator should take for the given reading.
func (r Rule) Decide(value, lower, upper float64) model.State {
	if r.outside(value, lower, upper) {
		return r.Outside
	}
	return r.Inside
}

// DefaultRules keeps the main supply on while the chamber temperature is in
// range and sounds the buzzer when skin temperature leaves its range.
func DefaultRules() []Rule {
	return []Rule{
		{Actuator: model.PSUControl, Sensor: model.Temperature, Outside: model.Off, Inside: model.On},
		{Actuator: model.Buzzer, Sensor: model.SkinTemperature, Outside: model.On, Inside: model.Off},
	}
}

// RulesFromConfig falls back to DefaultRules when none are configured.
func RulesFromConfig(cfgs []config.RuleConfig) ([]Rule, error) {
	if len(cfgs) == 0 {
		return DefaultRules(), nil
	}
	rules := make([]Rule, 0, len(cfgs))
	for i, rc := range cfgs {
		outside, err := model.ParseState(rc.Outside)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		inside, err := model.ParseState(rc.Inside)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, Rule{
			Actuator: model.ActuatorID(rc.Actuator),
			Sensor:   model.SensorID(rc.Sensor),
			Outside:  outside,
			Inside:   inside,
		})
	}
	return rules, nil
}
