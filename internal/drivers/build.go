package drivers

import (
	"fmt"
	"time"

	"github.com/thatsimonsguy/incubator-controller/internal/actuator"
	"github.com/thatsimonsguy/incubator-controller/internal/config"
	"github.com/thatsimonsguy/incubator-controller/internal/model"
	"github.com/thatsimonsguy/incubator-controller/internal/sensor"
)

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

// BuildSensors wires each configured sensor to its driver. DHT sensors with the
// same path share one probe.
func BuildSensors(cfgs []config.SensorConfig) ([]sensor.Sensor, error) {
	probes := map[string]*DHTProbe{}
	probe := func(path string) *DHTProbe {
		if p, ok := probes[path]; ok {
			return p
		}
		p := NewDHTProbe(path)
		probes[path] = p
		return p
	}

	out := make([]sensor.Sensor, 0, len(cfgs))
	for _, c := range cfgs {
		var r sensor.Reader
		switch c.Driver {
		case "w1":
			r = W1Thermometer{Path: c.Path}
		case "thermistor":
			r = Thermistor{
				RawPath:    c.Path,
				MaxRaw:     4095,
				Vcc:        orDefault(c.Vcc, 3.3),
				RDivider:   orDefault(c.RDivider, 10000),
				RNominal:   orDefault(c.RNominal, 10000),
				BFactor:    orDefault(c.BFactor, 3950),
				NominalC:   orDefault(c.NominalC, 25),
				NumSamples: c.NumSamples,
			}
		case "digital":
			if c.Pin == nil {
				return nil, fmt.Errorf("sensor %s: digital driver requires a pin", c.ID)
			}
			r = DigitalInput{Pin: model.GPIOPin{Number: *c.Pin, ActiveHigh: c.ActiveHigh}}
		case "dht_temperature":
			r = probe(c.Path).Temperature()
		case "dht_humidity":
			r = probe(c.Path).Humidity()
		case "adc":
			r = ADCChannel{RawPath: c.Path, Scale: c.Scale}
		case "sim":
			r = Simulated{Value: c.Value}
		default:
			return nil, fmt.Errorf("sensor %s: unknown driver %q", c.ID, c.Driver)
		}
		out = append(out, sensor.Sensor{
			ID:     model.SensorID(c.ID),
			Lower:  c.Lower,
			Upper:  c.Upper,
			Offset: c.Offset,
			Reader: r,
		})
	}
	return out, nil
}

// BuildActuators returns relay backed actuators and their configured initial states.
func BuildActuators(cfgs []config.ActuatorConfig) ([]actuator.Actuator, map[model.ActuatorID]model.State, error) {
	out := make([]actuator.Actuator, 0, len(cfgs))
	initial := make(map[model.ActuatorID]model.State, len(cfgs))
	for _, c := range cfgs {
		if c.Pin == nil {
			return nil, nil, fmt.Errorf("actuator %s: missing pin", c.ID)
		}
		kind, err := actuator.ParseKind(c.Kind)
		if err != nil {
			return nil, nil, fmt.Errorf("actuator %s: %w", c.ID, err)
		}
		id := model.ActuatorID(c.ID)
		out = append(out, actuator.Actuator{
			ID:     id,
			Kind:   kind,
			Pulse:  time.Duration(c.PulseMs) * time.Millisecond,
			Writer: Relay{Pin: model.GPIOPin{Number: *c.Pin, ActiveHigh: c.ActiveHigh}},
		})
		if c.InitialState != "" {
			st, err := model.ParseState(c.InitialState)
			if err != nil {
				return nil, nil, fmt.Errorf("actuator %s: %w", c.ID, err)
			}
			initial[id] = st
		}
	}
	return out, initial, nil
}
