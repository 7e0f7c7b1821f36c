package datadog

import (
	"github.com/DataDog/datadog-go/statsd"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/incubator-controller/internal/config"
	"github.com/thatsimonsguy/incubator-controller/internal/model"
)

type gauger interface {
	Gauge(name string, value float64, tags []string, rate float64) error
}

// Emitter forwards each snapshot to the local DogStatsD agent.
type Emitter struct {
	client  gauger
	enabled bool
}

// New returns nil when datadog is disabled.
func New(cfg config.DatadogConfig) *Emitter {
	if !cfg.Enabled {
		return nil
	}
	client, err := statsd.New(cfg.AgentAddr,
		statsd.WithNamespace(cfg.Namespace),
		statsd.WithTags(cfg.Tags),
	)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create DogStatsD client")
		return nil
	}

	log.Info().
		Str("addr", cfg.AgentAddr).
		Str("namespace", cfg.Namespace).
		Strs("tags", cfg.Tags).
		Msg("Datadog metrics initialized")
	return &Emitter{client: client, enabled: true}
}

func (e *Emitter) Gauge(name string, value float64, tags ...string) {
	if e == nil || e.client == nil {
		return
	}
	if err := e.client.Gauge(name, value, tags, 1); err != nil && e.enabled {
		log.Warn().Err(err).Str("metric", name).Msg("Failed to emit gauge metric")
	}
}

// Observe implements controller.Observer. UDP sends do not block the loop.
func (e *Emitter) Observe(s *model.Snapshot) {
	if e == nil {
		return
	}
	for id, v := range s.Sensors() {
		stale := 0.0
		if s.Stale(id) {
			stale = 1
		}
		e.Gauge("sensor.value", v, "sensor:"+string(id))
		e.Gauge("sensor.stale", stale, "sensor:"+string(id))
	}
	for id, st := range s.Actuators() {
		on := 0.0
		if st.Bool() {
			on = 1
		}
		e.Gauge("actuator.on", on, "actuator:"+string(id))
	}
	auto := 0.0
	if s.Mode() == model.ModeAuto {
		auto = 1
	}
	e.Gauge("mode.auto", auto)
	e.Gauge("loop.tick", float64(s.Tick()))
}
