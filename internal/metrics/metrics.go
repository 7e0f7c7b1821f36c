package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/thatsimonsguy/incubator-controller/internal/model"
)

type Metrics struct {
	sensorValue     *prometheus.GaugeVec
	sensorStale     *prometheus.GaugeVec
	actuatorOn      *prometheus.GaugeVec
	autoMode        prometheus.Gauge
	tick            prometheus.Gauge
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sensorValue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "incubator_sensor_value",
				Help: "Latest calibrated sensor reading.",
			},
			[]string{"sensor"}),
		sensorStale: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "incubator_sensor_stale",
				Help: "1 when the last sample of the sensor failed.",
			},
			[]string{"sensor"},
		),
		actuatorOn: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "incubator_actuator_on",
				Help: "1 when the actuator is on.",
			},
			[]string{"actuator"},
		),
		autoMode: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "incubator_auto_mode",
				Help: "1 in AUTO mode, 0 in MANUAL.",
			},
		),
		tick: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "incubator_control_tick",
				Help: "Number of the last published control tick.",
			},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "incubator_control_plane_requests_total",
				Help: "Control plane requests by route and status.",
			},
			[]string{"route", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "incubator_control_plane_request_seconds",
				Help:    "Time from accept to response written.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}
	reg.MustRegister(m.sensorValue)
	reg.MustRegister(m.sensorStale)
	reg.MustRegister(m.actuatorOn)
	reg.MustRegister(m.autoMode)
	reg.MustRegister(m.tick)
	reg.MustRegister(m.requests)
	reg.MustRegister(m.requestDuration)
	return m
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Observe implements controller.Observer.
func (m *Metrics) Observe(s *model.Snapshot) {
	for _, id := range model.SensorIDs {
		m.sensorValue.WithLabelValues(string(id)).Set(s.Sensor(id))
		m.sensorStale.WithLabelValues(string(id)).Set(boolGauge(s.Stale(id)))
	}
	for _, id := range model.ActuatorIDs {
		m.actuatorOn.WithLabelValues(string(id)).Set(boolGauge(s.Actuator(id).Bool()))
	}
	m.autoMode.Set(boolGauge(s.Mode() == model.ModeAuto))
	m.tick.Set(float64(s.Tick()))
}

// ObserveRequest implements api.RequestObserver.
func (m *Metrics) ObserveRequest(route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
