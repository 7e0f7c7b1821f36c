package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/thatsimonsguy/incubator-controller/internal/config"
	"github.com/thatsimonsguy/incubator-controller/internal/model"
	"github.com/thatsimonsguy/incubator-controller/internal/state"
)

type Publisher interface {
	Publish(topic string, payload []byte) error
	Close()
}

type MQTTPublisher struct {
	client mqtt.Client
}

func (p *MQTTPublisher) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

func (p *MQTTPublisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
		log.Info().Msg("MQTT client disconnected")
	}
}

func clientID(cfg config.TelemetryConfig) string {
	if cfg.ClientID != "" {
		return cfg.ClientID
	}
	return "incubator-" + uuid.NewString()
}

// Connect dials the broker, retrying with exponential backoff until it succeeds,
// the retries run out or ctx is cancelled.
func Connect(ctx context.Context, cfg config.TelemetryConfig) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(clientID(cfg))
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		token := client.Connect()
		if !token.WaitTimeout(5 * time.Second) {
			return fmt.Errorf("connect to %s timed out", cfg.Broker)
		}
		if err := token.Error(); err != nil {
			log.Warn().Err(err).Str("broker", cfg.Broker).Msg("Failed to connect to MQTT broker")
			return err
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, 5), ctx))
	if err != nil {
		return nil, fmt.Errorf("could not establish MQTT connection after retries: %w", err)
	}

	log.Info().Str("broker", cfg.Broker).Str("topic", cfg.Topic).Msg("Connected to MQTT broker")
	return &MQTTPublisher{client: client}, nil
}

// Payload is the JSON document published for each new snapshot.
type Payload struct {
	Tick    uint64                 `json:"tick"`
	TakenAt time.Time              `json:"taken_at"`
	Values  map[string]interface{} `json:"values"`
	Stale   []string               `json:"stale"`
}

func NewPayload(s *model.Snapshot) Payload {
	p := Payload{
		Tick:    s.Tick(),
		TakenAt: s.TakenAt(),
		Values:  s.Values(),
		Stale:   []string{},
	}
	for _, id := range model.SensorIDs {
		if s.Stale(id) {
			p.Stale = append(p.Stale, string(id))
		}
	}
	sort.Strings(p.Stale)
	return p
}

// Reporter polls the state channel and publishes every snapshot it has not seen.
type Reporter struct {
	pub      Publisher
	topic    string
	channel  *state.Channel
	interval time.Duration
	breaker  *gobreaker.CircuitBreaker
	lastTick uint64
	sent     bool
}

func NewReporter(pub Publisher, topic string, ch *state.Channel, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = time.Second
	}
	return &Reporter{
		pub:      pub,
		topic:    topic,
		channel:  ch,
		interval: interval,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "mqtt-telemetry",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
			},
		}),
	}
}

// Report publishes s if it is newer than the last one sent.
func (r *Reporter) Report(s *model.Snapshot) error {
	if s == nil || (r.sent && s.Tick() == r.lastTick) {
		return nil
	}
	body, err := json.Marshal(NewPayload(s))
	if err != nil {
		return fmt.Errorf("encode telemetry: %w", err)
	}
	_, err = r.breaker.Execute(func() (interface{}, error) {
		return nil, r.pub.Publish(r.topic, body)
	})
	if err != nil {
		return err
	}
	r.lastTick = s.Tick()
	r.sent = true
	return nil
}

func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	defer r.pub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Report(r.channel.Latest()); err != nil {
				log.Debug().Err(err).Msg("Telemetry publish failed")
			}
		}
	}
}
