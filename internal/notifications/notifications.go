package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Notifier delivers a titled alert to the operator.
type Notifier interface {
	Send(title, message string) error
}

var ErrQueueFull = errors.New("notification queue full")

// Ntfy posts alerts to an ntfy.sh compatible server.
type Ntfy struct {
	server string
	topic  string
	client *http.Client
}

// NewNtfy returns nil when no topic is configured; callers should fall back to Discard.
func NewNtfy(server, topic string) *Ntfy {
	if topic == "" {
		log.Warn().Msg("Ntfy topic not configured - notifications disabled")
		return nil
	}

	log.Info().
		Str("server", server).
		Str("topic", topic).
		Msg("Ntfy notifications initialized")

	return &Ntfy{
		server: strings.TrimRight(server, "/"),
		topic:  topic,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send sends a notification to ntfy
func (n *Ntfy) Send(title, message string) error {
	payload := map[string]interface{}{
		"topic":   n.topic,
		"title":   title,
		"message": message,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, n.server+"/", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy returned non-success status: %d", resp.StatusCode)
	}

	log.Debug().
		Str("title", title).
		Int("status", resp.StatusCode).
		Msg("Notification sent successfully")

	return nil
}

type Discard struct{}

func (Discard) Send(title, message string) error { return nil }

type message struct {
	title string
	body  string
}

// Async queues alerts and delivers them from its own goroutine so the control
// loop never waits on the network. A full queue drops the alert.
type Async struct {
	next  Notifier
	queue chan message
}

func NewAsync(next Notifier, size int) *Async {
	return &Async{next: next, queue: make(chan message, size)}
}

func (a *Async) Send(title, body string) error {
	select {
	case a.queue <- message{title: title, body: body}:
		return nil
	default:
		log.Warn().Str("title", title).Msg("Notification queue full, dropping alert")
		return ErrQueueFull
	}
}

// Run delivers queued alerts until ctx is cancelled.
func (a *Async) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-a.queue:
			if err := a.next.Send(m.title, m.body); err != nil {
				log.Error().Err(err).Str("title", m.title).Msg("Failed to deliver notification")
			}
		}
	}
}
