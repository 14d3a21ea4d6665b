// Package bridge mirrors every broadcast onto NATS JetStream so auditing
// and future multi-instance consumers can replay room traffic. Publishing is
// fire-and-forget through a buffered channel, strictly off the broadcast
// path: a slow or absent broker never delays message delivery.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/astromitra/consultroom/go/internal/metrics"
)

// Config holds NATS connection and stream settings.
type Config struct {
	URL           string
	StreamName    string
	SubjectPrefix string
	QueueSize     int
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns default bridge configuration.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		StreamName:    "CHAT_EVENTS",
		SubjectPrefix: "chat.rooms",
		QueueSize:     1000,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

type envelope struct {
	RoomID    string          `json:"room_id"`
	EventType string          `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Publisher publishes room events to JetStream from a worker goroutine.
type Publisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config Config
	ch     chan envelope
}

// NewPublisher connects to NATS and ensures the chat event stream exists.
func NewPublisher(ctx context.Context, config Config) (*Publisher, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     config.StreamName,
		Subjects: []string{config.SubjectPrefix + ".>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return &Publisher{
		nc:     nc,
		js:     js,
		config: config,
		ch:     make(chan envelope, config.QueueSize),
	}, nil
}

// Publish enqueues one event. Never blocks; a full queue drops the event.
func (p *Publisher) Publish(roomID string, eventType string, data []byte) {
	select {
	case p.ch <- envelope{RoomID: roomID, EventType: eventType, Timestamp: time.Now(), Payload: data}:
	default:
		metrics.BridgeDropped.Inc()
		log.Warn().Str("room_id", roomID).Msg("bridge queue full, dropping event")
	}
}

// Run drains the queue until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	log.Info().
		Str("stream", p.config.StreamName).
		Str("subject_prefix", p.config.SubjectPrefix).
		Msg("event bridge started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("event bridge shutting down")
			return nil
		case env := <-p.ch:
			p.publish(ctx, env)
		}
	}
}

func (p *Publisher) publish(ctx context.Context, env envelope) {
	subject := fmt.Sprintf("%s.%s.%s", p.config.SubjectPrefix, env.RoomID, env.EventType)

	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal bridge envelope")
		metrics.BridgePublishes.WithLabelValues("error").Inc()
		return
	}

	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		metrics.BridgePublishes.WithLabelValues("error").Inc()
		log.Error().
			Err(err).
			Str("subject", subject).
			Msg("failed to publish event to JetStream")
		return
	}
	metrics.BridgePublishes.WithLabelValues("ok").Inc()
}

// Stop closes the NATS connection.
func (p *Publisher) Stop() {
	log.Info().Msg("stopping event bridge")
	if p.nc != nil {
		p.nc.Close()
	}
}
