// Package stream publishes committed events to NATS JetStream for
// downstream consumers. Publishing is best-effort: a failed or dropped
// publish is recoverable from the Postgres event log.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	// StreamName is the outbound JetStream stream.
	StreamName = "DYAD_EVENTS"

	// SubjectPrefix is the base of every event subject:
	// dyad.events.{event_type}
	SubjectPrefix = "dyad.events"
)

// Connect dials NATS and opens a JetStream context.
func Connect(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream context: %w", err)
	}
	return nc, js, nil
}

// EnsureStream creates or updates the outbound events stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{SubjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Printf("INFO: ensured outbound stream %s", StreamName)
	return nil
}

// PublishableEvent is a committed event ready for outbound publishing.
type PublishableEvent struct {
	Sequence  int64       `json:"sequence"`
	EventID   string      `json:"event_id"`
	EventType string      `json:"event_type"`
	Block     uint64      `json:"block"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Publisher drains the publish channel onto JetStream subjects.
type Publisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableEvent
}

func NewPublisher(js jetstream.JetStream, inputChan <-chan PublishableEvent) *Publisher {
	return &Publisher{js: js, inputChan: inputChan}
}

// Run publishes until ctx is cancelled or the input channel closes.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-p.inputChan:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, evt); err != nil {
				// Non-fatal: consumers can query the event log directly.
				log.Printf("WARN: outbound publish failed seq=%d: %v", evt.Sequence, err)
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", SubjectPrefix, evt.EventType)
	_, err = p.js.Publish(ctx, subject, data)
	return err
}
