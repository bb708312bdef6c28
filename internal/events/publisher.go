// Package events publishes pipeline step events to NATS JetStream so
// downstream automation (rendering, upload, dashboards) can react without
// polling the database.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// StepEvent is the wire format for one pipeline step outcome.
type StepEvent struct {
	Step      string         `json:"step"`
	Platform  string         `json:"platform"`
	Success   bool           `json:"success"`
	Detail    map[string]any `json:"detail,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Publisher writes step events to a JetStream stream. A nil Publisher is a
// no-op, so callers run unchanged when NATS is not configured.
type Publisher struct {
	conn       *nats.Conn
	js         nats.JetStreamContext
	streamName string
}

// Connect dials NATS and makes sure the stream exists. An empty URL returns
// a nil Publisher.
func Connect(url, streamName string) (*Publisher, error) {
	if url == "" {
		return nil, nil
	}
	if streamName == "" {
		streamName = "QANAT"
	}

	nc, err := nats.Connect(url,
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Printf("[Events] NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[Events] NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	p := &Publisher{conn: nc, js: js, streamName: streamName}
	if err := p.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}

	log.Printf("[Events] connected to NATS at %s (stream %s)", url, streamName)
	return p, nil
}

func (p *Publisher) ensureStream() error {
	_, err := p.js.StreamInfo(p.streamName)
	if err == nil {
		return nil
	}
	_, err = p.js.AddStream(&nats.StreamConfig{
		Name:      p.streamName,
		Subjects:  []string{"qanat.>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   nats.FileStorage,
		Replicas:  1,
		Discard:   nats.DiscardOld,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	log.Printf("[Events] created JetStream stream: %s", p.streamName)
	return nil
}

// PublishStep publishes one step outcome to qanat.steps.<step>.<platform>.
// Publish failures are logged, not returned: events are observability, not
// pipeline state.
func (p *Publisher) PublishStep(ctx context.Context, event StepEvent) {
	if p == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[Events] failed to marshal step event: %v", err)
		return
	}

	subject := fmt.Sprintf("qanat.steps.%s.%s", event.Step, event.Platform)
	if _, err := p.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		log.Printf("[Events] failed to publish %s: %v", subject, err)
		return
	}
	log.Printf("[Events] published %s (success=%v)", subject, event.Success)
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Close()
}
