package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NatsPublisher publishes JSON-encoded events on "<prefix>.<kind>".
type NatsPublisher struct {
	nc     *nats.Conn
	prefix string
}

// NewNatsPublisher builds a publisher on an established connection.
func NewNatsPublisher(nc *nats.Conn, prefix string) *NatsPublisher {
	if prefix == "" {
		prefix = "wallet"
	}
	return &NatsPublisher{nc: nc, prefix: prefix}
}

// Subject returns the subject an event kind is published on.
func (p *NatsPublisher) Subject(kind Kind) string {
	return p.prefix + "." + string(kind)
}

// Publish encodes and sends the event.
func (p *NatsPublisher) Publish(_ context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.nc.Publish(p.Subject(event.Kind), data); err != nil {
		return fmt.Errorf("publish %s: %w", event.Kind, err)
	}
	return nil
}
