package snapshot

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"firestige.xyz/lswitch/internal/core"
)

// publisher is the part of *nats.Conn the sink needs.
type publisher interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSSink publishes each record as JSON to a NATS subject.
type NATSSink struct {
	conn    publisher
	subject string
}

// NewNATSSink connects to the NATS server at url.
func NewNATSSink(url, subject string) (*NATSSink, error) {
	nc, err := nats.Connect(url, nats.Name("lswitch"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return &NATSSink{conn: nc, subject: subject}, nil
}

// Write implements Sink.
func (n *NATSSink) Write(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: failed to encode record: %v", core.ErrPersistence, err)
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("%w: publish to %s: %v", core.ErrPersistence, n.subject, err)
	}
	return nil
}

// Close drains and closes the NATS connection.
func (n *NATSSink) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}
