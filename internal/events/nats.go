// internal/events/nats.go
package events

import (
	"context"
	"fmt"

	nats "github.com/nats-io/nats.go"
)

// NATSPublisher publishes events on "<prefix>.<type>".
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	owned  bool
}

// NewNATSPublisher returns a publisher on an existing connection.
func NewNATSPublisher(conn *nats.Conn, prefix string) *NATSPublisher {
	return &NATSPublisher{conn: conn, prefix: prefix}
}

// ConnectNATS dials url and returns a publisher that closes the connection on Close.
func ConnectNATS(url, prefix string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("conference-lock"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	p := NewNATSPublisher(conn, prefix)
	p.owned = true
	return p, nil
}

// Subject returns the subject events of type t are published on.
func (p *NATSPublisher) Subject(t Type) string {
	if p.prefix == "" {
		return string(t)
	}
	return p.prefix + "." + string(t)
}

func (p *NATSPublisher) Publish(_ context.Context, event Event) error {
	data, err := encode(event)
	if err != nil {
		return err
	}
	return p.conn.Publish(p.Subject(event.Type), data)
}

func (p *NATSPublisher) Close() error {
	if !p.owned {
		return nil
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return err
	}
	return nil
}
