// Package source adapts message brokers to the receive/ack/nack contract the
// ingestion stage consumes.
package source

import (
	"context"
	"errors"
	"strings"
)

// ErrClosed is returned by Receive once the source is closed.
var ErrClosed = errors.New("source closed")

// Message is one broker delivery. Body must not be modified by callers.
type Message struct {
	Body []byte
	// Key is the broker-side identity (kafka key, amqp message id); may be empty.
	Key string
	// Redeliveries counts earlier nacks of the same payload when the broker
	// exposes it.
	Redeliveries int

	handle any
}

// Source is a broker subscription. Every received message must be answered
// with exactly one Ack or Nack; a nacked message is delivered again later.
type Source interface {
	Receive(ctx context.Context) (*Message, error)
	Ack(ctx context.Context, m *Message) error
	Nack(ctx context.Context, m *Message) error
	Close() error
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, x := range parts {
		x = strings.TrimSpace(x)
		if x != "" {
			out = append(out, x)
		}
	}
	return out
}
