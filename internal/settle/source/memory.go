package source

import (
	"context"
	"sync"
)

// Memory is an in-process Source that records every ack and nack. Nacked
// messages are not redelivered; a caller can Publish them again.
type Memory struct {
	mu     sync.Mutex
	queue  [][]byte
	notify chan struct{}
	closed chan struct{}
	once   sync.Once

	acks  []string
	nacks []string
	// AckErr and NackErr, when set, are returned after recording the answer.
	AckErr  error
	NackErr error
}

func NewMemory(payloads ...[]byte) *Memory {
	m := &Memory{
		notify: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	for _, p := range payloads {
		m.Publish(p)
	}
	return m
}

func (m *Memory) Publish(p []byte) {
	m.mu.Lock()
	m.queue = append(m.queue, p)
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *Memory) Receive(ctx context.Context) (*Message, error) {
	for {
		m.mu.Lock()
		if len(m.queue) > 0 {
			body := m.queue[0]
			m.queue = m.queue[1:]
			m.mu.Unlock()
			return &Message{Body: body}, nil
		}
		m.mu.Unlock()

		select {
		case <-m.closed:
			return nil, ErrClosed
		default:
		}
		select {
		case <-m.notify:
		case <-m.closed:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (m *Memory) Ack(_ context.Context, msg *Message) error {
	m.mu.Lock()
	m.acks = append(m.acks, string(msg.Body))
	err := m.AckErr
	m.mu.Unlock()
	return err
}

func (m *Memory) Nack(_ context.Context, msg *Message) error {
	m.mu.Lock()
	m.nacks = append(m.nacks, string(msg.Body))
	err := m.NackErr
	m.mu.Unlock()
	return err
}

// Acks and Nacks return the bodies answered so far, in order.
func (m *Memory) Acks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.acks...)
}

func (m *Memory) Nacks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.nacks...)
}

// Pending reports messages not yet received.
func (m *Memory) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *Memory) Close() error {
	m.once.Do(func() { close(m.closed) })
	return nil
}
