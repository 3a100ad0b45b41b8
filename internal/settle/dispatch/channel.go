// Package dispatch is the bounded hand-off between ingestion and settlement.
package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/chenzhangda16/web3-settle/internal/settle/model"
)

// ErrClosed is returned by Send once the consumer side has stopped and by Recv
// once the channel is closed and drained.
var ErrClosed = errors.New("dispatch channel closed")

// Channel is a FIFO of accepted requests. Send blocks while it is full, which
// is the only backpressure the ingestion stage sees.
type Channel struct {
	ch     chan model.TransferRequest
	closed chan struct{}
	once   sync.Once
}

func New(capacity int) *Channel {
	if capacity <= 0 {
		capacity = 1
	}
	return &Channel{
		ch:     make(chan model.TransferRequest, capacity),
		closed: make(chan struct{}),
	}
}

func (c *Channel) Send(ctx context.Context, req model.TransferRequest) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	select {
	case c.ch <- req:
		return nil
	case <-c.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv returns buffered requests even after Close, then ErrClosed.
func (c *Channel) Recv(ctx context.Context) (model.TransferRequest, error) {
	select {
	case req := <-c.ch:
		return req, nil
	default:
	}
	select {
	case req := <-c.ch:
		return req, nil
	case <-c.closed:
		select {
		case req := <-c.ch:
			return req, nil
		default:
			return model.TransferRequest{}, ErrClosed
		}
	case <-ctx.Done():
		return model.TransferRequest{}, ctx.Err()
	}
}

// Close marks the consumer side gone. It is idempotent and never closes the
// underlying channel, so a concurrent Send cannot panic.
func (c *Channel) Close() {
	c.once.Do(func() { close(c.closed) })
}

func (c *Channel) Len() int { return len(c.ch) }

func (c *Channel) Cap() int { return cap(c.ch) }
