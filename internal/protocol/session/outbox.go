package session

import (
	"context"
	"errors"
	"sync"

	"github.com/danmuck/opcuactl/internal/protocol/service"
)

var ErrOutboxClosed = errors.New("session: outbox closed")

// Outbound is one item for the transport writer: a request or the quit
// sentinel.
type Outbound struct {
	Request service.Request
	quit    bool
}

// QuitOutbound is the sentinel that stops the consumer.
func QuitOutbound() Outbound {
	return Outbound{quit: true}
}

func (o Outbound) IsQuit() bool {
	return o.quit
}

// Outbox is an unbounded FIFO with a single consumer. Push never blocks.
type Outbox struct {
	mu     sync.Mutex
	items  []Outbound
	closed bool
	ready  chan struct{}
}

func NewOutbox() *Outbox {
	return &Outbox{ready: make(chan struct{}, 1)}
}

func (o *Outbox) Push(item Outbound) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrOutboxClosed
	}
	o.items = append(o.items, item)
	o.mu.Unlock()

	select {
	case o.ready <- struct{}{}:
	default:
	}
	return nil
}

// Pop blocks until an item is available, ctx is done, or the outbox is
// closed and drained.
func (o *Outbox) Pop(ctx context.Context) (Outbound, error) {
	for {
		o.mu.Lock()
		if len(o.items) > 0 {
			item := o.items[0]
			o.items[0] = Outbound{}
			o.items = o.items[1:]
			o.mu.Unlock()
			return item, nil
		}
		closed := o.closed
		o.mu.Unlock()
		if closed {
			return Outbound{}, ErrOutboxClosed
		}

		select {
		case <-ctx.Done():
			return Outbound{}, ctx.Err()
		case <-o.ready:
		}
	}
}

// Close rejects further pushes. Items already queued can still be popped.
func (o *Outbox) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	select {
	case o.ready <- struct{}{}:
	default:
	}
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}
