package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/danmuck/opcuactl/internal/observability"
	"github.com/danmuck/opcuactl/internal/protocol/service"
	"github.com/rs/zerolog/log"
)

var ErrDuplicateHandle = errors.New("session: duplicate request handle")

// Delivery selects how a response is claimed.
type Delivery uint8

const (
	// DeliverySync responses are claimed by handle with TakeResponse.
	DeliverySync Delivery = iota
	// DeliveryAsync responses are drained in bulk by AsyncResponses.
	DeliveryAsync
)

func (d Delivery) String() string {
	if d == DeliveryAsync {
		return "async"
	}
	return "sync"
}

type pendingResponse struct {
	response service.Response
	delivery Delivery
}

// QueueStats is a point-in-time view of a MessageQueue.
type QueueStats struct {
	Inflight int
	Pending  int
	Orphans  uint64
	Expired  uint64
}

// MessageQueue correlates requests and responses by request handle. A handle
// is in at most one of inflight or responses. No method blocks.
type MessageQueue struct {
	mu        sync.Mutex
	inflight  map[uint32]Delivery
	responses map[uint32]pendingResponse
	changed   chan struct{}
	orphans   uint64
	expired   uint64

	// newest is the latest handle added, in serial order; drain order is
	// measured back from it.
	newest     uint32
	haveNewest bool

	outbox *Outbox
}

func NewMessageQueue(outbox *Outbox) *MessageQueue {
	return &MessageQueue{
		inflight:  make(map[uint32]Delivery),
		responses: make(map[uint32]pendingResponse),
		changed:   make(chan struct{}),
		outbox:    outbox,
	}
}

// AddRequest records req as inflight and queues it for sending. A closed
// outbox is not an error here; the request stays inflight until it expires
// or the queue is cleared.
func (q *MessageQueue) AddRequest(req service.Request, delivery Delivery) error {
	handle := req.RequestHeader().RequestHandle

	q.mu.Lock()
	if _, ok := q.inflight[handle]; ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %d inflight", ErrDuplicateHandle, handle)
	}
	if _, ok := q.responses[handle]; ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %d unclaimed", ErrDuplicateHandle, handle)
	}
	q.inflight[handle] = delivery
	if !q.haveNewest || HandleBefore(q.newest, handle) {
		q.newest = handle
		q.haveNewest = true
	}
	q.mu.Unlock()

	if err := q.outbox.Push(Outbound{Request: req}); err != nil {
		log.Warn().
			Err(err).
			Uint32("handle", handle).
			Str("service", service.Name(req)).
			Msg("session.MessageQueue.AddRequest outbox rejected request")
	}
	return nil
}

// StoreResponse files resp under its handle if a request is inflight for it.
// Responses for unknown handles are dropped.
func (q *MessageQueue) StoreResponse(resp service.Response) {
	handle := resp.ResponseHeader().RequestHandle

	q.mu.Lock()
	delivery, ok := q.inflight[handle]
	if !ok {
		q.orphans++
		q.mu.Unlock()
		observability.RecordOrphanResponse()
		log.Warn().
			Uint32("handle", handle).
			Str("service", service.Name(resp)).
			Msg("session.MessageQueue.StoreResponse dropping orphan response")
		return
	}
	delete(q.inflight, handle)
	q.responses[handle] = pendingResponse{response: resp, delivery: delivery}
	q.broadcastLocked()
	q.mu.Unlock()
}

// TakeResponse removes and returns the response stored for handle.
func (q *MessageQueue) TakeResponse(handle uint32) (service.Response, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	pending, ok := q.responses[handle]
	if !ok {
		return nil, false
	}
	delete(q.responses, handle)
	return pending.response, true
}

// AsyncResponses removes every stored async response in issue order. Each
// handle is keyed by its distance from the newest handle added, so handles
// issued after a wrap sort last and the order is total for any set of
// handles issued within one 2^32 cycle.
func (q *MessageQueue) AsyncResponses() []service.Response {
	q.mu.Lock()
	handles := make([]uint32, 0, len(q.responses))
	for handle, pending := range q.responses {
		if pending.delivery == DeliveryAsync {
			handles = append(handles, handle)
		}
	}
	next := q.newest + 1
	sort.Slice(handles, func(i, j int) bool {
		return handles[i]-next < handles[j]-next
	})
	out := make([]service.Response, 0, len(handles))
	for _, handle := range handles {
		out = append(out, q.responses[handle].response)
		delete(q.responses, handle)
	}
	q.mu.Unlock()
	return out
}

// RequestHasTimedOut forgets handle. A response that arrives later is an
// orphan.
func (q *MessageQueue) RequestHasTimedOut(handle uint32) {
	q.mu.Lock()
	_, inflight := q.inflight[handle]
	_, stored := q.responses[handle]
	delete(q.inflight, handle)
	delete(q.responses, handle)
	if inflight || stored {
		q.expired++
	}
	q.mu.Unlock()

	if !inflight && !stored {
		log.Debug().
			Uint32("handle", handle).
			Msg("session.MessageQueue.RequestHasTimedOut handle was not tracked")
	}
}

// Clear drops all inflight and stored entries. Waiters are woken.
func (q *MessageQueue) Clear() {
	q.mu.Lock()
	clear(q.inflight)
	clear(q.responses)
	q.broadcastLocked()
	q.mu.Unlock()
}

// Quit queues the sentinel that stops the outbox consumer.
func (q *MessageQueue) Quit() {
	if err := q.outbox.Push(QuitOutbound()); err != nil {
		log.Debug().Err(err).Msg("session.MessageQueue.Quit outbox already closed")
	}
}

// Changed returns a channel closed on the next stored response or Clear.
// Callers must fetch it before checking for their response.
func (q *MessageQueue) Changed() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.changed
}

func (q *MessageQueue) Inflight(handle uint32) (Delivery, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delivery, ok := q.inflight[handle]
	return delivery, ok
}

func (q *MessageQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Inflight: len(q.inflight),
		Pending:  len(q.responses),
		Orphans:  q.orphans,
		Expired:  q.expired,
	}
}

func (q *MessageQueue) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// HandleBefore reports whether a was issued before b, treating handles as
// serial numbers modulo 2^32. It is only meaningful for handles less than
// 2^31 apart.
func HandleBefore(a, b uint32) bool {
	return int32(a-b) < 0
}
