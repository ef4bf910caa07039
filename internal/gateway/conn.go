package gateway

import (
	"crypto/subtle"
	"sync"
)

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		// Still run a comparison of equal length so a length mismatch
		// does not short-circuit faster than a full compare.
		subtle.ConstantTimeCompare([]byte(a), []byte(a))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

type enqueueOutcome int

const (
	enqueueDelivered enqueueOutcome = iota
	enqueueReconciled
	enqueueBackpressure
)

// Conn is one live gateway connection for a single network. The RPC
// server drains Send() to stream events out and calls Ack()/Close() as
// the stream progresses.
type Conn struct {
	hub       *Hub
	networkID uint
	send      chan Event
	capacity  int

	mu               sync.Mutex
	pending          []Event // unacked, oldest first
	reconcilePending bool    // an unacked Reconcile is the overflow response already in flight
	closed           bool
	done             chan struct{}
}

// channelHeadroom sizes the transport channel larger than the
// retained-unacked accounting capacity. The two are deliberately
// different bounds: c.capacity is the policy limit from spec.md §4.8
// ("size C") that decides when to collapse pending deltas into a
// Reconcile, while the channel itself just needs enough room that a
// handful of sends before the reader catches up don't themselves look
// like a stalled transport.
const channelHeadroom = 4

func newConn(hub *Hub, networkID uint, capacity int) *Conn {
	return &Conn{
		hub:       hub,
		networkID: networkID,
		send:      make(chan Event, capacity+channelHeadroom),
		capacity:  capacity,
		done:      make(chan struct{}),
	}
}

// Send exposes the channel the RPC server reads from to stream events
// to the gateway.
func (c *Conn) Send() <-chan Event { return c.send }

// Done is closed when the connection is torn down, either by the RPC
// layer or by the Hub on backpressure.
func (c *Conn) Done() <-chan struct{} { return c.done }

// deliverLocked pushes evt onto the channel and pending list without
// running the overflow policy; used only for the initial Reconcile at
// Connect time, when send is guaranteed to have room.
func (c *Conn) deliverLocked(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.send <- evt
	c.pending = append(c.pending, evt)
	if evt.Type == EventReconcile {
		c.reconcilePending = true
	}
}

// enqueue applies spec.md §4.8's overflow/backpressure policy. Two
// independent conditions are checked:
//
//   - the retained-unacked queue (c.pending) "would overflow" once evt
//     is added: the server has more outstanding deltas than the
//     gateway has acked room for. Unless the queue's tail is already an
//     unacked Reconcile (meaning the server already tried this and the
//     gateway still has not caught up), this is resolved by discarding
//     the buffered deltas and sending a single Reconcile instead.
//   - the outbound channel itself is full, meaning the gateway (or its
//     stream reader) is not draining messages at all. This is always
//     terminal, independent of the pending-queue state.
func (c *Conn) enqueue(evt Event) enqueueOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return enqueueBackpressure
	}

	toSend := evt
	if len(c.pending)+1 > c.capacity {
		if c.reconcilePending {
			return enqueueBackpressure
		}
		ns := c.hub.stateFor(c.networkID)
		ns.mu.Lock()
		reconcile := ns.snapshotLocked(c.networkID)
		ns.mu.Unlock()
		toSend = reconcile
		c.pending = nil
	}

	select {
	case c.send <- toSend:
	default:
		// The transport itself is not draining: nothing further to try.
		return enqueueBackpressure
	}

	c.pending = append(c.pending, toSend)
	c.reconcilePending = toSend.Type == EventReconcile
	if toSend.Seq != evt.Seq {
		return enqueueReconciled
	}
	return enqueueDelivered
}

// ack advances the acked watermark, discarding pending events with
// Seq <= seq and clearing reconcilePending once the outstanding
// reconcile itself is acked.
func (c *Conn) ack(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.pending[:0]
	for _, evt := range c.pending {
		if evt.Seq <= seq {
			if evt.Type == EventReconcile {
				c.reconcilePending = false
			}
			continue
		}
		kept = append(kept, evt)
	}
	c.pending = kept
}

func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}
