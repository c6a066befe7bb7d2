// Package client implements the caller side of one Port's duplex channel:
// a bounded pool of call slots, each a mailbox a goroutine blocks on while
// its request is in flight, per spec.md §4.3.
//
// Call flow:
//
//	Call(ctx, payload)
//	  → acquire a CallSlot from the pool (blocks, bounded by SlotTimeout)
//	  → tag payload with the slot's request SlotTag, send it
//	  → block on the slot's mailbox for the matching response
//	  → release the slot back to the pool
//
// This generalizes the teacher's ClientTransport (one sequence-number-keyed
// sync.Map of response channels, unbounded) into a fixed-capacity slot pool:
// spec.md §4.3 requires a hard cap on concurrent outbound calls (backpressure
// via ErrTooManyInflight) rather than the teacher's "allocate seq numbers
// forever" approach.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"traitport/packet"
)

// SlotID names one of a Client's fixed pool of call slots.
type SlotID uint32

// ErrTooManyInflight is returned by Call when every slot is in use and none
// frees up before SlotTimeout elapses — spec.md §7's backpressure signal.
var ErrTooManyInflight = errors.New("client: too many inflight calls")

// ErrPeerGone is returned by Call (and delivered to any call still waiting)
// once the response stream has closed — the peer disconnected or the Port
// is shutting down.
var ErrPeerGone = errors.New("client: peer gone")

// defaultSlotTimeout is the release-build value of spec.md §9's T_call_slot:
// how long Call blocks waiting for a free slot before giving up.
const defaultSlotTimeout = 5 * time.Second

// defaultShutdownTimeout is spec.md §4.3/§5's T_client_shutdown: how long
// Shutdown waits for the response-dispatch goroutine to join before panicking.
const defaultShutdownTimeout = 100 * time.Millisecond

type callSlot struct {
	id      SlotID
	mailbox chan packet.Packet
}

// Client owns the request-sending half of a Port's duplex channel: a fixed
// pool of call slots and the goroutine that demultiplexes the Multiplexer's
// response stream back onto the slot that's waiting for it.
type Client struct {
	send      func(packet.Packet) error
	responses <-chan packet.Packet
	logger    *zap.Logger

	// SlotTimeout overrides defaultSlotTimeout; exported so tests can set it
	// to a long duration instead of relying on a build tag, since spec.md's
	// debug/release distinction is a per-instance knob here, not a Go build
	// constraint.
	SlotTimeout time.Duration
	// ShutdownTimeout overrides defaultShutdownTimeout, same rationale.
	ShutdownTimeout time.Duration

	free  chan *callSlot
	slots []*callSlot

	mu     sync.Mutex
	inUse  map[SlotID]*callSlot
	closed bool

	done         chan struct{}
	shutdownOnce sync.Once
}

// New creates a Client with a fixed pool of capacity call slots, draining
// responses off the given channel (the Multiplexer's Responses()) until it
// closes. send writes one packet atomically to the duplex channel; callers
// sharing a connection with a Server must serialize it themselves (it is the
// same send function both sides are handed, already synchronized by
// transport.NewTCP/NewInProcess).
func New(send func(packet.Packet) error, responses <-chan packet.Packet, capacity int, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		send:            send,
		responses:       responses,
		logger:          logger,
		SlotTimeout:     defaultSlotTimeout,
		ShutdownTimeout: defaultShutdownTimeout,
		free:            make(chan *callSlot, capacity),
		slots:           make([]*callSlot, capacity),
		inUse:           make(map[SlotID]*callSlot),
		done:            make(chan struct{}),
	}
	for i := 0; i < capacity; i++ {
		s := &callSlot{id: SlotID(i), mailbox: make(chan packet.Packet, 1)}
		c.slots[i] = s
		c.free <- s
	}
	go c.dispatchLoop()
	return c
}

// Call sends payload as a request and blocks for the matching response,
// implementing spec.md §4.3's four steps: acquire a slot, send, wait, release.
func (c *Client) Call(ctx context.Context, payload []byte) ([]byte, error) {
	slot, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer c.release(slot)

	req := packet.Packet{SlotTag: packet.NewRequestTag(uint32(slot.id)), Payload: payload}
	if err := c.send(req); err != nil {
		return nil, err
	}

	// No user-facing cancellation past this point (spec.md §5): once the
	// request is on the wire, Call blocks on the mailbox alone until the
	// peer responds or the response stream closes.
	resp, ok := <-slot.mailbox
	if !ok {
		return nil, ErrPeerGone
	}
	return resp.Payload, nil
}

func (c *Client) acquire(ctx context.Context) (*callSlot, error) {
	timer := time.NewTimer(c.SlotTimeout)
	defer timer.Stop()

	select {
	case slot := <-c.free:
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			c.free <- slot
			return nil, ErrPeerGone
		}
		c.inUse[slot.id] = slot
		c.mu.Unlock()
		return slot, nil
	case <-timer.C:
		return nil, ErrTooManyInflight
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) release(slot *callSlot) {
	c.mu.Lock()
	delete(c.inUse, slot.id)
	c.mu.Unlock()
	// Drain any stale response a late/duplicate delivery left behind so the
	// slot is clean for its next occupant.
	select {
	case <-slot.mailbox:
	default:
	}
	c.free <- slot
}

// dispatchLoop is the single goroutine reading the Multiplexer's response
// stream and routing each packet to the call slot it's tagged for — the
// same single-reader discipline spec.md's Multiplexer already enforces
// upstream, just fanned back out here by SlotId.
func (c *Client) dispatchLoop() {
	for resp := range c.responses {
		c.mu.Lock()
		slot, ok := c.inUse[SlotID(resp.SlotID())]
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("client: response for unknown/already-released slot", zap.Uint32("slot", resp.SlotID()))
			continue
		}
		select {
		case slot.mailbox <- resp:
		default:
			c.logger.Warn("client: slot mailbox full, dropping response", zap.Uint32("slot", resp.SlotID()))
		}
	}

	c.mu.Lock()
	c.closed = true
	for _, slot := range c.inUse {
		close(slot.mailbox)
	}
	c.inUse = make(map[SlotID]*callSlot)
	c.mu.Unlock()

	close(c.done)
}

// Shutdown blocks until the response-dispatch goroutine has joined (the
// Multiplexer closed its response stream). A timeout means something is
// holding the duplex channel open when it shouldn't be — a misuse spec.md
// §5 treats as fatal, so this panics rather than returning an error.
func (c *Client) Shutdown() {
	c.shutdownOnce.Do(func() {
		select {
		case <-c.done:
		case <-time.After(c.ShutdownTimeout):
			panic(fmt.Sprintf("client: Shutdown timed out after %s waiting for dispatch goroutine to join", c.ShutdownTimeout))
		}
	})
}
