// Package mux implements the Port's single reader thread: it demuxes one
// inbound packet stream into the two independent streams the rest of the
// Port consumes — requests for the local Server, responses for the local
// Client.
//
// Grounded on the teacher's transport.ClientTransport.recvLoop (one
// goroutine reading a byte stream must stay single-threaded; TCP is a byte
// stream and concurrent readers would corrupt frame boundaries), generalized
// from "route by sequence number into a pending-call map" to "route by
// request/response bit into one of two channels" — slot-level routing is the
// Client's job (see package client), not the Multiplexer's.
package mux

import (
	"sync"

	"go.uber.org/zap"

	"traitport/packet"
)

// Multiplexer owns the one reader goroutine for a Port's inbound half.
type Multiplexer struct {
	requests  chan packet.Packet
	responses chan packet.Packet
	recv      func() (packet.Packet, error)
	closeRecv func() error

	logger *zap.Logger

	shutdownOnce sync.Once
	done         chan struct{}
}

// New starts the reader goroutine over recv, demuxing into request/response
// streams. closeRecv, if non-nil, is invoked by Shutdown to unblock a
// currently-blocked recv (e.g. closing the underlying net.Conn).
func New(recv func() (packet.Packet, error), closeRecv func() error, logger *zap.Logger) *Multiplexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Multiplexer{
		requests:  make(chan packet.Packet, 64),
		responses: make(chan packet.Packet, 64),
		recv:      recv,
		closeRecv: closeRecv,
		logger:    logger,
		done:      make(chan struct{}),
	}
	go m.readLoop()
	return m
}

// Requests is the stream of inbound request packets, in arrival order.
func (m *Multiplexer) Requests() <-chan packet.Packet { return m.requests }

// Responses is the stream of inbound response packets, in arrival order.
// Ordering is guaranteed only within one of the two streams, never across
// them, matching spec.md §4.2.
func (m *Multiplexer) Responses() <-chan packet.Packet { return m.responses }

func (m *Multiplexer) readLoop() {
	defer close(m.requests)
	defer close(m.responses)
	defer close(m.done)

	for {
		p, err := m.recv()
		if err != nil {
			m.logger.Debug("multiplexer reader observed end of stream", zap.Error(err))
			return
		}
		if p.IsResponse() {
			m.responses <- p
		} else {
			m.requests <- p
		}
	}
}

// Shutdown closes the inbound half so the reader observes end-of-stream,
// then waits for it to finish closing both outbound streams. Idempotent.
// Must complete before Server or Client are joined, per spec.md §4.2 — a
// Client/Server blocked reading from an open-but-empty stream never wakes
// up otherwise.
func (m *Multiplexer) Shutdown() {
	m.shutdownOnce.Do(func() {
		if m.closeRecv != nil {
			if err := m.closeRecv(); err != nil {
				m.logger.Debug("closing recv half during shutdown", zap.Error(err))
			}
		}
	})
	<-m.done
}
