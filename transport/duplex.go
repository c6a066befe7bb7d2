// Package transport provides the concrete duplex byte-channel adapters a
// Port is built on: the send/recv halves the core protocol treats as an
// external contract (spec §6), plus a connection pool for dialing many of
// them toward one peer (see portgroup).
//
// traitport's core (packet/mux/client/server/registry/port) never imports
// net directly — it only depends on the Send/Recv function shapes below, so
// swapping a transport never touches multiplexing or call-slot logic.
package transport

import (
	"io"
	"net"
	"sync"

	"traitport/packet"
)

// Send writes one packet to the wire. Implementations must serialize
// concurrent calls themselves if multiple goroutines may call Send, exactly
// as the teacher's ClientTransport.Send did with its sending mutex.
type Send func(p packet.Packet) error

// Recv blocks for the next inbound packet, or returns an error (including
// io.EOF) once the peer is gone.
type Recv func() (packet.Packet, error)

// Endpoint bundles a duplex channel's two halves, plus a way to unblock a
// currently-blocked Recv during shutdown.
type Endpoint struct {
	Send Send
	Recv Recv
	// CloseRecv unblocks a pending Recv call, e.g. by closing the underlying
	// connection. port.Port wires this straight into mux.Multiplexer's
	// closeRecv parameter.
	CloseRecv func() error
}

// NewTCP wraps any net.Conn (TCP or Unix-domain — both satisfy net.Conn, so
// this one adapter covers the "concrete IPC transport" spec.md lists as out
// of scope: domain sockets) as a traitport duplex Endpoint, framing packets
// with the packet package exactly like the teacher's ClientTransport framed
// RPCMessages with protocol.Encode/Decode.
func NewTCP(conn net.Conn) *Endpoint {
	var mu sync.Mutex
	return &Endpoint{
		Send: func(p packet.Packet) error {
			mu.Lock()
			defer mu.Unlock()
			return packet.Encode(conn, p)
		},
		Recv: func() (packet.Packet, error) {
			return packet.Decode(conn)
		},
		CloseRecv: conn.Close,
	}
}

// inProcessPipe is a unidirectional packet channel (buffered, 16 packets) used to wire
// two in-process Endpoints together without touching the network stack —
// the "in-process channels" transport spec.md lists as out of scope, needed
// here so the core is end-to-end testable without a real socket.
type inProcessPipe struct {
	ch     chan packet.Packet
	mu     sync.Mutex
	closed bool
}

func newInProcessPipe() *inProcessPipe {
	return &inProcessPipe{ch: make(chan packet.Packet, 16)}
}

func (p *inProcessPipe) send(pkt packet.Packet) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return io.ErrClosedPipe
	}
	p.ch <- pkt
	return nil
}

func (p *inProcessPipe) recv() (packet.Packet, error) {
	pkt, ok := <-p.ch
	if !ok {
		return packet.Packet{}, io.EOF
	}
	return pkt, nil
}

func (p *inProcessPipe) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.ch)
}

// NewInProcess returns two Endpoints wired directly to each other, with no
// intervening network stack. closeA closes the pipe a sends on, so b's Recv
// unblocks with io.EOF (simulating a hanging up); closeB is the mirror.
// Each Endpoint's own CloseRecv unblocks its own Recv, the half mux.Shutdown
// needs to stop that side's reader goroutine.
func NewInProcess() (a, b *Endpoint, closeA, closeB func()) {
	aToB := newInProcessPipe()
	bToA := newInProcessPipe()

	closeA = aToB.close
	closeB = bToA.close
	a = &Endpoint{Send: aToB.send, Recv: bToA.recv, CloseRecv: func() error { bToA.close(); return nil }}
	b = &Endpoint{Send: bToA.send, Recv: aToB.recv, CloseRecv: func() error { aToB.close(); return nil }}
	return a, b, closeA, closeB
}
