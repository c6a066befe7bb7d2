// ConnPool dials the N physical connections that back a multi-Port fan-out
// group (see portgroup.DialGroup): each dialed net.Conn is wrapped with
// NewTCP into a traitport Endpoint and handed to its own Port for the
// Group's entire lifetime.
//
// A Group never returns connections mid-life — it holds all n of them until
// Close tears the whole Group down — so unlike a conventional borrow/return
// pool this one only ever grows (up to maxConns) and never recycles a
// connection back for reuse; there is no Put.
package transport

import (
	"fmt"
	"net"
	"sync"
)

// ConnPool dials up to maxConns connections to a single address on demand.
type ConnPool struct {
	mu       sync.Mutex
	addr     string                   // Target address
	maxConns int                      // Maximum number of connections
	curConns int                      // Currently dialed connections
	factory  func() (net.Conn, error) // Connection factory function
}

// NewConnPool creates a connection pool that dials at most maxConns
// connections through factory.
func NewConnPool(addr string, maxConns int, factory func() (net.Conn, error)) *ConnPool {
	return &ConnPool{
		addr:     addr,
		maxConns: maxConns,
		factory:  factory,
	}
}

// Get dials and returns one new connection, failing once maxConns have
// already been handed out. A Group dials exactly maxConns connections at
// construction and holds all of them for its lifetime, so there is no
// borrow/return path to block on here the way a conventional pool has.
func (p *ConnPool) Get() (net.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.curConns >= p.maxConns {
		return nil, fmt.Errorf("connection pool exhausted")
	}

	conn, err := p.factory()
	if err != nil {
		return nil, err
	}

	p.curConns++
	return conn, nil
}
