package portgroup

import (
	"fmt"
	"net"

	"go.uber.org/zap"

	"traitport/codec"
	"traitport/port"
	"traitport/transport"
)

// DialGroup opens n TCP connections to addr through a transport.ConnPool and
// wraps each one in its own Port, giving a Group n*CallSlotCapacity
// concurrent outbound calls toward one peer process instead of one Port's
// worth — the case portgroup exists for.
//
// A Group holds its n connections for its whole lifetime rather than
// returning them between calls, so DialGroup calls Get exactly n times.
// Close tears every member Port (and so every dialed conn) down.
func DialGroup(addr string, n int, c codec.Codec, bal Balancer, logger *zap.Logger) (*Group, error) {
	if n <= 0 {
		return nil, fmt.Errorf("portgroup: n must be positive, got %d", n)
	}

	pool := transport.NewConnPool(addr, n, func() (net.Conn, error) {
		return net.Dial("tcp", addr)
	})

	ports := make([]*port.Port, 0, n)
	for i := 0; i < n; i++ {
		pc, err := pool.Get()
		if err != nil {
			for _, p := range ports {
				p.Close()
			}
			return nil, fmt.Errorf("portgroup: dialing member %d/%d: %w", i+1, n, err)
		}
		endpoint := transport.NewTCP(pc)
		ports = append(ports, port.New(endpoint, c, logger))
	}

	return NewGroup(ports, bal), nil
}
