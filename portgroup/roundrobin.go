package portgroup

import (
	"fmt"
	"sync/atomic"
)

// RoundRobinBalancer distributes calls evenly across all members in order,
// using an atomic counter for lock-free, goroutine-safe operation.
//
// Best for: a group of otherwise-identical Ports.
type RoundRobinBalancer struct {
	counter int64
}

func (b *RoundRobinBalancer) Pick(members []Member) (*Member, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("portgroup: no members available")
	}
	index := atomic.AddInt64(&b.counter, 1) % int64(len(members))
	return &members[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
