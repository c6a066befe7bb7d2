// Package portgroup fans a single logical peer relationship out across
// several already-open Ports, for when one peer relationship needs more
// concurrent outbound calls than one Port's CallSlotCapacity allows
// (spec.md §9's "one call-slot pool per Port" note on its own is silent on
// how to scale past that cap — this is the module's answer).
//
// Three strategies are implemented, generalized from the teacher's
// address-balancing loadbalance package to balancing across live Ports
// instead of dialable addresses:
//   - RoundRobin:      identical Ports, no particular affinity needed
//   - WeightedRandom:  heterogeneous peers (e.g. one has more CallSlotCapacity)
//   - ConsistentHash:  calls keyed by e.g. target ServiceID need session affinity
package portgroup

import "traitport/port"

// Member is one Port participating in a Group, with a balancing weight.
type Member struct {
	Port   *port.Port
	Weight int
}

// Balancer selects one Member from a Group on every outbound call — must be
// goroutine-safe, since Group.Call may be invoked concurrently.
type Balancer interface {
	Pick(members []Member) (*Member, error)
	Name() string
}
