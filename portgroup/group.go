package portgroup

import "traitport/port"

// Group is a fixed set of already-open Ports toward one logical peer,
// fronted by a Balancer — the fan-out spec.md §9 leaves unaddressed for a
// peer relationship that outgrows one Port's CallSlotCapacity.
type Group struct {
	members  []Member
	balancer Balancer
}

// NewGroup creates a Group over the given Ports, each with equal weight 1,
// balanced with bal (RoundRobinBalancer if nil).
func NewGroup(ports []*port.Port, bal Balancer) *Group {
	members := make([]Member, len(ports))
	for i, p := range ports {
		members[i] = Member{Port: p, Weight: 1}
	}
	if bal == nil {
		bal = &RoundRobinBalancer{}
	}
	return &Group{members: members, balancer: bal}
}

// Call picks one member Port via the Group's Balancer and issues payload as
// a call on it.
func (g *Group) Call(payload []byte) ([]byte, error) {
	m, err := g.balancer.Pick(g.members)
	if err != nil {
		return nil, err
	}
	return m.Port.Call(payload)
}

// Close tears down every member Port in the group.
func (g *Group) Close() {
	for _, m := range g.members {
		m.Port.Close()
	}
}

// Len reports the number of member Ports.
func (g *Group) Len() int { return len(g.members) }
