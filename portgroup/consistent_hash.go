package portgroup

import (
	"fmt"
	"hash/crc32"
	"sort"
)

// ConsistentHashBalancer maps a string key (e.g. a stringified target
// ServiceID) to a Member using a hash ring: the same key always maps to the
// same Member until the ring changes, giving session affinity for calls
// that need to keep landing on the same Port — e.g. repeated calls to the
// same imported Proxy, so its handle's refcounting stays on one connection.
//
// Virtual nodes: each member is mapped to N virtual nodes on the ring, so a
// small member count still distributes roughly evenly.
type ConsistentHashBalancer struct {
	replicas int
	ring     []uint32
	nodes    map[uint32]*Member
}

// NewConsistentHashBalancer creates a hash ring with 100 virtual nodes per member.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		ring:     []uint32{},
		nodes:    make(map[uint32]*Member),
	}
}

// Add places a member onto the hash ring with N virtual nodes, keyed off its
// position in the group (callers pass a stable id, e.g. an index or address).
func (b *ConsistentHashBalancer) Add(id string, member *Member) {
	for i := 0; i < b.replicas; i++ {
		key := fmt.Sprintf("%s#%d", id, i)
		hash := crc32.ChecksumIEEE([]byte(key))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = member
	}
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

// PickByKey finds the member responsible for the given affinity key. It
// does not implement the Balancer interface (consistent hashing is
// key-based, not list-based). Group takes only a Balancer and never calls
// PickByKey.
func (b *ConsistentHashBalancer) PickByKey(key string) (*Member, error) {
	if len(b.ring) == 0 {
		return nil, fmt.Errorf("portgroup: hash ring is empty")
	}
	hash := crc32.ChecksumIEEE([]byte(key))

	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}

	return b.nodes[b.ring[idx]], nil
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
