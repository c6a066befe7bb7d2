package portgroup

import (
	"fmt"
	"math/rand"
)

// WeightedRandomBalancer selects a member probabilistically by weight: a
// member with weight 10 gets roughly 2x the traffic of one with weight 5.
//
// Best for: a group of Ports with different CallSlotCapacity or different
// underlying machine capacity.
//
// Algorithm:
//  1. Sum all weights → totalWeight
//  2. Generate random number r in [0, totalWeight)
//  3. Subtract each member's weight from r until r < 0
//  4. The member that makes r negative is selected
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(members []Member) (*Member, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("portgroup: no members available")
	}

	totalWeight := 0
	for _, m := range members {
		totalWeight += m.Weight
	}
	if totalWeight <= 0 {
		return nil, fmt.Errorf("portgroup: total weight must be positive")
	}

	r := rand.Intn(totalWeight)
	for i := range members {
		r -= members[i].Weight
		if r < 0 {
			return &members[i], nil
		}
	}

	return nil, fmt.Errorf("portgroup: unexpected error in weighted random selection")
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}
