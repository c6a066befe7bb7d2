package portgroup

import (
	"fmt"
	"testing"
)

func testMembers() []Member {
	return []Member{
		{Weight: 10},
		{Weight: 5},
		{Weight: 10},
	}
}

func TestRoundRobin(t *testing.T) {
	members := testMembers()
	b := &RoundRobinBalancer{}

	results := make([]*Member, 3)
	for i := 0; i < 3; i++ {
		m, err := b.Pick(members)
		if err != nil {
			t.Fatal(err)
		}
		results[i] = m
	}

	m, _ := b.Pick(members)
	if m != results[0] {
		t.Fatalf("expect wrap around to first member, got a different one")
	}
}

func TestRoundRobinEmpty(t *testing.T) {
	b := &RoundRobinBalancer{}
	if _, err := b.Pick(nil); err == nil {
		t.Fatal("expect error for empty members")
	}
}

func TestWeightedRandom(t *testing.T) {
	members := testMembers()
	b := &WeightedRandomBalancer{}

	counts := map[int]int{}
	n := 10000
	for i := 0; i < n; i++ {
		m, err := b.Pick(members)
		if err != nil {
			t.Fatal(err)
		}
		for idx := range members {
			if &members[idx] == m {
				counts[idx]++
			}
		}
	}

	// Weight ratio is 10:5:10, so member 0 and 2 should be ~2x member 1.
	ratio := float64(counts[0]) / float64(counts[1])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio member0/member1 = %.2f, expect ~2.0", ratio)
	}
}

func TestConsistentHash(t *testing.T) {
	members := testMembers()
	b := NewConsistentHashBalancer()
	for i := range members {
		b.Add(fmt.Sprintf("member-%d", i), &members[i])
	}

	m1, err := b.PickByKey("user-123")
	if err != nil {
		t.Fatal(err)
	}
	m2, err := b.PickByKey("user-123")
	if err != nil {
		t.Fatal(err)
	}
	if m1 != m2 {
		t.Fatalf("same key mapped to different members")
	}

	seen := map[*Member]bool{}
	for i := 0; i < 100; i++ {
		m, err := b.PickByKey(fmt.Sprintf("key-%d", i))
		if err != nil {
			t.Fatal(err)
		}
		seen[m] = true
	}

	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different members, got %d", len(seen))
	}
}
