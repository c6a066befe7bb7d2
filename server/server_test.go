package server

import (
	"bytes"
	"testing"
	"time"

	"traitport/packet"
)

type echoHandler struct{}

func (echoHandler) Handle(payload []byte) []byte {
	out := make([]byte, len(payload))
	copy(out, payload)
	return append([]byte("echo:"), out...)
}

func TestServerDispatchesAndRespondsOnMatchingSlot(t *testing.T) {
	requests := make(chan packet.Packet, 4)
	responses := make(chan packet.Packet, 4)

	send := func(p packet.Packet) error {
		responses <- p
		return nil
	}

	s := New(requests, send, echoHandler{}, 2, nil)

	requests <- packet.Packet{SlotTag: packet.NewRequestTag(3), Payload: []byte("hi")}

	select {
	case resp := <-responses:
		if !resp.IsResponse() {
			t.Fatalf("expected response packet")
		}
		if resp.SlotID() != 3 {
			t.Fatalf("SlotID = %d, want 3", resp.SlotID())
		}
		if !bytes.Equal(resp.Payload, []byte("echo:hi")) {
			t.Fatalf("Payload = %q, want %q", resp.Payload, "echo:hi")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for response")
	}

	close(requests)
	s.Shutdown()
}

func TestServerProcessesBurstWithBoundedWorkers(t *testing.T) {
	requests := make(chan packet.Packet, 20)
	responses := make(chan packet.Packet, 20)
	send := func(p packet.Packet) error {
		responses <- p
		return nil
	}

	s := New(requests, send, echoHandler{}, 4, nil)

	const n = 16
	for i := 0; i < n; i++ {
		requests <- packet.Packet{SlotTag: packet.NewRequestTag(uint32(i)), Payload: []byte{byte(i)}}
	}
	close(requests)

	seen := make(map[uint32]bool)
	for i := 0; i < n; i++ {
		select {
		case resp := <-responses:
			seen[resp.SlotID()] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d/%d responses", i, n)
		}
	}
	if len(seen) != n {
		t.Fatalf("got %d distinct slots, want %d", len(seen), n)
	}
	s.Shutdown()
}

func TestServerShutdownPanicsIfRequestsNeverClose(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("Shutdown should have panicked on timeout")
		}
	}()

	requests := make(chan packet.Packet) // intentionally never closed
	send := func(p packet.Packet) error { return nil }
	s := New(requests, send, echoHandler{}, 2, nil)
	s.ShutdownTimeout = 10 * time.Millisecond

	s.Shutdown()
}
