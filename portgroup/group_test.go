package portgroup

import (
	"testing"

	"traitport/codec"
	"traitport/envelope"
	"traitport/port"
	"traitport/registry"
	"traitport/transport"
)

func echoDispatcher(selector uint32, args []byte) ([]byte, error) {
	return args, nil
}

func newConnectedPortPair(t *testing.T) (*port.Port, *port.Port) {
	t.Helper()
	a, b, _, _ := transport.NewInProcess()
	c := &codec.JSONCodec{}
	return port.New(a, c, nil), port.New(b, c, nil)
}

func TestGroupCallRoutesToSomeMember(t *testing.T) {
	client1, server1 := newConnectedPortPair(t)
	client2, server2 := newConnectedPortPair(t)
	defer client1.Close()
	defer client2.Close()
	defer server1.Close()
	defer server2.Close()

	id1 := server1.ExportByName("echo", echoDispatcher, nil)
	id2 := server2.ExportByName("echo", echoDispatcher, nil)

	proxy1, err := client1.ImportRoot("echo")
	if err != nil {
		t.Fatalf("ImportRoot 1: %v", err)
	}
	proxy2, err := client2.ImportRoot("echo")
	if err != nil {
		t.Fatalf("ImportRoot 2: %v", err)
	}
	if proxy1.Handle().ServiceID != id1 || proxy2.Handle().ServiceID != id2 {
		t.Fatalf("proxy handle does not match exported ServiceID")
	}

	// A Group fans out across the two client Ports; since each registry
	// freshly allocated ServiceID 1 for "echo", the same envelope targets
	// whichever member ends up picked.
	group := NewGroup([]*port.Port{client1, client2}, &RoundRobinBalancer{})
	if group.Len() != 2 {
		t.Fatalf("Len = %d, want 2", group.Len())
	}

	var target registry.ServiceID = id1
	c := &codec.JSONCodec{}
	req := envelope.Envelope{Target: uint64(target), Selector: 0, Args: []byte(`"ping"`)}
	reqBytes, err := c.Encode(&req)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	for i := 0; i < 4; i++ {
		respBytes, err := group.Call(reqBytes)
		if err != nil {
			t.Fatalf("Group.Call: %v", err)
		}
		var resp envelope.Response
		if err := c.Decode(respBytes, &resp); err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if resp.ErrKind != "" {
			t.Fatalf("unexpected error: %s", resp.ErrMessage)
		}
	}
}
