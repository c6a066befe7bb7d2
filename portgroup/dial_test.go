package portgroup

import (
	"encoding/json"
	"net"
	"testing"

	"traitport/codec"
	"traitport/envelope"
	"traitport/port"
	"traitport/transport"
)

// acceptEchoServer listens on 127.0.0.1:0 and spins up one Port per accepted
// connection, each exporting "echo" as a root service. Returns the chosen
// address; the listener and its Ports are torn down when t ends.
func acceptEchoServer(t *testing.T, n int) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		c := &codec.JSONCodec{}
		for i := 0; i < n; i++ {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			endpoint := transport.NewTCP(conn)
			p := port.New(endpoint, c, nil)
			p.ExportByName("echo", echoDispatcher, nil)
			t.Cleanup(p.Close)
		}
	}()

	return ln.Addr().String()
}

func TestDialGroupFansOutOverRealTCP(t *testing.T) {
	const n = 3
	addr := acceptEchoServer(t, n)

	group, err := DialGroup(addr, n, &codec.JSONCodec{}, &RoundRobinBalancer{}, nil)
	if err != nil {
		t.Fatalf("DialGroup: %v", err)
	}
	defer group.Close()

	if group.Len() != n {
		t.Fatalf("Len = %d, want %d", group.Len(), n)
	}

	c := &codec.JSONCodec{}
	req := envelope.Envelope{Target: 1, Selector: 0, Args: []byte(`"ping"`)}
	reqBytes, err := c.Encode(&req)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	for i := 0; i < n*2; i++ {
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
		var echoed string
		if err := json.Unmarshal(resp.Result, &echoed); err != nil {
			t.Fatalf("unmarshal result: %v", err)
		}
		if echoed != "ping" {
			t.Fatalf("echoed = %q, want %q", echoed, "ping")
		}
	}
}

func TestDialGroupRejectsNonPositiveN(t *testing.T) {
	if _, err := DialGroup("127.0.0.1:0", 0, &codec.JSONCodec{}, nil, nil); err == nil {
		t.Fatal("expected error for n=0")
	}
}
