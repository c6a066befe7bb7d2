package port

// The scenarios below are spec.md §8's seed end-to-end tests: service
// handles flowing as a call's return value (S1), as a call's argument (S2),
// recursively (S3), under slot exhaustion (S4, exercised at the client
// package level already), abrupt peer loss (S5), and joint teardown via
// DisableGC (S6). There is no teacher analogue for any of this — it is the
// module's novel 30%, built straight from spec.md §4.5/§8 and the Rust
// original's handle-exchange tests.

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"traitport/codec"
	"traitport/registry"
	"traitport/transport"
)

// counter is the "B" service of S1/S2: a trivial stateful object whose only
// capabilities are get/inc, standing in for the generated-skeleton shape
// spec.md §9 leaves out of scope.
type counter struct {
	mu sync.Mutex
	n  int
}

const (
	selCounterGet uint32 = 0
	selCounterInc uint32 = 1
)

func (c *counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func (c *counter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *counter) dispatcher() registry.Dispatcher {
	return func(selector uint32, args []byte) ([]byte, error) {
		switch selector {
		case selCounterGet:
			return json.Marshal(c.get())
		case selCounterInc:
			c.inc()
			return nil, nil
		default:
			return nil, fmt.Errorf("counter: unknown selector %d", selector)
		}
	}
}

// counterProxy is the handwritten stand-in for a generated proxy, exactly
// the shape bootstrap.EchoProxy already demonstrates for a single-method
// service.
type counterProxy struct {
	p *registry.Proxy
}

func (cp *counterProxy) Get() (int, error) {
	result, err := cp.p.Invoke(selCounterGet, nil)
	if err != nil {
		return 0, err
	}
	var n int
	if err := json.Unmarshal(result, &n); err != nil {
		return 0, err
	}
	return n, nil
}

func (cp *counterProxy) Inc() error {
	_, err := cp.p.Invoke(selCounterInc, nil)
	return err
}

func (cp *counterProxy) Close() error { return cp.p.Close() }

// rootA is the "A" root service all three scenarios call through: it can
// hand back a fresh counter (service_object_as_return), accept one as an
// argument and drive it (service_object_as_argument), or hand back a fresh
// rootA one recursion level deeper (recursive_service_object).
type rootA struct {
	host           *Port
	recursionCount int
}

const (
	selAsReturn       uint32 = 10
	selAsArgument     uint32 = 11
	selRecursive      uint32 = 12
	selRecursionCount uint32 = 13
)

func (a *rootA) dispatcher() registry.Dispatcher {
	return func(selector uint32, args []byte) ([]byte, error) {
		switch selector {
		case selAsReturn:
			b := &counter{}
			handle := a.host.Export(b.dispatcher(), nil)
			return json.Marshal(handle)

		case selAsArgument:
			var handle registry.HandleToExchange
			if err := json.Unmarshal(args, &handle); err != nil {
				return nil, err
			}
			proxy, err := a.host.ImportHandle(handle)
			if err != nil {
				return nil, err
			}
			cp := &counterProxy{p: proxy}
			for i := 0; i < 3; i++ {
				if err := cp.Inc(); err != nil {
					return nil, err
				}
			}
			// Transient use only: release the handle's share the moment
			// it's done. That share is the single one Port.Export granted,
			// so this DELETE frees B's entry on the caller's Port.
			if err := cp.Close(); err != nil {
				return nil, err
			}
			return nil, nil

		case selRecursive:
			next := &rootA{host: a.host, recursionCount: a.recursionCount + 1}
			handle := a.host.Export(next.dispatcher(), nil)
			return json.Marshal(handle)

		case selRecursionCount:
			return json.Marshal(a.recursionCount)

		default:
			return nil, fmt.Errorf("rootA: unknown selector %d", selector)
		}
	}
}

type rootAProxy struct {
	p *registry.Proxy
}

func (rp *rootAProxy) ServiceObjectAsReturn(importer *Port) (*counterProxy, error) {
	result, err := rp.p.Invoke(selAsReturn, nil)
	if err != nil {
		return nil, err
	}
	var handle registry.HandleToExchange
	if err := json.Unmarshal(result, &handle); err != nil {
		return nil, err
	}
	proxy, err := importer.ImportHandle(handle)
	if err != nil {
		return nil, err
	}
	return &counterProxy{p: proxy}, nil
}

func (rp *rootAProxy) ServiceObjectAsArgument(host *Port, b *counter) error {
	handle := host.Export(b.dispatcher(), nil)
	args, err := json.Marshal(handle)
	if err != nil {
		return err
	}
	_, err = rp.p.Invoke(selAsArgument, args)
	return err
}

func (rp *rootAProxy) RecursiveServiceObject(importer *Port) (*rootAProxy, error) {
	result, err := rp.p.Invoke(selRecursive, nil)
	if err != nil {
		return nil, err
	}
	var handle registry.HandleToExchange
	if err := json.Unmarshal(result, &handle); err != nil {
		return nil, err
	}
	proxy, err := importer.ImportHandle(handle)
	if err != nil {
		return nil, err
	}
	return &rootAProxy{p: proxy}, nil
}

func (rp *rootAProxy) GetRecursionCount() (int, error) {
	result, err := rp.p.Invoke(selRecursionCount, nil)
	if err != nil {
		return 0, err
	}
	var n int
	if err := json.Unmarshal(result, &n); err != nil {
		return 0, err
	}
	return n, nil
}

func (rp *rootAProxy) Close() error { return rp.p.Close() }

func newScenarioPortPair(t *testing.T) (pa, pb *Port, cleanup func()) {
	t.Helper()
	a, b, closeA, closeB := transport.NewInProcess()
	c := &codec.JSONCodec{}
	pa = New(a, c, nil)
	pb = New(b, c, nil)
	return pa, pb, func() {
		pa.Close()
		pb.Close()
		closeA()
		closeB()
	}
}

// TestScenarioS1ServiceObjectAsReturn is spec.md §8's S1.
func TestScenarioS1ServiceObjectAsReturn(t *testing.T) {
	pa, pb, cleanup := newScenarioPortPair(t)
	defer cleanup()

	root := &rootA{host: pb}
	pb.ExportByName("A", root.dispatcher(), nil)

	rootProxy, err := pa.ImportRoot("A")
	if err != nil {
		t.Fatalf("ImportRoot: %v", err)
	}
	rp := &rootAProxy{p: rootProxy}

	bProxy, err := rp.ServiceObjectAsReturn(pa)
	if err != nil {
		t.Fatalf("ServiceObjectAsReturn: %v", err)
	}

	for i, want := range []int{0, 1, 2} {
		if i > 0 {
			if err := bProxy.Inc(); err != nil {
				t.Fatalf("Inc: %v", err)
			}
		}
		got, err := bProxy.Get()
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got != want {
			t.Fatalf("Get() round %d = %d, want %d", i, got, want)
		}
	}

	if err := bProxy.Close(); err != nil {
		t.Fatalf("B.Close: %v", err)
	}
	if err := rp.Close(); err != nil {
		t.Fatalf("A.Close: %v", err)
	}

	if got := pb.RegistrySize(); got != 0 {
		t.Fatalf("issuer RegistrySize after dropping B and A = %d, want 0", got)
	}
	if got := pa.RegistrySize(); got != 0 {
		t.Fatalf("importer RegistrySize = %d, want 0 (it hosts nothing)", got)
	}
}

// TestScenarioS2ServiceObjectAsArgument is spec.md §8's S2.
func TestScenarioS2ServiceObjectAsArgument(t *testing.T) {
	pa, pb, cleanup := newScenarioPortPair(t)
	defer cleanup()

	root := &rootA{host: pb}
	pb.ExportByName("A", root.dispatcher(), nil)

	rootProxy, err := pa.ImportRoot("A")
	if err != nil {
		t.Fatalf("ImportRoot: %v", err)
	}
	rp := &rootAProxy{p: rootProxy}

	b := &counter{}
	if got := pa.RegistrySize(); got != 0 {
		t.Fatalf("pa RegistrySize before export = %d, want 0", got)
	}

	if err := rp.ServiceObjectAsArgument(pa, b); err != nil {
		t.Fatalf("ServiceObjectAsArgument: %v", err)
	}

	if got := b.get(); got != 3 {
		t.Fatalf("local counter value after 3 remote Inc calls = %d, want 3", got)
	}
	// The peer's handler closed its transient proxy for B as soon as it was
	// done with it, so B's outstanding-handle share is already released by
	// the time Invoke returns.
	if got := pa.RegistrySize(); got != 0 {
		t.Fatalf("pa RegistrySize after peer released its share = %d, want 0", got)
	}

	if err := rp.Close(); err != nil {
		t.Fatalf("A.Close: %v", err)
	}
	if got := pb.RegistrySize(); got != 0 {
		t.Fatalf("pb RegistrySize after dropping A = %d, want 0", got)
	}
}

// TestScenarioS3RecursiveServiceObject is spec.md §8's S3.
func TestScenarioS3RecursiveServiceObject(t *testing.T) {
	pa, pb, cleanup := newScenarioPortPair(t)
	defer cleanup()

	root := &rootA{host: pb}
	pb.ExportByName("A", root.dispatcher(), nil)

	rootProxy, err := pa.ImportRoot("A")
	if err != nil {
		t.Fatalf("ImportRoot: %v", err)
	}
	current := &rootAProxy{p: rootProxy}
	chain := []*rootAProxy{current}

	for i := 0; i < 10; i++ {
		next, err := current.RecursiveServiceObject(pa)
		if err != nil {
			t.Fatalf("RecursiveServiceObject step %d: %v", i, err)
		}
		chain = append(chain, next)
		current = next
	}

	count, err := current.GetRecursionCount()
	if err != nil {
		t.Fatalf("GetRecursionCount: %v", err)
	}
	if count != 10 {
		t.Fatalf("GetRecursionCount = %d, want 10", count)
	}

	// 1 root + 10 recursive returns == 11 live entries on the issuer side.
	if got := pb.RegistrySize(); got != 11 {
		t.Fatalf("pb RegistrySize with full chain held = %d, want 11", got)
	}

	for _, p := range chain {
		if err := p.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	if got := pb.RegistrySize(); got != 0 {
		t.Fatalf("pb RegistrySize after dropping the whole chain = %d, want 0", got)
	}
}

// TestScenarioS5AbruptPeerLoss is spec.md §8's S5.
func TestScenarioS5AbruptPeerLoss(t *testing.T) {
	a, b, closeA, closeB := transport.NewInProcess()
	c := &codec.JSONCodec{}
	pa := New(a, c, nil)
	pb := New(b, c, nil)

	// A handler that sleeps, so its calls are still in flight when the
	// channel is severed.
	slow := func(selector uint32, args []byte) ([]byte, error) {
		time.Sleep(200 * time.Millisecond)
		return json.Marshal("ok")
	}
	pb.ExportByName("slow", slow, nil)

	rootProxy, err := pa.ImportRoot("slow")
	if err != nil {
		t.Fatalf("ImportRoot: %v", err)
	}

	const inflight = 3
	errs := make(chan error, inflight)
	for i := 0; i < inflight; i++ {
		go func() {
			_, err := rootProxy.Invoke(0, nil)
			errs <- err
		}()
	}

	time.Sleep(20 * time.Millisecond) // let the calls land before we sever
	closeA()                          // severs pa's side of the duplex channel
	closeB()

	deadline := time.After(2 * time.Second)
	for i := 0; i < inflight; i++ {
		select {
		case err := <-errs:
			if err == nil {
				t.Fatalf("in-flight call should have failed after peer loss")
			}
		case <-deadline:
			t.Fatalf("in-flight call did not fail within the deadline")
		}
	}

	// Local shutdown must still complete cleanly.
	done := make(chan struct{})
	go func() {
		pa.Close()
		pb.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Close after peer loss did not complete")
	}
}

// TestScenarioS6JointTeardownWithDisableGC is spec.md §8's S6.
func TestScenarioS6JointTeardownWithDisableGC(t *testing.T) {
	pa, pb, cleanup := newScenarioPortPair(t)
	defer cleanup()

	pb.ExportByName("adder", func(selector uint32, args []byte) ([]byte, error) {
		return args, nil
	}, nil)

	proxy, err := pa.ImportRoot("adder")
	if err != nil {
		t.Fatalf("ImportRoot: %v", err)
	}

	pa.DisableGC()
	pb.DisableGC()

	if err := proxy.Close(); err != nil {
		t.Fatalf("Close under DisableGC should not itself error: %v", err)
	}
	if got := pb.RegistrySize(); got != 1 {
		t.Fatalf("pb RegistrySize after suppressed DELETE = %d, want 1", got)
	}
}
