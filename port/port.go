// Package port is traitport's composition root: it wires one duplex
// transport.Endpoint through packet/mux/client/server/registry into a single
// Port, enforcing the concurrency model and shutdown order of spec.md §5.
package port

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"traitport/client"
	"traitport/codec"
	"traitport/envelope"
	"traitport/middleware"
	"traitport/mux"
	"traitport/registry"
	"traitport/server"
	"traitport/transport"
)

// CallSlotCapacity bounds the number of concurrent outbound calls a single
// Port may have in flight, per spec.md §3's stated default of 100 (matching
// the original source's `CALLSLOT_SIZE: u32 = 100`).
const CallSlotCapacity = 100

// ServerWorkers is spec.md §4.4's W.
const ServerWorkers = 4

// ErrEpochMismatch is returned when a received HandleToExchange carries an
// epoch different from the one the peer has used on every prior handle —
// spec.md §4.5's "receiving a handle whose epoch does not match the issuer's
// current epoch is a protocol error", detecting a peer that restarted (and
// so dropped all its prior service state) mid-session.
var ErrEpochMismatch = errors.New("port: handle epoch does not match peer's established epoch")

// Port owns one peer relationship end to end: the Multiplexer reading the
// duplex channel, the Client issuing outbound calls, the Server dispatching
// inbound ones into the local Registry, and the shared Codec both sides
// agreed on out of band.
type Port struct {
	endpoint *transport.Endpoint
	mux      *mux.Multiplexer
	client   *client.Client
	server   *server.Server
	registry *registry.Registry
	codec    codec.Codec
	logger   *zap.Logger

	epoch      uint64
	peerEpoch  atomic.Pointer[uint64]
	gcDisabled atomic.Bool

	// outbound wraps the raw client.Client.Call in mw's onion, applied fresh
	// around each Call's own request/response (see Call below); the zero
	// value (no mw given to New) is Chain()'s identity middleware.
	outbound middleware.Middleware
}

// New wires a Port around one duplex endpoint. c is the envelope codec both
// peers must already agree on (spec.md §6: codec choice is out-of-band, not
// carried on the wire). mw, if given, wraps both the server's dispatch path
// (inbound requests reaching this Port's Registry) and this Port's own
// outbound Call path in the same onion, outermost-first.
func New(endpoint *transport.Endpoint, c codec.Codec, logger *zap.Logger, mw ...middleware.Middleware) *Port {
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Port{
		endpoint: endpoint,
		codec:    c,
		logger:   logger,
		epoch:    randomEpoch(),
		outbound: middleware.Chain(mw...),
	}
	p.registry = registry.New(p.epoch, logger)
	dispatchHandler := p.outbound(func(_ context.Context, req envelope.Envelope) envelope.Response {
		return p.registry.Dispatch(req)
	})
	p.mux = mux.New(endpoint.Recv, endpoint.CloseRecv, logger)
	p.server = server.New(p.mux.Requests(), endpoint.Send, &dispatchAdapter{handler: dispatchHandler, codec: c}, ServerWorkers, logger)
	p.client = client.New(endpoint.Send, p.mux.Responses(), CallSlotCapacity, logger)
	return p
}

func randomEpoch() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("port: failed to generate epoch: %v", err))
	}
	return binary.BigEndian.Uint64(b[:])
}

// Epoch returns this Port's epoch; every HandleToExchange it issues carries it.
func (p *Port) Epoch() uint64 { return p.epoch }

// Call sends one pre-encoded request envelope and blocks for its response,
// satisfying registry.Caller so Proxy can call back through its owning Port
// without this package importing registry's Proxy (registry imports nothing
// from port — the dependency runs the other way).
//
// The actual send/receive is run as the innermost handler of this Port's
// outbound middleware chain, so a RetryMiddleware or TimeoutMiddleware given
// to New governs outbound calls the same way it governs inbound dispatch.
func (p *Port) Call(payload []byte) ([]byte, error) {
	var req envelope.Envelope
	if err := p.codec.Decode(payload, &req); err != nil {
		return nil, fmt.Errorf("port: %s: %w", envelope.ErrKindDecode, err)
	}

	// transportErr carries a real transport/codec failure out of the
	// HandlerFunc shape, which only returns an envelope.Response: a
	// middleware like RetryMiddleware may call this closure more than once,
	// so each Call gets its own local transportErr rather than sharing one
	// on the Port.
	var transportErr error
	send := func(ctx context.Context, req envelope.Envelope) envelope.Response {
		reqBytes, err := p.codec.Encode(&req)
		if err != nil {
			transportErr = err
			return envelope.Response{}
		}
		respBytes, err := p.client.Call(ctx, reqBytes)
		if err != nil {
			transportErr = err
			return envelope.Response{}
		}
		var resp envelope.Response
		if err := p.codec.Decode(respBytes, &resp); err != nil {
			transportErr = err
			return envelope.Response{}
		}
		return resp
	}

	resp := p.outbound(send)(context.Background(), req)
	if transportErr != nil {
		return nil, transportErr
	}
	out, err := p.codec.Encode(&resp)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GCDisabled reports whether DisableGC has been called, satisfying
// registry.Caller.
func (p *Port) GCDisabled() bool { return p.gcDisabled.Load() }

// DisableGC suppresses DELETE emission from every Proxy this Port has
// handed out, for joint/ordered teardown (spec.md §4.5, scenario S6): when
// both peers are shutting down together, there is no point racing DELETEs
// against a Close on the other side.
func (p *Port) DisableGC() { p.gcDisabled.Store(true) }

// Register installs a local service object without granting it an
// outstanding handle yet (refcount 0) — for services that will be exported
// later, e.g. as a call's return value.
func (p *Port) Register(dispatcher registry.Dispatcher, dropHook func()) registry.ServiceID {
	return p.registry.Register(dispatcher, dropHook)
}

// ExportByName registers a root service under name so the peer can reach it
// via ImportRoot, per spec.md §4.5/§6.
func (p *Port) ExportByName(name string, dispatcher registry.Dispatcher, dropHook func()) registry.ServiceID {
	return p.registry.ExportRootByName(name, dispatcher, dropHook)
}

// Export registers a brand-new local service and immediately grants it one
// outstanding handle, for the "send or return a local service object" path
// of spec.md §4.5: a Dispatcher that hands back a fresh object as a call's
// return value, or a caller about to pass one as an argument, uses this
// instead of Register so the returned HandleToExchange's refcount share is
// already accounted for before it goes out on the wire.
func (p *Port) Export(dispatcher registry.Dispatcher, dropHook func()) registry.HandleToExchange {
	return p.registry.Export(dispatcher, dropHook)
}

// ImportHandle wraps a HandleToExchange already received (e.g. as a call's
// argument or result) into a live Proxy bound to this Port, validating the
// handle's epoch against every other handle this Port has seen from the
// same peer.
func (p *Port) ImportHandle(handle registry.HandleToExchange) (*registry.Proxy, error) {
	if err := p.checkPeerEpoch(handle.Epoch); err != nil {
		return nil, err
	}
	return registry.NewProxy(p, p.codec, handle), nil
}

func (p *Port) checkPeerEpoch(epoch uint64) error {
	for {
		existing := p.peerEpoch.Load()
		if existing == nil {
			e := epoch
			if p.peerEpoch.CompareAndSwap(nil, &e) {
				return nil
			}
			continue // lost the race, retry against whatever is now stored
		}
		if *existing != epoch {
			return ErrEpochMismatch
		}
		return nil
	}
}

// ImportRoot bootstraps the first Proxy for a peer relationship: it issues
// the EXPORT_ROOT control call for name and wraps the returned handle.
func (p *Port) ImportRoot(name string) (*registry.Proxy, error) {
	req := envelope.Envelope{
		Target:   envelope.ControlServiceID,
		Selector: envelope.SelectorExportRoot,
		Args:     registry.EncodeExportRootArgs(name),
	}
	reqBytes, err := p.codec.Encode(&req)
	if err != nil {
		return nil, err
	}

	respBytes, err := p.Call(reqBytes)
	if err != nil {
		return nil, err
	}

	var resp envelope.Response
	if err := p.codec.Decode(respBytes, &resp); err != nil {
		return nil, fmt.Errorf("port: %s: %w", envelope.ErrKindDecode, err)
	}
	if resp.ErrKind != "" {
		return nil, fmt.Errorf("port: EXPORT_ROOT %q: %s: %s", name, resp.ErrKind, resp.ErrMessage)
	}

	handle, err := registry.DecodeHandle(resp.Result)
	if err != nil {
		return nil, err
	}
	return p.ImportHandle(handle)
}

// RegistrySize reports the number of live local service entries, used by
// the end-to-end scenarios of spec.md §8 to assert Registry size directly.
func (p *Port) RegistrySize() int { return p.registry.Size() }

// Close shuts the Port down in this order: Multiplexer, then Server, then
// Client. The Registry is not torn down: its entries stay in place and no
// drop hook runs. Each stage's Shutdown is itself idempotent and panics on
// its own timeout, so Close does not add another layer of timeout handling.
func (p *Port) Close() {
	p.mux.Shutdown()
	p.server.Shutdown()
	p.client.Shutdown()
}

// dispatchAdapter satisfies server.Handler by encoding/decoding through the
// Port's codec around handler — kept in this package (not registry) so
// registry never needs to know about the wire codec for ordinary
// (non-control) dispatch. handler is registry.Registry.Dispatch wrapped in
// this Port's middleware chain (see New), not the bare Dispatch method.
type dispatchAdapter struct {
	handler middleware.HandlerFunc
	codec   codec.Codec
}

func (d *dispatchAdapter) Handle(payload []byte) []byte {
	var req envelope.Envelope
	if err := d.codec.Decode(payload, &req); err != nil {
		resp := envelope.Response{ErrKind: envelope.ErrKindDecode, ErrMessage: err.Error()}
		out, _ := d.codec.Encode(&resp)
		return out
	}

	resp := d.handler(context.Background(), req)
	out, err := d.codec.Encode(&resp)
	if err != nil {
		fallback := envelope.Response{ErrKind: envelope.ErrKindDecode, ErrMessage: err.Error()}
		out, _ = d.codec.Encode(&fallback)
	}
	return out
}
