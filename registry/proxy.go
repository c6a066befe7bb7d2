package registry

import (
	"fmt"
	"sync"

	"traitport/codec"
	"traitport/envelope"
)

// Caller is the seam Proxy needs from its owning Port, kept narrow enough
// that this package never imports package port (which imports registry) —
// Port satisfies this interface directly.
type Caller interface {
	// Call performs one synchronous outbound RPC: an encoded request
	// envelope in, an encoded response envelope out.
	Call(payload []byte) ([]byte, error)
	// GCDisabled reports whether the owning Port has suppressed DELETE
	// emission (spec.md §4.5's disable_gc, for joint teardown).
	GCDisabled() bool
}

// Proxy is the local stand-in for a service hosted on the peer: spec.md
// §3/§4.5. It holds a plain (non-owning) reference to its Caller — if the
// Port is gone, Invoke fails rather than dangling, since Go offers no true
// weak pointer to check against.
type Proxy struct {
	caller Caller
	codec  codec.Codec
	handle HandleToExchange

	// transferOnDrop is set by TransferOut when this Proxy copy's handle is
	// rebound for a handle-as-argument transfer: the
	// refcount unit it represents was handed off, so Close must not also
	// emit DELETE for it (that would double-release the same unit).
	transferOnDrop bool

	closeOnce sync.Once
}

// NewProxy imports a HandleToExchange into a fresh Proxy. The peer already
// incremented the refcount for this handle during its own Export/
// ExportExisting call, per spec.md §4.5's "Receiving side" rule.
func NewProxy(caller Caller, c codec.Codec, handle HandleToExchange) *Proxy {
	return &Proxy{caller: caller, codec: c, handle: handle}
}

// Handle returns the HandleToExchange this proxy wraps, e.g. so it can be
// re-serialized when passed as an argument to another call.
func (p *Proxy) Handle() HandleToExchange { return p.handle }

// Invoke calls one method on the remote service this proxy names.
func (p *Proxy) Invoke(selector uint32, args []byte) ([]byte, error) {
	if p.caller == nil {
		return nil, fmt.Errorf("registry: proxy's port is gone")
	}

	req := envelope.Envelope{Target: uint64(p.handle.ServiceID), Selector: selector, Args: args}
	reqBytes, err := p.codec.Encode(&req)
	if err != nil {
		return nil, err
	}

	respBytes, err := p.caller.Call(reqBytes)
	if err != nil {
		return nil, err
	}

	var resp envelope.Response
	if err := p.codec.Decode(respBytes, &resp); err != nil {
		return nil, fmt.Errorf("registry: %s: %w", envelope.ErrKindDecode, err)
	}
	if resp.ErrKind != "" {
		return nil, &CallError{Kind: resp.ErrKind, Message: resp.ErrMessage}
	}
	return resp.Result, nil
}

// TransferOut marks this proxy copy as having handed off its refcount unit
// to a handle being forwarded elsewhere (spec.md §4.5: "if value is already
// a proxy, rebind ... transfer one refcount unit by not sending DELETE on
// drop of this particular proxy copy"). After TransferOut, Close is a no-op.
func (p *Proxy) TransferOut() {
	p.closeOnce.Do(func() { p.transferOnDrop = true })
}

// Close drops this proxy, emitting DELETE for its handle unless the Port
// has disabled GC (joint teardown, spec.md §4.5) or the refcount unit was
// already transferred elsewhere. Idempotent.
func (p *Proxy) Close() error {
	var callErr error
	p.closeOnce.Do(func() {
		if p.transferOnDrop || p.caller == nil || p.caller.GCDisabled() {
			return
		}
		req := envelope.Envelope{
			Target:   envelope.ControlServiceID,
			Selector: envelope.SelectorDelete,
			Args:     EncodeDeleteArgs(p.handle.ServiceID),
		}
		reqBytes, err := p.codec.Encode(&req)
		if err != nil {
			callErr = err
			return
		}
		_, callErr = p.caller.Call(reqBytes)
	})
	return callErr
}

// CallError is returned by Proxy.Invoke for protocol-level failures
// (unknown service/method, decode errors) and for application errors the
// remote dispatcher returned, per spec.md §7's taxonomy.
type CallError struct {
	Kind    string
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("registry: %s: %s", e.Kind, e.Message)
}
