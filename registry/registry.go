// Package registry implements the Port's service table and the
// distributed-refcounted handle-exchange protocol: §4.5/§6 of spec.md.
//
// The table itself is modeled after the teacher's server/service.go
// receiver→method table, but generalized: instead of a reflect-based
// method table bound to one Go struct per service, an entry here is a
// plain Dispatcher function — the seam spec.md §9 says the (out-of-scope)
// attribute-driven stub generator would otherwise fill in.
package registry

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"traitport/envelope"
)

// ServiceID is a locally-unique, recycled identifier for a registered
// service object.
type ServiceID uint64

// Dispatcher invokes one method, given its numeric selector and serialized
// arguments, returning the serialized result. It is the function a
// generated (or, here, hand-written) skeleton would install per exported
// trait implementation.
type Dispatcher func(selector uint32, args []byte) ([]byte, error)

// HandleToExchange is the on-wire identity of an exported service: the
// issuer's epoch plus the ServiceID on the issuer, per spec.md §3.
type HandleToExchange struct {
	Epoch     uint64    `json:"epoch"`
	ServiceID ServiceID `json:"service_id"`
}

type entry struct {
	dispatcher Dispatcher
	dropHook   func()
	refcount   int64
}

// Registry is the mutex-protected ServiceID → (dispatcher, refcount,
// drop_hook) table described in spec.md §4.5. The mutex is held only for
// table mutation/lookup, never across a dispatcher invocation, so a
// dispatcher may itself issue reentrant outbound calls without deadlocking
// the registry — spec.md §5's shared-resource discipline.
type Registry struct {
	mu      sync.Mutex
	entries map[ServiceID]*entry
	roots   map[string]ServiceID
	nextID  ServiceID
	freeIDs []ServiceID

	epoch  uint64
	logger *zap.Logger
}

// New creates an empty registry bound to one Port's epoch. Control-method
// argument encoding (DELETE's target id, EXPORT_ROOT's name, and the
// HandleToExchange it returns) is always plain JSON, independent of the
// Port's configured envelope Codec: it's a tiny, fixed, self-describing
// shape the registry itself owns end to end, not part of the pluggable
// application-payload path the Codec strategy exists for.
func New(epoch uint64, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries: make(map[ServiceID]*entry),
		roots:   make(map[string]ServiceID),
		epoch:   epoch,
		logger:  logger,
	}
}

// EncodeDeleteArgs and EncodeExportRootArgs let callers (registry.Proxy's
// drop path, port.Port's ImportRoot) build DELETE/EXPORT_ROOT request
// envelopes that dispatchControl below can parse.

// EncodeDeleteArgs serializes a DELETE control call's target ServiceID.
func EncodeDeleteArgs(target ServiceID) []byte {
	b, _ := json.Marshal(uint64(target))
	return b
}

// EncodeExportRootArgs serializes an EXPORT_ROOT control call's root name.
func EncodeExportRootArgs(name string) []byte {
	b, _ := json.Marshal(name)
	return b
}

// DecodeHandle deserializes an EXPORT_ROOT response's HandleToExchange.
func DecodeHandle(data []byte) (HandleToExchange, error) {
	var h HandleToExchange
	err := json.Unmarshal(data, &h)
	return h, err
}

// Epoch returns the epoch every HandleToExchange this registry issues will
// carry.
func (r *Registry) Epoch() uint64 { return r.epoch }

func (r *Registry) allocate() ServiceID {
	if n := len(r.freeIDs); n > 0 {
		id := r.freeIDs[n-1]
		r.freeIDs = r.freeIDs[:n-1]
		return id
	}
	r.nextID++
	return r.nextID // 0 is reserved for the control service (envelope.ControlServiceID)
}

// Register allocates a fresh ServiceId and stores an entry at refcount 0 —
// a freshly registered service has no outstanding handle yet. dropHook, if
// non-nil, runs exactly once, when the refcount reaches zero.
func (r *Registry) Register(dispatcher Dispatcher, dropHook func()) ServiceID {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.allocate()
	r.entries[id] = &entry{dispatcher: dispatcher, dropHook: dropHook}
	return id
}

// Export registers a brand-new local service object and immediately hands
// out its first outstanding handle, per spec.md §4.5: "Export ... call
// register to obtain a ServiceId, increment refcount by 1 ... and return
// HandleToExchange". Each further call that exports the *same* ServiceID
// (e.g. re-sharing a service already in the table) should use
// ExportExisting instead, since Register must only run once per service.
func (r *Registry) Export(dispatcher Dispatcher, dropHook func()) HandleToExchange {
	id := r.Register(dispatcher, dropHook)
	r.RefCountInc(id)
	return HandleToExchange{Epoch: r.epoch, ServiceID: id}
}

// ExportExisting hands out one more outstanding handle to an
// already-registered service, for the "value is already a local object,
// export it again" path spec.md §4.5 describes for handle-as-argument
// transfer.
func (r *Registry) ExportExisting(id ServiceID) (HandleToExchange, error) {
	r.mu.Lock()
	_, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return HandleToExchange{}, fmt.Errorf("registry: unknown service %d", id)
	}
	r.RefCountInc(id)
	return HandleToExchange{Epoch: r.epoch, ServiceID: id}, nil
}

// ExportRootByName registers a root service under a stable name so a peer's
// EXPORT_ROOT control call can find it, per spec.md §4.5/§6. Re-exporting
// under the same name replaces the mapping but does not touch the old
// service's refcount.
func (r *Registry) ExportRootByName(name string, dispatcher Dispatcher, dropHook func()) ServiceID {
	id := r.Register(dispatcher, dropHook)
	r.mu.Lock()
	r.roots[name] = id
	r.mu.Unlock()
	return id
}

// RefCountInc increments a service's refcount, used when a handle is
// duplicated (re-exported, or an EXPORT_ROOT lookup hands out another
// share of an already-registered root).
func (r *Registry) RefCountInc(id ServiceID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.refcount++
	}
}

// RefCountDec decrements a service's refcount; at zero it runs the drop
// hook and frees the slot for reuse. Returns true iff the entry was freed.
func (r *Registry) RefCountDec(id ServiceID) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	e.refcount--
	freed := e.refcount <= 0
	if freed {
		delete(r.entries, id)
		r.freeIDs = append(r.freeIDs, id)
	}
	r.mu.Unlock()

	if freed && e.dropHook != nil {
		e.dropHook()
	}
	return freed
}

// RefCount reports a service's current refcount (0 if not registered),
// used by tests verifying the invariant in spec.md §8's property 2.
func (r *Registry) RefCount(id ServiceID) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		return e.refcount
	}
	return 0
}

// Size reports the number of live entries, used by the end-to-end
// scenarios in spec.md §8 (e.g. S1/S3's "Registry size" assertions).
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Dispatch parses a request envelope and invokes the registered dispatcher,
// recognizing the two reserved control selectors on ServiceID 0 per
// spec.md §4.5/§6. It never holds the registry mutex while the dispatcher
// body runs.
func (r *Registry) Dispatch(req envelope.Envelope) envelope.Response {
	if req.Target == envelope.ControlServiceID {
		return r.dispatchControl(req)
	}

	r.mu.Lock()
	e, ok := r.entries[ServiceID(req.Target)]
	r.mu.Unlock()
	if !ok {
		return envelope.Response{ErrKind: envelope.ErrKindUnknownService,
			ErrMessage: fmt.Sprintf("registry: unknown service %d", req.Target)}
	}

	result, err := e.dispatcher(req.Selector, req.Args)
	if err != nil {
		return envelope.Response{ErrKind: envelope.ErrKindApplication, ErrMessage: err.Error()}
	}
	return envelope.Response{Result: result}
}

func (r *Registry) dispatchControl(req envelope.Envelope) envelope.Response {
	switch req.Selector {
	case envelope.SelectorDelete:
		var target uint64
		if err := json.Unmarshal(req.Args, &target); err != nil {
			return envelope.Response{ErrKind: envelope.ErrKindDecode, ErrMessage: err.Error()}
		}
		r.logger.Debug("DELETE", zap.Uint64("target", target))
		r.RefCountDec(ServiceID(target))
		return envelope.Response{}

	case envelope.SelectorExportRoot:
		var name string
		if err := json.Unmarshal(req.Args, &name); err != nil {
			return envelope.Response{ErrKind: envelope.ErrKindDecode, ErrMessage: err.Error()}
		}
		r.mu.Lock()
		id, ok := r.roots[name]
		r.mu.Unlock()
		if !ok {
			return envelope.Response{ErrKind: envelope.ErrKindUnknownService,
				ErrMessage: fmt.Sprintf("registry: unknown root %q", name)}
		}
		handle, err := r.ExportExisting(id)
		if err != nil {
			return envelope.Response{ErrKind: envelope.ErrKindUnknownService, ErrMessage: err.Error()}
		}
		result, err := json.Marshal(&handle)
		if err != nil {
			return envelope.Response{ErrKind: envelope.ErrKindDecode, ErrMessage: err.Error()}
		}
		return envelope.Response{Result: result}

	default:
		return envelope.Response{ErrKind: envelope.ErrKindUnknownMethod,
			ErrMessage: fmt.Sprintf("registry: unknown control selector %d", req.Selector)}
	}
}
