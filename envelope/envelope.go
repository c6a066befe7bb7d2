// Package envelope defines the request/response payloads carried inside a
// packet.Packet's body, exactly mirroring the role the teacher's message
// package played for RPCMessage: a small, codec-agnostic data shape that
// both codec implementations know how to (de)serialize.
package envelope

// Envelope is an ordinary request payload: spec.md §4.5/§6's
// (target_service_id, method_selector, args).
//
//   - Target == 0 addresses a reserved control method (DELETE, EXPORT_ROOT)
//     on the well-known control ServiceID every Port exposes.
//   - Selector is the numeric method selector a generated (or, here,
//     hand-written) proxy/skeleton pair agrees on.
//   - Args is the serialized argument tuple, opaque to the registry.
type Envelope struct {
	Target   uint64 `json:"target"`
	Selector uint32 `json:"selector"`
	Args     []byte `json:"args"`
}

// Response is the payload of a reply packet. ErrKind is empty on success;
// when non-empty it names one of the typed errors in spec.md §7
// (ErrUnknownService, ErrUnknownMethod, ErrDecode, or a handler-specific
// application error) so the caller can distinguish protocol-level failures
// from ordinary application errors without inspecting strings.
type Response struct {
	Result     []byte `json:"result,omitempty"`
	ErrKind    string `json:"err_kind,omitempty"`
	ErrMessage string `json:"err_message,omitempty"`
}

// Reserved selectors on the control ServiceID (0), per spec.md §6.
const (
	SelectorDelete     uint32 = 0
	SelectorExportRoot uint32 = 1
)

// ControlServiceID is the well-known ServiceID every Port's registry
// reserves for DELETE/EXPORT_ROOT control methods.
const ControlServiceID uint64 = 0

// Error kind tags used in Response.ErrKind for protocol-level failures.
// Application errors returned by a Dispatcher travel with ErrKind
// "application" and ErrMessage set to err.Error().
const (
	ErrKindUnknownService = "unknown_service"
	ErrKindUnknownMethod  = "unknown_method"
	ErrKindDecode         = "decode"
	ErrKindApplication    = "application"
)
