// Package middleware implements the onion-model middleware chain wrapping
// dispatch of one envelope.Envelope request into an envelope.Response,
// generalized from the teacher's RPCMessage-keyed chain to traitport's
// (ServiceID, selector) dispatch shape.
//
// Onion model execution order:
//
//	Chain(A, B, C)(handler)  →  A(B(C(handler)))
//
//	Request:   A.before → B.before → C.before → handler
//	Response:  handler → C.after → B.after → A.after
//
// Each middleware can:
//   - Do pre-processing (before calling next)
//   - Call next(ctx, req) to pass to the next layer
//   - Do post-processing (after next returns)
//   - Short-circuit by returning early without calling next (e.g., rate limiting)
package middleware

import (
	"context"

	"traitport/envelope"
)

// HandlerFunc is the function signature for request handlers and for
// middleware-wrapped handlers. registry.Registry.Dispatch takes no context,
// so port.New adapts it to this shape with a closure.
type HandlerFunc func(ctx context.Context, req envelope.Envelope) envelope.Response

// Middleware takes a handler and returns a new handler that wraps it.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes multiple middlewares into a single middleware, built from
// right to left so the first middleware in the list is the outermost layer.
//
// Example:
//
//	chain := Chain(Logging, Timeout, RateLimit)
//	handler := chain(businessHandler)
//	// Execution: Logging → Timeout → RateLimit → businessHandler → RateLimit → Timeout → Logging
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
