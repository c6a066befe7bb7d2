package middleware

import (
	"context"
	"time"

	"traitport/envelope"
)

// TimeoutMiddleware enforces a maximum duration for each dispatched call. If
// the handler doesn't complete in time, it returns envelope.ErrKindApplication
// immediately; the handler goroutine is not cancelled, it keeps running in
// the background — the timeout only controls how long the caller waits.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req envelope.Envelope) envelope.Response {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan envelope.Response, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return envelope.Response{ErrKind: envelope.ErrKindApplication, ErrMessage: "request timed out"}
			}
		}
	}
}
