package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"traitport/envelope"
)

// RateLimitMiddleware creates a rate limiter using the token bucket
// algorithm, unchanged from the teacher's rationale: tokens refill at r per
// second up to burst, and an empty bucket short-circuits the call with
// envelope.ErrKindApplication rather than invoking next.
//
// The limiter is created in the OUTER closure (once per middleware
// construction), not per request — a fresh bucket per call would defeat the
// purpose.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req envelope.Envelope) envelope.Response {
			if !limiter.Allow() {
				return envelope.Response{ErrKind: envelope.ErrKindApplication, ErrMessage: "rate limit exceeded"}
			}
			return next(ctx, req)
		}
	}
}
