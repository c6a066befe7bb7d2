package middleware

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"traitport/envelope"
)

// RetryMiddleware retries a dispatched call on transient-looking failures
// (timeout or peer-gone wording in the error message), with exponential
// backoff, same policy as the teacher's RetryMiddleware. It is most useful
// wrapped around an outbound call adapted to HandlerFunc (e.g. the outbound
// Call path of a port.Port built with this middleware), since inbound
// dispatch failures are rarely transient.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req envelope.Envelope) envelope.Response {
			resp := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if resp.ErrKind == "" {
					return resp
				}
				if !isRetryable(resp.ErrMessage) {
					return resp
				}
				logger.Debug("retrying dispatch", zap.Int("attempt", i+1),
					zap.Uint64("target", req.Target), zap.String("err_message", resp.ErrMessage))
				time.Sleep(baseDelay * time.Duration(1<<i))
				resp = next(ctx, req)
			}
			return resp
		}
	}
}

func isRetryable(errMessage string) bool {
	return strings.Contains(errMessage, "timeout") || strings.Contains(errMessage, "peer gone")
}
