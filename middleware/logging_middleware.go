package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"traitport/envelope"
)

// LoggingMiddleware records the target service/selector, duration, and any
// error for each dispatched call via the given zap logger (nop logger if
// nil), replacing the teacher's log.Printf-based LoggingMiddleware.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req envelope.Envelope) envelope.Response {
			start := time.Now()

			resp := next(ctx, req)

			fields := []zap.Field{
				zap.Uint64("target", req.Target),
				zap.Uint32("selector", req.Selector),
				zap.Duration("duration", time.Since(start)),
			}
			if resp.ErrKind != "" {
				fields = append(fields, zap.String("err_kind", resp.ErrKind), zap.String("err_message", resp.ErrMessage))
				logger.Warn("dispatch failed", fields...)
			} else {
				logger.Debug("dispatch ok", fields...)
			}
			return resp
		}
	}
}
