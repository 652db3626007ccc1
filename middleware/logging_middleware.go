package middleware

import (
	"time"

	"go.uber.org/zap"
)

// Logging records request size, duration, and the protocol-level outcome
// of each dispatch call.
func Logging(logger *zap.Logger) Middleware {
	return func(next DispatchFunc) DispatchFunc {
		return func(requestBytes []byte) ([]byte, bool) {
			start := time.Now()
			responseBytes, ok := next(requestBytes)
			logger.Debug("dispatch",
				zap.Int("request_bytes", len(requestBytes)),
				zap.Duration("duration", time.Since(start)),
				zap.Bool("ok", ok))
			return responseBytes, ok
		}
	}
}
