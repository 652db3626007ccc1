package reactor

import (
	"net"
	"sync/atomic"

	"go.uber.org/zap"

	"matrixrpc/dispatch"
	"matrixrpc/middleware"
	"matrixrpc/protocol"
)

// dispatchFunc is the request dispatcher used by every reactor's request
// loop. It is a package variable rather than a direct call to
// dispatch.Dispatch solely so tests can substitute an instrumented
// wrapper to observe concurrency at the point requests are actually
// served, without adding any test-only branch to the reactors themselves.
var dispatchFunc = dispatch.Dispatch

// runRequestLoop is the per-connection request loop shared by the
// ST-blocking and MT-blocking reactors: read a framed request, dispatch
// it, write the framed response, and repeat while keepalive holds and the
// last dispatch succeeded at the protocol level.
func runRequestLoop(conn net.Conn, cfg Config, stop *atomic.Bool, logPrefix string) {
	logger := cfg.logger()
	dispatchWithLogging := middleware.Chain(middleware.Logging(logger))(dispatchFunc)

	for {
		body, err := protocol.ReadFrame(conn, stop)
		if err != nil {
			return
		}
		if body == nil {
			// Zero-length request: a well-formed no-op. Wait for the next one.
			continue
		}

		respBytes, ok := dispatchWithLogging(body)

		if err := protocol.WriteFrame(conn, respBytes, stop); err != nil {
			logger.Debug(logPrefix+": write response failed", zap.Error(err))
			return
		}

		if !ok {
			// Protocol-level failure: close after flushing the error envelope,
			// regardless of keepalive.
			return
		}
		if !cfg.Keepalive {
			return
		}
	}
}
