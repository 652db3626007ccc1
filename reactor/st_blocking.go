package reactor

import (
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// STBlockingReactor serves one connection at a time with blocking
// syscalls. At most one client socket is ever live; the only
// synchronization is the stop flag and a mutex guarding the listener and
// client handles that Stop() closes.
type STBlockingReactor struct {
	cfg Config

	mu       sync.Mutex
	listener net.Listener
	client   net.Conn

	stopped atomic.Bool
}

// NewSTBlocking constructs an ST-blocking reactor. Call Run to start it.
func NewSTBlocking(cfg Config) *STBlockingReactor {
	return &STBlockingReactor{cfg: cfg}
}

// Run accepts one connection, runs its request loop to completion, then
// accepts the next, until Stop() or a listener error.
func (r *STBlockingReactor) Run() error {
	listener, err := net.Listen("tcp", r.cfg.addr())
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.listener = listener
	r.mu.Unlock()

	logger := r.cfg.logger()
	logger.Info("st_blocking reactor listening", zap.String("addr", listener.Addr().String()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if r.stopped.Load() {
				return nil
			}
			return err
		}

		r.mu.Lock()
		r.client = conn
		r.mu.Unlock()

		r.handleConnection(conn)

		r.mu.Lock()
		r.client = nil
		r.mu.Unlock()
	}
}

// handleConnection runs the shared per-connection request loop.
func (r *STBlockingReactor) handleConnection(conn net.Conn) {
	defer conn.Close()
	runRequestLoop(conn, r.cfg, &r.stopped, "st_blocking")
}

// Stop is idempotent: it shuts down the listening socket and the live
// client socket so any blocked accept/read/write returns promptly.
func (r *STBlockingReactor) Stop() {
	r.stopped.Store(true)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener != nil {
		r.listener.Close()
	}
	if r.client != nil {
		r.client.Close()
	}
}
