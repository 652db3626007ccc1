package reactor

import (
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// MTBlockingReactor accepts connections on one goroutine and runs each
// connection's request loop on its own goroutine, bounded by ThreadLimit.
//
// A buffered channel acts as the pool's slot semaphore: acquiring a slot
// is a channel send (blocks when the pool is full), releasing a slot is a
// channel receive. A sync.WaitGroup joins every worker — Run() waits on
// it before returning, so no worker is ever left unreaped.
type MTBlockingReactor struct {
	cfg Config

	mu       sync.Mutex
	listener net.Listener
	clients  map[net.Conn]struct{}

	sem    chan struct{}
	wg     sync.WaitGroup
	stopCh chan struct{}

	stopped   atomic.Bool
	closeOnce sync.Once
}

// NewMTBlocking constructs an MT-blocking reactor bounded by
// cfg.ThreadLimit (treated as 1 if unset or non-positive).
func NewMTBlocking(cfg Config) *MTBlockingReactor {
	limit := cfg.ThreadLimit
	if limit <= 0 {
		limit = 1
	}
	return &MTBlockingReactor{
		cfg:     cfg,
		clients: make(map[net.Conn]struct{}),
		sem:     make(chan struct{}, limit),
		stopCh:  make(chan struct{}),
	}
}

// Run's accept loop takes a slot (blocking if the pool is full), spawns a
// worker goroutine per connection, and joins every worker before
// returning once Stop() has been observed.
func (r *MTBlockingReactor) Run() error {
	listener, err := net.Listen("tcp", r.cfg.addr())
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.listener = listener
	r.mu.Unlock()

	logger := r.cfg.logger()
	logger.Info("mt_blocking reactor listening",
		zap.String("addr", listener.Addr().String()),
		zap.Int("thread_limit", cap(r.sem)))

	for {
		select {
		case r.sem <- struct{}{}:
		case <-r.stopCh:
			r.wg.Wait()
			return nil
		}

		conn, err := listener.Accept()
		if err != nil {
			<-r.sem // give back the slot we reserved but never used
			if r.stopped.Load() {
				r.wg.Wait()
				return nil
			}
			r.wg.Wait()
			return err
		}

		r.mu.Lock()
		r.clients[conn] = struct{}{}
		r.mu.Unlock()

		r.wg.Add(1)
		go r.runWorker(conn)
	}
}

// runWorker runs one connection's request loop to completion, then
// releases its pool slot and removes the connection from the live-client
// registry. A panic inside the request loop — e.g., from dispatch — is
// recovered here and closes only this connection, never the server.
func (r *MTBlockingReactor) runWorker(conn net.Conn) {
	defer func() {
		if p := recover(); p != nil {
			r.cfg.logger().Error("mt_blocking: worker panic recovered", zap.Any("panic", p))
		}
	}()
	defer r.wg.Done()
	defer func() { <-r.sem }()
	defer func() {
		r.mu.Lock()
		delete(r.clients, conn)
		r.mu.Unlock()
	}()
	defer conn.Close()

	runRequestLoop(conn, r.cfg, &r.stopped, "mt_blocking")
}

// Stop is idempotent: it shuts down the listener, wakes the accept loop
// out of its slot wait, and closes every live client connection so
// blocked workers return promptly. Run()'s caller is responsible for
// observing Run()'s return to know every worker has been joined.
func (r *MTBlockingReactor) Stop() {
	r.stopped.Store(true)
	r.closeOnce.Do(func() { close(r.stopCh) })

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener != nil {
		r.listener.Close()
	}
	for conn := range r.clients {
		conn.Close()
	}
}
