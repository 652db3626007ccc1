// Package reactor implements three interchangeable connection-handling
// strategies for the procedure server: a single-threaded blocking loop,
// a bounded thread-per-connection pool, and a single-threaded
// readiness-multiplexed event loop. All three implement the same Reactor
// capability set (Run/Stop) over the same framing (package protocol),
// dispatch (package dispatch), and error-envelope contract.
package reactor

import (
	"fmt"

	"go.uber.org/zap"
)

// Config holds the parameters common to every reactor strategy.
type Config struct {
	ListeningAddress string
	Port             uint16
	Keepalive        bool

	// ThreadLimit bounds the MT-blocking reactor's worker pool. Ignored by
	// the other two reactor kinds.
	ThreadLimit int

	Logger *zap.Logger
}

func (c Config) addr() string {
	return fmt.Sprintf("%s:%d", c.ListeningAddress, c.Port)
}

func (c Config) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}

// Reactor is the capability set every server strategy exposes: Run drives
// the accept/request loop until Stop is called or the listener errors;
// Stop is idempotent, may be called from any goroutine, and must not
// itself block.
type Reactor interface {
	Run() error
	Stop()
}

// Kind names one of the three reactor strategies, matching the
// -s/--server_type CLI flag.
type Kind string

const (
	STBlocking    Kind = "st_blocking"
	MTBlocking    Kind = "mt_blocking"
	STNonblocking Kind = "st_nonblocking"
)

// New is the reactor factory: it selects between the three
// implementations by Kind.
func New(kind Kind, cfg Config) (Reactor, error) {
	switch kind {
	case STBlocking:
		return NewSTBlocking(cfg), nil
	case MTBlocking:
		return NewMTBlocking(cfg), nil
	case STNonblocking:
		return NewSTNonblocking(cfg), nil
	default:
		return nil, fmt.Errorf("reactor: unknown server type %q, allowed: %s | %s | %s", kind, STBlocking, MTBlocking, STNonblocking)
	}
}
