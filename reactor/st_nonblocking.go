package reactor

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"matrixrpc/middleware"
	"matrixrpc/protocol"
)

// readPhase is an explicit state-machine tag for where a client currently
// sits in the read cycle, rather than inferring the phase from the
// current buffer length.
type readPhase int

const (
	phaseReadLength readPhase = iota
	phaseReadBody
)

// clientState is the per-client state: a small state machine over
// {reading_length, reading_body, writing_response}. The two read states
// are tagged explicitly by phase; writing_response is the state in which
// writeBuffer is non-nil.
type clientState struct {
	phase      readPhase
	readBuffer []byte
	readOffset int
	bodyLen    uint32

	writeBuffer []byte
	writeOffset int

	isClosing bool
}

// STNonblockingReactor is a single-threaded, readiness-multiplexed event
// loop. It talks to raw file descriptors via golang.org/x/sys/unix rather
// than the net package: Go's
// own runtime netpoller already multiplexes net.Conn internally, which
// would fight a second, hand-rolled epoll loop over the same fds — the
// idiomatic way to drive epoll directly from Go (as gnet/evio-style
// reactors do) is to own the raw fd end to end.
type STNonblockingReactor struct {
	cfg Config

	mu      sync.Mutex
	clients map[int]*clientState

	listenFd    int
	epollFd     int
	stopEventFd int

	dispatch middleware.DispatchFunc

	stopped atomic.Bool
}

// NewSTNonblocking constructs an ST-nonblocking reactor. Call Run to start it.
func NewSTNonblocking(cfg Config) *STNonblockingReactor {
	r := &STNonblockingReactor{
		cfg:     cfg,
		clients: make(map[int]*clientState),
	}
	r.dispatch = middleware.Chain(middleware.Logging(cfg.logger()))(dispatchFunc)
	return r
}

// Run waits for readiness, accepts new connections, and drives each
// ready client's two-phase read or write handler until Stop() signals
// the wakeup eventfd.
func (r *STNonblockingReactor) Run() error {
	listenFd, err := listenRawTCP(r.cfg.ListeningAddress, r.cfg.Port)
	if err != nil {
		return err
	}
	r.listenFd = listenFd

	epollFd, err := unix.EpollCreate1(0)
	if err != nil {
		unix.Close(listenFd)
		return wrapSyscallErr("epoll_create1", err)
	}
	r.epollFd = epollFd

	// A self-pipe-style eventfd wakes epoll_wait from Stop(), called from a
	// different goroutine — closing the epoll fd itself from another
	// goroutine while this one blocks in EpollWait is not a safe wakeup
	// mechanism, so Stop() signals this fd instead and the event loop
	// closes everything itself once it observes the wakeup.
	stopFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(listenFd)
		unix.Close(epollFd)
		return wrapSyscallErr("eventfd", err)
	}
	r.stopEventFd = stopFd

	if err := epollAdd(epollFd, listenFd, unix.EPOLLIN); err != nil {
		return err
	}
	if err := epollAdd(epollFd, stopFd, unix.EPOLLIN); err != nil {
		return err
	}

	logger := r.cfg.logger()
	logger.Info("st_nonblocking reactor listening", zap.String("addr", r.cfg.addr()))

	events := make([]unix.EpollEvent, 64)
	for {
		n, err := unix.EpollWait(epollFd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return wrapSyscallErr("epoll_wait", err)
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			switch fd {
			case listenFd:
				r.acceptAll(epollFd, listenFd)
			case stopFd:
				r.shutdownAll(epollFd, listenFd, stopFd)
				return nil
			default:
				r.serviceClient(epollFd, fd, events[i].Events)
			}
		}
	}
}

func (r *STNonblockingReactor) serviceClient(epollFd, fd int, events uint32) {
	r.mu.Lock()
	st := r.clients[fd]
	r.mu.Unlock()
	if st == nil {
		return
	}

	if events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		r.closeClient(epollFd, fd)
		return
	}
	if events&unix.EPOLLIN != 0 {
		r.handleClientRead(epollFd, fd, st)
	}
	if events&unix.EPOLLOUT != 0 {
		r.handleClientWrite(epollFd, fd, st)
	}
}

// acceptAll drains the accept backlog: accept() is level-triggered here,
// but draining in a loop avoids one wakeup per pending connection.
func (r *STNonblockingReactor) acceptAll(epollFd, listenFd int) {
	for {
		connFd, _, err := unix.Accept4(listenFd, unix.SOCK_NONBLOCK)
		if err != nil {
			if err != unix.EAGAIN && err != unix.EWOULDBLOCK && err != unix.EINTR {
				r.cfg.logger().Debug("st_nonblocking: accept failed", zap.Error(err))
			}
			return
		}

		r.mu.Lock()
		r.clients[connFd] = &clientState{}
		r.mu.Unlock()

		if err := epollAdd(epollFd, connFd, unix.EPOLLIN); err != nil {
			r.closeClient(epollFd, connFd)
		}
	}
}

// handleClientRead is the two-phase request read: fill the 4-byte
// length, then fill the body, then dispatch and arm for write readiness.
func (r *STNonblockingReactor) handleClientRead(epollFd, fd int, st *clientState) {
	if st.readBuffer == nil {
		st.readBuffer = make([]byte, protocol.LengthPrefixSize)
		st.readOffset = 0
		st.phase = phaseReadLength
	}

	complete, err := tryIO(st.readBuffer, &st.readOffset, readerFor(fd))
	if err != nil {
		r.closeClient(epollFd, fd)
		return
	}
	if !complete {
		return
	}

	if st.phase == phaseReadLength {
		length := binary.NativeEndian.Uint32(st.readBuffer)
		if length == 0 {
			// Zero-length request: a well-formed no-op. Reset and wait for
			// the next length prefix.
			st.readBuffer = nil
			st.readOffset = 0
			return
		}

		st.bodyLen = length
		st.readBuffer = make([]byte, length)
		st.readOffset = 0
		st.phase = phaseReadBody

		complete, err = tryIO(st.readBuffer, &st.readOffset, readerFor(fd))
		if err != nil {
			r.closeClient(epollFd, fd)
			return
		}
		if !complete {
			return
		}
	}

	respBytes, ok := r.dispatch(st.readBuffer)

	frame := make([]byte, protocol.LengthPrefixSize+len(respBytes))
	binary.NativeEndian.PutUint32(frame, uint32(len(respBytes)))
	copy(frame[protocol.LengthPrefixSize:], respBytes)

	st.writeBuffer = frame
	st.writeOffset = 0
	st.isClosing = !ok

	st.readBuffer = nil
	st.readOffset = 0
	st.phase = phaseReadLength

	if err := epollMod(epollFd, fd, unix.EPOLLOUT); err != nil {
		r.closeClient(epollFd, fd)
	}
}

// handleClientWrite drains the write buffer, then re-arms for read
// (keepalive) or closes the connection.
func (r *STNonblockingReactor) handleClientWrite(epollFd, fd int, st *clientState) {
	complete, err := tryIO(st.writeBuffer, &st.writeOffset, writerFor(fd))
	if err != nil {
		r.closeClient(epollFd, fd)
		return
	}
	if !complete {
		return
	}

	st.writeBuffer = nil
	st.writeOffset = 0

	if r.cfg.Keepalive && !st.isClosing {
		if err := epollMod(epollFd, fd, unix.EPOLLIN); err != nil {
			r.closeClient(epollFd, fd)
		}
		return
	}
	r.closeClient(epollFd, fd)
}

func (r *STNonblockingReactor) closeClient(epollFd, fd int) {
	unix.EpollCtl(epollFd, unix.EPOLL_CTL_DEL, fd, nil)
	unix.Close(fd)
	r.mu.Lock()
	delete(r.clients, fd)
	r.mu.Unlock()
}

func (r *STNonblockingReactor) shutdownAll(epollFd, listenFd, stopFd int) {
	r.mu.Lock()
	fds := make([]int, 0, len(r.clients))
	for fd := range r.clients {
		fds = append(fds, fd)
	}
	r.mu.Unlock()

	for _, fd := range fds {
		unix.Close(fd)
	}
	unix.Close(listenFd)
	unix.Close(stopFd)
	unix.Close(epollFd)
}

// Stop is idempotent: it wakes the event loop via the stop eventfd, and
// shuts down every live socket so any
// in-flight read/write unblocks promptly. The actual fd closes happen in
// Run()'s own goroutine (shutdownAll) once it observes the wakeup, so no
// fd is ever closed from two goroutines at once.
func (r *STNonblockingReactor) Stop() {
	if !r.stopped.CompareAndSwap(false, true) {
		return
	}

	var one [8]byte
	binary.LittleEndian.PutUint64(one[:], 1)
	unix.Write(r.stopEventFd, one[:])

	r.mu.Lock()
	defer r.mu.Unlock()
	unix.Shutdown(r.listenFd, unix.SHUT_RDWR)
	for fd := range r.clients {
		unix.Shutdown(fd, unix.SHUT_RDWR)
	}
}

// tryIO loops the given read/write primitive until buf is full
// (complete=true), the peer closes (err=io.EOF), or EAGAIN/EWOULDBLOCK is
// hit (complete=false, err=nil — wait for the next readiness event).
func tryIO(buf []byte, offset *int, fn func([]byte) (int, error)) (complete bool, err error) {
	for *offset < len(buf) {
		n, ioErr := fn(buf[*offset:])
		if ioErr != nil {
			switch ioErr {
			case unix.EAGAIN, unix.EWOULDBLOCK:
				return false, nil
			case unix.EINTR:
				continue
			default:
				return false, ioErr
			}
		}
		if n == 0 {
			return false, io.EOF
		}
		*offset += n
	}
	return true, nil
}

func readerFor(fd int) func([]byte) (int, error) {
	return func(b []byte) (int, error) { return unix.Read(fd, b) }
}

func writerFor(fd int) func([]byte) (int, error) {
	return func(b []byte) (int, error) { return unix.Write(fd, b) }
}

func epollAdd(epollFd, fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(epollFd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return wrapSyscallErr("epoll_ctl(ADD)", err)
	}
	return nil
}

func epollMod(epollFd, fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(epollFd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return wrapSyscallErr("epoll_ctl(MOD)", err)
	}
	return nil
}

// listenRawTCP builds a non-blocking IPv4 listening socket with raw
// syscalls so it can be registered directly with epoll.
func listenRawTCP(address string, port uint16) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return 0, wrapSyscallErr("socket", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return 0, wrapSyscallErr("setsockopt(SO_REUSEADDR)", err)
	}

	ip := net.ParseIP(address)
	if ip == nil || ip.To4() == nil {
		unix.Close(fd)
		return 0, fmt.Errorf("reactor: invalid IPv4 listening address %q", address)
	}

	addr := unix.SockaddrInet4{Port: int(port)}
	copy(addr.Addr[:], ip.To4())

	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return 0, wrapSyscallErr("bind", err)
	}

	const backlogSize = 5
	if err := unix.Listen(fd, backlogSize); err != nil {
		unix.Close(fd)
		return 0, wrapSyscallErr("listen", err)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return 0, wrapSyscallErr("fcntl(O_NONBLOCK)", err)
	}

	return fd, nil
}

// wrapSyscallErr annotates a raw syscall failure with the call name.
func wrapSyscallErr(call string, err error) error {
	return fmt.Errorf("system call %q failed: %w", call, err)
}
