// Package protocol implements the length-prefixed wire framing and the
// framed I/O helper used by every reactor strategy.
//
// Every message on the wire is [4-byte length L][L bytes of envelope]. The
// length is packed and unpacked as the raw bytes of a machine int — i.e.
// host/native byte order, not network byte order. This is a deliberate
// portability hazard: a client and server built for different endianness
// will silently frame garbage, kept this way for wire compatibility with
// the peers this protocol already shipped against. A length of 0 is a
// valid no-op: the reader loops back for the next length prefix without
// producing a request.
package protocol

import (
	"errors"
	"io"
)

// LengthPrefixSize is the width of the frame length prefix, in bytes.
const LengthPrefixSize = 4

// ErrPeerClosed indicates the peer performed an orderly shutdown before
// the requested number of bytes were transferred.
var ErrPeerClosed = errors.New("protocol: peer closed connection")

// ErrStopped indicates the I/O was interrupted by a server Stop() rather
// than a genuine I/O failure.
var ErrStopped = errors.New("protocol: interrupted by stop")

// StopSignal reports whether the owning reactor has been asked to stop.
// Reactors pass an atomic.Bool (or equivalent) satisfying this interface
// so the framed I/O helper can distinguish a deliberate shutdown from a
// real I/O error.
type StopSignal interface {
	Load() bool
}

// ReadExact reads exactly len(buf) bytes from r, honoring stop. A 0-byte
// read is treated as an orderly peer shutdown (ErrPeerClosed); any other
// read error is ErrStopped if stop is set, else surfaced as-is.
func ReadExact(r io.Reader, buf []byte, stop StopSignal) (int, error) {
	n, err := io.ReadFull(r, buf)
	if err == nil {
		return n, nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return n, ErrPeerClosed
	}
	if stop != nil && stop.Load() {
		return n, ErrStopped
	}
	return n, err
}

// WriteExact writes exactly len(buf) bytes to w, honoring stop the same
// way ReadExact does.
func WriteExact(w io.Writer, buf []byte, stop StopSignal) (int, error) {
	n, err := w.Write(buf)
	if err == nil && n == len(buf) {
		return n, nil
	}
	if err == nil {
		err = io.ErrShortWrite
	}
	if stop != nil && stop.Load() {
		return n, ErrStopped
	}
	return n, err
}
