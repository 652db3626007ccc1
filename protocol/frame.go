package protocol

import (
	"encoding/binary"
	"io"
)

// ReadLength reads the 4-byte length prefix, honoring stop. It returns the
// length, or a non-nil error if reading was interrupted (ErrPeerClosed,
// ErrStopped, or the underlying I/O error) — callers should treat a
// non-nil error as "stop reading this connection".
func ReadLength(r io.Reader, stop StopSignal) (length uint32, err error) {
	var buf [LengthPrefixSize]byte
	if _, err := ReadExact(r, buf[:], stop); err != nil {
		return 0, err
	}
	return binary.NativeEndian.Uint32(buf[:]), nil
}

// WriteLength writes a 4-byte length prefix in native byte order.
func WriteLength(w io.Writer, length uint32, stop StopSignal) error {
	var buf [LengthPrefixSize]byte
	binary.NativeEndian.PutUint32(buf[:], length)
	_, err := WriteExact(w, buf[:], stop)
	return err
}

// ReadFrame reads one complete [length][body] frame. A length of 0 yields
// a nil body and no error — the caller's request loop treats this as a
// valid no-op: no response is sent, and the loop reads the next length
// prefix.
func ReadFrame(r io.Reader, stop StopSignal) (body []byte, err error) {
	length, err := ReadLength(r, stop)
	if err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, nil
	}
	body = make([]byte, length)
	if _, err := ReadExact(r, body, stop); err != nil {
		return nil, err
	}
	return body, nil
}

// WriteFrame writes a [length][body] frame in one call.
func WriteFrame(w io.Writer, body []byte, stop StopSignal) error {
	if err := WriteLength(w, uint32(len(body)), stop); err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	_, err := WriteExact(w, body, stop)
	return err
}
