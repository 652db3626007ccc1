// Package codec implements the procedure envelope codec: the outer
// {proc_id, payload} wrapper that every request and response carries,
// serialized the one way the peer expects. Inner message schemas (the
// payload bytes) live in package message.
package codec

import (
	"encoding/binary"
	"errors"
	"matrixrpc/message"
)

// ErrEmptyEnvelope is returned by Decode when given a zero-length byte
// string.
var ErrEmptyEnvelope = errors.New("codec: empty envelope")

// Envelope is the outer message every request and response is wrapped in.
type Envelope struct {
	ProcID  message.ProcID
	Payload []byte
}

// Encode serializes an envelope: a 4-byte big-endian ProcID followed by
// the raw payload bytes.
func Encode(procID message.ProcID, payload []byte) []byte {
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(procID))
	copy(buf[4:], payload)
	return buf
}

// Decode parses the bytes produced by Encode. It performs no semantic
// validation beyond the structural parse — it rejects only an empty byte
// string and one too short to hold the 4-byte ProcID header.
func Decode(data []byte) (Envelope, error) {
	if len(data) == 0 {
		return Envelope{}, ErrEmptyEnvelope
	}
	if len(data) < 4 {
		return Envelope{}, errors.New("codec: truncated envelope header")
	}
	procID := message.ProcID(binary.BigEndian.Uint32(data[0:4]))
	payload := make([]byte, len(data)-4)
	copy(payload, data[4:])
	return Envelope{ProcID: procID, Payload: payload}, nil
}
