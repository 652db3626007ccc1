// Package message defines the inner message schemas carried inside a
// procedure envelope's payload.
//
// Each registered procedure has a RequestT/ResponseT pair; the only
// procedure currently registered is matrix multiplication. Encoding is a
// small fixed binary layout (length-prefixed fields, encoding/binary,
// big-endian) rather than a pluggable strategy: the wire schema for a
// given ProcID is fixed by this package, the way a generated protobuf
// message would be.
package message

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ProcID tags a procedure envelope. 0 is reserved to signal protocol-level
// failure; procedures are numbered 1..K in registration order.
type ProcID uint32

const (
	Invalid  ProcID = 0
	MatrixOp ProcID = 1
)

// MatrixOpCode identifies the operation requested in a MatrixOpRequest.
type MatrixOpCode uint8

const (
	MUL MatrixOpCode = 0
)

// Matrix is a dense, row-major matrix of float32 elements.
type Matrix struct {
	Rows    uint32
	Columns uint32
	Content []float32
}

// Validate checks that both dimensions are positive and
// len(Content) == Rows*Columns.
func (m Matrix) Validate() error {
	if m.Rows == 0 || m.Columns == 0 {
		return fmt.Errorf("Invalid matrix content size: %d != %d x %d", len(m.Content), m.Rows, m.Columns)
	}
	if uint64(len(m.Content)) != uint64(m.Rows)*uint64(m.Columns) {
		return fmt.Errorf("Invalid matrix content size: %d != %d x %d", len(m.Content), m.Rows, m.Columns)
	}
	return nil
}

func (m Matrix) marshalInto(buf []byte) []byte {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], m.Rows)
	binary.BigEndian.PutUint32(hdr[4:8], m.Columns)
	buf = append(buf, hdr[:]...)
	for _, f := range m.Content {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], math.Float32bits(f))
		buf = append(buf, b[:]...)
	}
	return buf
}

func (m *Matrix) unmarshalFrom(data []byte) (rest []byte, err error) {
	if len(data) < 8 {
		return nil, errors.New("matrix: truncated header")
	}
	m.Rows = binary.BigEndian.Uint32(data[0:4])
	m.Columns = binary.BigEndian.Uint32(data[4:8])
	data = data[8:]

	count := uint64(m.Rows) * uint64(m.Columns)
	need := count * 4
	if uint64(len(data)) < need {
		return nil, errors.New("matrix: truncated content")
	}
	m.Content = make([]float32, count)
	for i := range m.Content {
		m.Content[i] = math.Float32frombits(binary.BigEndian.Uint32(data[i*4 : i*4+4]))
	}
	return data[need:], nil
}

// MatrixOpRequest is RequestT for ProcID MatrixOp.
type MatrixOpRequest struct {
	Op   MatrixOpCode
	Args []Matrix
}

// Marshal serializes the request to its wire form.
func (r MatrixOpRequest) Marshal() []byte {
	buf := make([]byte, 0, 16)
	buf = append(buf, byte(r.Op))
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(r.Args)))
	buf = append(buf, n[:]...)
	for _, m := range r.Args {
		buf = m.marshalInto(buf)
	}
	return buf
}

// UnmarshalMatrixOpRequest parses the wire form produced by Marshal.
func UnmarshalMatrixOpRequest(data []byte) (MatrixOpRequest, error) {
	var req MatrixOpRequest
	if len(data) < 5 {
		return req, errors.New("MatrixOpRequest: truncated")
	}
	req.Op = MatrixOpCode(data[0])
	argCount := binary.BigEndian.Uint32(data[1:5])
	data = data[5:]

	req.Args = make([]Matrix, 0, argCount)
	for i := uint32(0); i < argCount; i++ {
		var m Matrix
		rest, err := m.unmarshalFrom(data)
		if err != nil {
			return MatrixOpRequest{}, fmt.Errorf("MatrixOpRequest: arg %d: %w", i, err)
		}
		req.Args = append(req.Args, m)
		data = rest
	}
	return req, nil
}

// MatrixOpResponse is ResponseT for ProcID MatrixOp. Result and Error are
// mutually exclusive.
type MatrixOpResponse struct {
	Result *Matrix
	Error  string
}

// Marshal serializes the response to its wire form: a 1-byte tag (0 =
// result, 1 = error) followed by the corresponding payload.
func (r MatrixOpResponse) Marshal() []byte {
	if r.Result != nil {
		buf := append([]byte{0}, r.Result.marshalInto(nil)...)
		return buf
	}
	errBytes := []byte(r.Error)
	buf := make([]byte, 0, 5+len(errBytes))
	buf = append(buf, 1)
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(errBytes)))
	buf = append(buf, n[:]...)
	buf = append(buf, errBytes...)
	return buf
}

// UnmarshalMatrixOpResponse parses the wire form produced by Marshal.
func UnmarshalMatrixOpResponse(data []byte) (MatrixOpResponse, error) {
	if len(data) < 1 {
		return MatrixOpResponse{}, errors.New("MatrixOpResponse: truncated")
	}
	switch data[0] {
	case 0:
		var m Matrix
		if _, err := m.unmarshalFrom(data[1:]); err != nil {
			return MatrixOpResponse{}, fmt.Errorf("MatrixOpResponse: %w", err)
		}
		return MatrixOpResponse{Result: &m}, nil
	case 1:
		if len(data) < 5 {
			return MatrixOpResponse{}, errors.New("MatrixOpResponse: truncated error")
		}
		n := binary.BigEndian.Uint32(data[1:5])
		if uint64(len(data)-5) < uint64(n) {
			return MatrixOpResponse{}, errors.New("MatrixOpResponse: truncated error body")
		}
		return MatrixOpResponse{Error: string(data[5 : 5+n])}, nil
	default:
		return MatrixOpResponse{}, fmt.Errorf("MatrixOpResponse: unknown tag %d", data[0])
	}
}
