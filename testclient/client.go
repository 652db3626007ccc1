// Package testclient is a raw synchronous TCP client used to drive
// end-to-end reactor tests. Unlike a multiplexed RPC transport, this
// protocol carries no sequence number and allows at most one request in
// flight per connection, so a client here is just a thin wrapper over a
// net.Conn plus the framed I/O helpers from package protocol.
package testclient

import (
	"net"
	"time"

	"matrixrpc/codec"
	"matrixrpc/message"
	"matrixrpc/protocol"
)

// Client is a single TCP connection to a running reactor.
type Client struct {
	conn net.Conn
}

// Dial connects to addr with the given timeout.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// SendRaw writes a length-prefixed frame carrying exactly body as its
// payload, with no envelope wrapping — used to drive junk-bytes and
// zero-length test scenarios.
func (c *Client) SendRaw(body []byte) error {
	return protocol.WriteFrame(c.conn, body, noStop{})
}

// RecvRaw reads one length-prefixed frame and returns its raw body (nil
// for a zero-length no-op frame).
func (c *Client) RecvRaw() ([]byte, error) {
	return protocol.ReadFrame(c.conn, noStop{})
}

// Call sends one MatrixOp request envelope and waits for the response
// envelope, decoding it into a MatrixOpResponse. A response envelope whose
// ProcID is Invalid is returned as a *ProtocolError, so callers tell
// protocol failures from domain ones by the returned error.
func (c *Client) Call(req message.MatrixOpRequest) (message.MatrixOpResponse, error) {
	envelope := codec.Encode(message.MatrixOp, req.Marshal())
	if err := protocol.WriteFrame(c.conn, envelope, noStop{}); err != nil {
		return message.MatrixOpResponse{}, err
	}

	respBytes, err := protocol.ReadFrame(c.conn, noStop{})
	if err != nil {
		return message.MatrixOpResponse{}, err
	}

	env, err := codec.Decode(respBytes)
	if err != nil {
		return message.MatrixOpResponse{}, err
	}
	if env.ProcID == message.Invalid {
		return message.MatrixOpResponse{}, &ProtocolError{Diagnostic: string(env.Payload)}
	}

	return message.UnmarshalMatrixOpResponse(env.Payload)
}

// ProtocolError is returned by Call when the server reports a
// protocol-level failure (proc_id = Invalid) rather than a domain
// response.
type ProtocolError struct {
	Diagnostic string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Diagnostic
}

// noStop satisfies protocol.StopSignal for a client that is never asked
// to stop mid-I/O.
type noStop struct{}

func (noStop) Load() bool { return false }
