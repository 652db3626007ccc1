// Package dispatch implements the procedure dispatch table.
//
// Registered procedures form a fixed, ordered table indexed by ProcID.
// Table consistency is checked once at package init time and panics on
// mismatch, so the binary can never serve a request with an inconsistent
// table.
package dispatch

import (
	"fmt"
	"matrixrpc/codec"
	"matrixrpc/message"
)

// handlerFunc parses payload bytes, runs the registered procedure, and
// serializes the response payload. Envelope/framing concerns never reach
// this layer — only RequestT -> ResponseT.
type handlerFunc func(payload []byte) ([]byte, error)

type procedure struct {
	id      message.ProcID
	name    string
	handler handlerFunc
}

// table is indexed by ProcID; table[0] is the reserved Invalid slot and is
// never dispatched to.
var table = []procedure{
	{id: message.Invalid, name: "invalid", handler: nil},
	{id: message.MatrixOp, name: "MatrixOp", handler: handleMatrixOp},
}

func init() {
	for i, p := range table {
		if uint32(p.id) != uint32(i) {
			panic(fmt.Sprintf("dispatch: procedure table inconsistent: index %d registered with ProcID %d", i, p.id))
		}
	}
}

// Dispatch decodes the envelope, looks up and runs the registered
// procedure, and re-encodes the response. It returns the response
// envelope bytes and an ok bit: ok=false means a protocol-level
// failure (unknown procedure, corrupted envelope, corrupted payload) —
// proc_id in the response is always Invalid in that case. ok=true means
// the envelope round-tripped successfully, even if the procedure's typed
// response carries a domain-level error.
func Dispatch(requestBytes []byte) (responseBytes []byte, ok bool) {
	env, err := codec.Decode(requestBytes)
	if err != nil {
		return errorEnvelope("Corrupted matrix_service::Procedure protobuf!"), false
	}

	id := uint32(env.ProcID)
	if id == 0 || id >= uint32(len(table)) {
		return errorEnvelope(fmt.Sprintf("Unknown ProcedureId: %d", id)), false
	}

	proc := table[id]
	respPayload, err := proc.handler(env.Payload)
	if err != nil {
		return errorEnvelope(err.Error()), false
	}

	return codec.Encode(env.ProcID, respPayload), true
}

func errorEnvelope(diagnostic string) []byte {
	return codec.Encode(message.Invalid, []byte(diagnostic))
}
