package dispatch

import (
	"fmt"
	"matrixrpc/matrixop"
	"matrixrpc/message"
)

// handleMatrixOp is the registered handler for ProcID MatrixOp. The
// returned error is always a protocol-level (ok=false) failure: corrupted
// payload, wrong op, wrong arg count, or a malformed input matrix. A
// shape mismatch in the multiply itself is NOT returned as an error here —
// it is encoded inside the response's Error field with ok=true, so the
// connection can stay open under keepalive.
func handleMatrixOp(payload []byte) ([]byte, error) {
	req, err := message.UnmarshalMatrixOpRequest(payload)
	if err != nil {
		return nil, fmt.Errorf("Corrupted protobuf for procedure request with id %d", message.MatrixOp)
	}

	if req.Op != message.MUL {
		return nil, fmt.Errorf("Unsupported operation in MatrixOpRequest: %d", req.Op)
	}
	if len(req.Args) != 2 {
		return nil, fmt.Errorf("Invalid count of args in MatrixOpRequest: %d", len(req.Args))
	}

	a, b := req.Args[0], req.Args[1]
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}

	product, mulErr := matrixop.Multiply(toKernelMatrix(a), toKernelMatrix(b))

	var resp message.MatrixOpResponse
	if mulErr != nil {
		resp.Error = mulErr.Error()
	} else {
		resp.Result = &message.Matrix{
			Rows:    product.Rows,
			Columns: product.Columns,
			Content: product.Content,
		}
	}
	return resp.Marshal(), nil
}

func toKernelMatrix(m message.Matrix) matrixop.Matrix {
	return matrixop.Matrix{Rows: m.Rows, Columns: m.Columns, Content: m.Content}
}
