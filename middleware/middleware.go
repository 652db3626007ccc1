// Package middleware implements an onion-model chain of cross-cutting
// wrappers around the dispatch function, the same shape every connection
// handler ultimately calls.
//
// Onion model execution order:
//
//	Chain(A, B, C)(handler)  →  A(B(C(handler)))
//
//	Request:   A.before → B.before → C.before → handler
//	Response:  handler → C.after → B.after → A.after
package middleware

// DispatchFunc is the signature shared by the raw procedure dispatcher
// and every middleware-wrapped handler: it takes request envelope bytes
// and returns response envelope bytes plus the protocol-level ok bit.
type DispatchFunc func(requestBytes []byte) (responseBytes []byte, ok bool)

// Middleware wraps a DispatchFunc with additional behavior.
type Middleware func(next DispatchFunc) DispatchFunc

// Chain composes middlewares so the first in the list is the outermost
// layer (runs first on the request, last on the response).
func Chain(middlewares ...Middleware) Middleware {
	return func(next DispatchFunc) DispatchFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
