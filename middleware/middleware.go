// Package middleware implements the request-wrapping layer the example
// server chain sits behind: logging, rate limiting, retry, and timeout, all
// composed over raw dispatch bytes rather than any framework-level request
// type. spec.md itself names no middleware concept — dispatch.Server.Dispatch
// is a plain []byte -> []byte function — so every middleware here wraps that
// exact shape and peeks inside the bytes via a serial.Adapter only when it
// genuinely needs to (logging the called function, checking whether a reply
// carries an exception).
package middleware

import "context"

// HandlerFunc is the shape dispatch.Server.Dispatch has: request bytes in,
// reply bytes out. Middlewares never see a typed Call — by the time a
// request reaches here it is already serialized, matching spec.md's
// transport-agnostic boundary.
type HandlerFunc func(ctx context.Context, req []byte) []byte

// Middleware wraps a HandlerFunc with additional behavior.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one, applied outermost-first: the first
// middleware in the list sees the request before any other and the reply
// after every other.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
