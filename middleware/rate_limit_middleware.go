package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"callrpc/rpcerr"
	"callrpc/serial"
)

// RateLimitMiddleware throttles requests with a token-bucket limiter. A
// rejected request never reaches next — the middleware synthesizes a reply
// carrying a RemoteExecution exception directly, using adapter so the reply
// bytes are shaped exactly like a real dispatch.Server reply.
func RateLimitMiddleware(adapter serial.Adapter, r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req []byte) []byte {
			if !limiter.Allow() {
				return exceptionReply(adapter, rpcerr.New(rpcerr.RemoteExecution, "rate limit exceeded"))
			}
			return next(ctx, req)
		}
	}
}

// exceptionReply builds reply bytes carrying err, for middlewares that short
// circuit a request before it ever reaches the dispatcher.
func exceptionReply(adapter serial.Adapter, err *rpcerr.Error) []byte {
	obj := adapter.EmptyObject()
	adapter.SetException(obj, err)
	data, encErr := adapter.ToBytes(obj)
	if encErr != nil {
		return nil
	}
	return data
}
