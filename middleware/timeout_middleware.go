package middleware

import (
	"context"
	"time"

	"callrpc/rpcerr"
	"callrpc/serial"
)

// TimeOutMiddleware bounds how long next is allowed to run. On expiry it
// returns a synthetic RemoteExecution reply rather than waiting for the
// (possibly stuck) handler goroutine, which keeps running in the background
// and is abandoned.
func TimeOutMiddleware(adapter serial.Adapter, timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req []byte) []byte {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan []byte, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return exceptionReply(adapter, rpcerr.New(rpcerr.RemoteExecution, "request timed out"))
			}
		}
	}
}
