package middleware

import (
	"context"
	"log"
	"time"

	"callrpc/rpcerr"
	"callrpc/serial"
)

// LoggingMiddleware logs the called function name, the time taken, and any
// exception carried in the reply. adapter is used read-only, to peek the
// function name out of the request and the exception (if any) out of the
// reply — it never constructs a reply itself.
func LoggingMiddleware(adapter serial.Adapter) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req []byte) []byte {
			funcName := "?"
			if obj, ok := adapter.FromBytes(req); ok {
				funcName = adapter.GetFuncName(obj)
			}

			start := time.Now()
			resp := next(ctx, req)
			duration := time.Since(start)

			log.Printf("func: %s, duration: %s", funcName, duration)
			if obj, ok := adapter.FromBytes(resp); ok {
				if exc := adapter.ExtractException(obj); exc != nil && exc.Kind != rpcerr.None {
					log.Printf("error: %s", exc)
				}
			}
			return resp
		}
	}
}
