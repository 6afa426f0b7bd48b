package middleware

import (
	"context"
	"log"
	"strings"
	"time"

	"callrpc/serial"
)

// RetryMiddleware retries next when its reply carries an exception whose
// message looks transient (timeout, connection refused). Non-transient
// exceptions, and FunctionNotFound/SignatureMismatch-style failures that
// retrying cannot fix, are returned immediately.
func RetryMiddleware(adapter serial.Adapter, maxRetries int, baseDelay time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req []byte) []byte {
			resp := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				exc := extractException(adapter, resp)
				if exc == "" {
					return resp
				}
				if !isRetryable(exc) {
					return resp
				}
				log.Printf("retry attempt %d due to error: %s", i+1, exc)
				time.Sleep(baseDelay * time.Duration(1<<i))
				resp = next(ctx, req)
			}
			return resp
		}
	}
}

func extractException(adapter serial.Adapter, resp []byte) string {
	obj, ok := adapter.FromBytes(resp)
	if !ok {
		return ""
	}
	exc := adapter.ExtractException(obj)
	if exc == nil {
		return ""
	}
	return exc.Error()
}

func isRetryable(message string) bool {
	return strings.Contains(message, "timeout") || strings.Contains(message, "connection refused")
}
