// Package pack defines the typed in-memory record of one RPC invocation —
// the function name, its argument tuple, an optional result, and an
// optional error. A Call is created per request, lives across one round
// trip, and is read once by the caller.
package pack

import "callrpc/rpcerr"

// Call is the untyped carrier for a single RPC invocation. The client and
// server packages layer generics on top of Call at the API boundary; Call
// itself stays dynamic (args as []any) because a SerialAdapter must be able
// to walk an arbitrary, adapter-agnostic argument tuple using nothing but
// reflect.Type hints supplied by whoever owns the typed signature (the
// bound handler on the server, the call-site generics on the client).
type Call struct {
	funcName  string
	args      []any
	hasResult bool
	result    any
	err       *rpcerr.Error
}

// New builds a Call with no result and no error.
func New(funcName string, args []any) *Call {
	return &Call{funcName: funcName, args: args}
}

func (c *Call) FuncName() string { return c.funcName }

// Args returns the argument slice. Callers (the dispatcher, mainly) may
// mutate elements in place to support out-parameters; the slice itself is
// never reallocated by Call.
func (c *Call) Args() []any { return c.args }

func (c *Call) SetArg(i int, v any) { c.args[i] = v }

// SetResult overwrites the result slot. It does not clear any existing
// error — callers that want a clean success must call ClearError first.
func (c *Call) SetResult(v any) {
	c.result = v
	c.hasResult = true
}

func (c *Call) ClearResult() {
	c.result = nil
	c.hasResult = false
}

func (c *Call) HasResult() bool { return c.hasResult }

// Result returns the raw result value. Callers that need it typed assert
// or reflect-convert it themselves; Call carries no type information.
func (c *Call) Result() any { return c.result }

func (c *Call) SetError(kind rpcerr.Kind, message string) {
	c.err = rpcerr.New(kind, message)
}

func (c *Call) SetErr(err *rpcerr.Error) { c.err = err }

func (c *Call) ClearError() { c.err = nil }

func (c *Call) Err() *rpcerr.Error { return c.err }

// Successful reports whether the call carries no error and, for
// result-bearing calls, a result.
func (c *Call) Successful(expectsResult bool) bool {
	if c.err != nil {
		return false
	}
	return !expectsResult || c.hasResult
}
