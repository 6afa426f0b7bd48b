// Package dispatch implements the server-side half of the core: the
// DispatchTable (spec.md §3), the handler wrapper (§4.1 of this spec's
// §4.4/§4.6 terminology — "Handler wrapper" in the overview), and the
// top-level Dispatch(bytes) → bytes operation. It owns no transport: Server
// is handed already-received request bytes and returns already-encoded
// reply bytes, exactly as described in spec.md §4.4/§5.
package dispatch

import (
	"reflect"

	"callrpc/cache"
	"callrpc/rpcerr"
	"callrpc/serial"
)

// handler is what the DispatchTable actually stores. It captures, at Bind
// time, everything the wrapper needs to decode an argument tuple, invoke
// the bound Go function by reflection, and re-encode the outcome — the
// "list of parse functions" spec.md §9 describes as the template-free
// equivalent of a variadic typed callback.
type handler struct {
	fn         reflect.Value
	argTypes   []reflect.Type // fn's actual parameter types, pointers included
	wireTypes  []reflect.Type // decayed (pointee) types — what's on the wire
	resultType reflect.Type   // nil when the callback returns nothing
	cached     bool
}

// Server owns a DispatchTable and an optional result cache. It has no
// knowledge of transports, framing, or concurrency beyond what spec.md §5
// requires: Bind only before Freeze, Dispatch safe for concurrent callers
// afterward.
type Server struct {
	adapter serial.Adapter
	table   map[string]*handler
	cache   *cache.Store
	frozen  bool
}

// NewServer creates a Server bound to adapter. adapter is used both to turn
// incoming bytes into a serial.Object and to re-encode replies.
func NewServer(adapter serial.Adapter) *Server {
	return &Server{
		adapter: adapter,
		table:   make(map[string]*handler),
		cache:   cache.NewStore(),
	}
}

// Bind registers fn under name. fn must be a Go func value; its parameter
// types become the expected argument tuple and its (optional) first return
// value becomes the result type — a second return value of type error is
// allowed and, if non-nil, is surfaced as a RemoteExecution error exactly
// like a panic-free "the callback raised" per spec.md §4.4 step 3.
//
// Re-binding the same name replaces the previous handler — spec.md §9's
// open question is resolved here as "last bind wins", the documented
// deterministic choice for this implementation.
//
// Bind panics if called after Freeze, and panics if fn is not a func value
// with a supported signature — both are configuration-time programmer
// errors, not runtime RPC failures.
func (s *Server) Bind(name string, fn any) {
	s.bind(name, fn, false)
}

// BindCached is Bind, plus: dispatch for name consults/populates a
// per-function result cache keyed by the exact pre-invocation request bytes
// (spec.md §4.5).
func (s *Server) BindCached(name string, fn any) {
	s.bind(name, fn, true)
}

func (s *Server) bind(name string, fn any, cached bool) {
	if s.frozen {
		panic("dispatch: Bind called after Freeze")
	}
	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func {
		panic("dispatch: bound value must be a func")
	}

	argTypes := make([]reflect.Type, t.NumIn())
	wireTypes := make([]reflect.Type, t.NumIn())
	for i := range argTypes {
		argTypes[i] = t.In(i)
		if argTypes[i].Kind() == reflect.Ptr {
			wireTypes[i] = argTypes[i].Elem()
		} else {
			wireTypes[i] = argTypes[i]
		}
	}

	var resultType reflect.Type
	if t.NumOut() > 0 && t.Out(0) != errorType {
		resultType = t.Out(0)
	}

	s.table[name] = &handler{
		fn:         v,
		argTypes:   argTypes,
		wireTypes:  wireTypes,
		resultType: resultType,
		cached:     cached,
	}
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Freeze forbids further Bind/BindCached calls. Call it once, before
// exposing Dispatch to concurrent callers — see spec.md §5.
func (s *Server) Freeze() { s.frozen = true }

// GetFuncCache returns a typed handle to name's result cache bucket,
// resolving spec.md §9's open question about the `void*` accessor in the
// original implementation: this is always a *cache.FuncCache, never a bare
// pointer to an untyped map.
func (s *Server) GetFuncCache(name string) (*cache.FuncCache, bool) {
	return s.cache.Get(name)
}

// ClearAllCache empties every function's cache bucket.
func (s *Server) ClearAllCache() { s.cache.ClearAll() }

// Dispatch is the top-level server operation from spec.md §4.4: it never
// raises to its caller. Every failure — malformed bytes, unknown function,
// signature mismatch, a panicking/erroring callback, a re-encode failure —
// is encoded into the returned bytes instead.
func (s *Server) Dispatch(data []byte) []byte {
	obj, ok := s.adapter.FromBytes(data)
	if !ok {
		empty := s.adapter.EmptyObject()
		s.adapter.SetException(empty, rpcerr.New(rpcerr.ServerReceive, "Invalid RPC object received"))
		out, err := s.adapter.ToBytes(empty)
		if err != nil {
			// Nothing sane left to return; an adapter that can't even
			// encode its own EmptyObject has a fatal bug, but Dispatch's
			// contract is still "never raise" — return what we have.
			return out
		}
		return out
	}

	name := s.adapter.GetFuncName(obj)
	h, ok := s.table[name]
	if !ok {
		s.adapter.SetException(obj, rpcerr.Newf(rpcerr.FunctionNotFound,
			"RPC error: Called function: \"%s\" not found", name))
		out, _ := s.adapter.ToBytes(obj)
		return out
	}

	h.invoke(s.adapter, obj, s.cache)
	out, err := s.adapter.ToBytes(obj)
	if err != nil {
		s.adapter.SetException(obj, rpcerr.Newf(rpcerr.Serialization, "%v", err))
		out, _ = s.adapter.ToBytes(obj)
	}
	return out
}

// invoke is the handler wrapper from spec.md §4.4/§4.6: decode args, check
// the cache (cached path only, keyed by pre-invocation bytes), call the
// bound function, write the outcome back into obj.
func (h *handler) invoke(adapter serial.Adapter, obj serial.Object, store *cache.Store) {
	p, err := adapter.DeserializePack(obj, h.wireTypes, nil)
	if err != nil {
		adapter.SetException(obj, toRPCErr(err, rpcerr.Deserialization))
		return
	}

	var bucket *cache.FuncCache
	var key []byte
	if h.cached {
		bucket = store.Bucket(p.FuncName())
		key, err = adapter.ToBytes(obj)
		if err != nil {
			adapter.SetException(obj, rpcerr.Newf(rpcerr.Serialization, "%v", err))
			return
		}
		if cached, ok := bucket.Get(key); ok {
			p.SetResult(cached)
			if serErr := adapter.SerializePack(obj, p); serErr != nil {
				adapter.SetException(obj, rpcerr.Newf(rpcerr.Serialization, "%v", serErr))
			}
			return
		}
	}

	// Re-inflate decayed wire values into the callback's actual parameter
	// shape: pointer parameters get an addressable copy of the decoded
	// pointee so the callback can mutate it in place (the out-parameter
	// mechanism), non-pointer parameters pass the decoded value directly.
	in := make([]reflect.Value, len(p.Args()))
	ptrSlots := make([]reflect.Value, len(p.Args()))
	for i, a := range p.Args() {
		if h.argTypes[i].Kind() == reflect.Ptr {
			slot := reflect.New(h.wireTypes[i])
			if a != nil {
				slot.Elem().Set(reflect.ValueOf(a))
			}
			ptrSlots[i] = slot
			in[i] = slot
			continue
		}
		if a == nil {
			in[i] = reflect.Zero(h.argTypes[i])
			continue
		}
		in[i] = reflect.ValueOf(a)
	}

	var out []reflect.Value
	var callErr any
	func() {
		defer func() {
			if r := recover(); r != nil {
				callErr = r
			}
		}()
		out = h.fn.Call(in)
		if err := extractCallError(out); err != nil {
			callErr = err
		}
	}()
	if callErr != nil {
		adapter.SetException(obj, rpcerr.Newf(rpcerr.RemoteExecution, "%v", callErr))
		return
	}

	if h.resultType != nil {
		result := out[0].Interface()
		p.SetResult(result)
		if h.cached {
			bucket.Put(key, result)
		}
	}

	// Copy the (possibly mutated) out-parameter values back into the Call's
	// arg tuple so SerializePack writes them into obj's args field, for the
	// client to copy back into its own pointee (spec.md §4.3 step 6).
	for i := range ptrSlots {
		if ptrSlots[i].IsValid() {
			p.SetArg(i, ptrSlots[i].Elem().Interface())
		}
	}

	if err := adapter.SerializePack(obj, p); err != nil {
		adapter.SetException(obj, rpcerr.Newf(rpcerr.Serialization, "%v", err))
	}
}

// extractCallError finds a trailing error return value among out, if fn's
// signature declared one.
func extractCallError(out []reflect.Value) error {
	if len(out) == 0 {
		return nil
	}
	last := out[len(out)-1]
	if last.Type() != errorType {
		return nil
	}
	if last.IsNil() {
		return nil
	}
	return last.Interface().(error)
}

func toRPCErr(err error, fallback rpcerr.Kind) *rpcerr.Error {
	if re, ok := err.(*rpcerr.Error); ok {
		return re
	}
	return rpcerr.Newf(fallback, "%v", err)
}
