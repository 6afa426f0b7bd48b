// Package client implements the client-side call surface from spec.md §4.3:
// CallFunc serializes a PackedCall, hands bytes to a user-supplied
// Transport, parses the reply, copies back any out-parameters, and returns
// the result or raises the carried error.
package client

import (
	"reflect"

	"callrpc/pack"
	"callrpc/rpcerr"
	"callrpc/serial"
)

// Transport is the abstract send/receive boundary spec.md §6 describes: the
// core client surface never touches a socket directly, it only serializes
// bytes and hands them to whatever Transport the host supplies. A Transport
// value is good for exactly one logical RPC round trip — it is neither
// thread-safe nor reentrant, matching spec.md §4.3's statement about the
// client itself.
type Transport interface {
	// Send hands data to the wire. Any error it returns is re-raised to the
	// caller as ClientSend.
	Send(data []byte) error

	// Receive blocks for the reply to the most recent Send. Any error it
	// returns is re-raised as ClientReceive.
	Receive() ([]byte, error)
}

// Client holds the SerialAdapter used to encode calls and decode replies
// (spec.md §6's adapter-is-a-capability note — nothing here assumes JSON or
// binary). The transport, and any adapter type tag it puts on the wire, is
// supplied separately on each call.
type Client struct {
	adapter serial.Adapter
}

// New builds a Client around adapter. adapter must match whatever adapter
// the server dispatching these calls was constructed with.
func New(adapter serial.Adapter) *Client {
	return &Client{adapter: adapter}
}

// CallFunc is the single operation exposed to application code: it builds a
// PackedCall for name(args...), round-trips it over t, and returns the
// typed result. Pointer arguments decay to their pointee type on the wire
// (spec.md's decay rule) and are the out-parameter mechanism: after a
// successful call, CallFunc copies the server's returned value for that
// position back into the pointee.
func CallFunc[R any](c *Client, t Transport, name string, args ...any) (R, error) {
	var zero R

	decayed, ptrSlots := decayArgs(args)
	call := pack.New(name, decayed)

	reqObj := c.adapter.EmptyObject()
	if err := c.adapter.SerializePack(reqObj, call); err != nil {
		return zero, wrap(err, rpcerr.Serialization, "serialize call")
	}

	reqBytes, err := c.adapter.ToBytes(reqObj)
	if err != nil {
		return zero, wrap(err, rpcerr.Serialization, "encode call")
	}

	if err := t.Send(reqBytes); err != nil {
		return zero, rpcerr.Newf(rpcerr.ClientSend, "%v", err)
	}

	replyBytes, err := t.Receive()
	if err != nil {
		return zero, rpcerr.Newf(rpcerr.ClientReceive, "%v", err)
	}

	replyObj, ok := c.adapter.FromBytes(replyBytes)
	if !ok {
		return zero, rpcerr.New(rpcerr.ClientReceive, "invalid RPC object")
	}

	argTypes := make([]reflect.Type, len(decayed))
	for i, a := range decayed {
		if a == nil {
			argTypes[i] = reflect.TypeOf((*any)(nil)).Elem()
			continue
		}
		argTypes[i] = reflect.TypeOf(a)
	}

	_, isVoid := any(zero).(Void)
	var resultType reflect.Type
	if !isVoid {
		resultType = reflect.TypeOf(zero)
	}

	reply, err := c.adapter.DeserializePack(replyObj, argTypes, resultType)
	if err != nil {
		return zero, wrap(err, rpcerr.Deserialization, "deserialize reply")
	}

	// Out-parameter copy-back: only pointer, non-decayed-to-string args are
	// eligible (spec.md §4.3 step 6).
	for i, slot := range ptrSlots {
		if !slot.IsValid() {
			continue
		}
		if i >= len(reply.Args()) {
			continue
		}
		v := reply.Args()[i]
		if v == nil {
			continue
		}
		slot.Elem().Set(reflect.ValueOf(v))
	}

	if reply.Err() != nil {
		return zero, reply.Err()
	}

	if isVoid {
		return zero, nil
	}
	if !reply.HasResult() {
		return zero, rpcerr.New(rpcerr.Deserialization, "reply carried no result")
	}
	return reply.Result().(R), nil
}

// Void instantiates CallFunc for unit-returning calls (spec.md's "R is
// unit" case, e.g. S3's AddOneToEachRef): the reply carries no result slot
// at all, only out-parameter copy-back and the possibility of a raised
// error.
type Void struct{}

// CallVoid is CallFunc specialized to Void, for callers that don't want to
// spell out the type parameter at every unit-returning call site.
func CallVoid(c *Client, t Transport, name string, args ...any) error {
	_, err := CallFunc[Void](c, t, name, args...)
	return err
}

// decayArgs separates args into their wire-ready (decayed) form and, for
// every pointer argument, the reflect.Value slot CallFunc must write the
// server's returned value back into after a successful round trip.
// Non-pointer arguments decay to themselves; decayed[i] is always the
// pointee value, never a pointer, matching spec.md's decay rule.
func decayArgs(args []any) (decayed []any, ptrSlots []reflect.Value) {
	decayed = make([]any, len(args))
	ptrSlots = make([]reflect.Value, len(args))
	for i, a := range args {
		if a == nil {
			continue
		}
		rv := reflect.ValueOf(a)
		if rv.Kind() == reflect.Ptr && !rv.IsNil() {
			decayed[i] = rv.Elem().Interface()
			ptrSlots[i] = rv
			continue
		}
		decayed[i] = a
	}
	return decayed, ptrSlots
}

func wrap(err error, fallback rpcerr.Kind, context string) *rpcerr.Error {
	if re, ok := err.(*rpcerr.Error); ok {
		return re
	}
	return rpcerr.Newf(fallback, "%s: %v", context, err)
}
