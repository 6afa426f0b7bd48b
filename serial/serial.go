// Package serial defines the SerialAdapter contract: the capability that
// converts a PackedCall to and from an adapter-owned structured "serial
// object", and a serial object to and from a byte buffer. It also carries
// the per-type argument encoding rules shared by every reference adapter in
// this module (see valuecodec.go), so that jsonadapter and binaryadapter
// don't each reinvent container/tuple/user-type handling.
//
// An adapter is a capability, not a base class: Object is an opaque value
// (always a pointer to the adapter's own concrete struct, so mutation
// through it is visible to whoever holds the same Object), and Adapter is a
// plain interface — no shared vtable, no inheritance.
package serial

import (
	"reflect"

	"callrpc/pack"
	"callrpc/rpcerr"
)

// Object is the adapter-owned structured intermediate form of a Call. Each
// adapter defines its own concrete type (always handed out and accepted as
// a pointer) and type-asserts it back out of this alias internally.
type Object = any

// Adapter converts between Call, Object and raw bytes. All operations may
// fail; encode/decode failures surface as Serialization/Deserialization,
// except where the caller (client/dispatch) maps them to a more specific
// kind such as SignatureMismatch.
type Adapter interface {
	// ToBytes encodes obj to its wire form.
	ToBytes(obj Object) ([]byte, error)

	// FromBytes decodes data into an Object, or reports ok=false when the
	// bytes don't parse or the decoded object fails structural validation.
	FromBytes(data []byte) (obj Object, ok bool)

	// EmptyObject returns a blank record suitable for attaching an error
	// when the incoming bytes didn't parse at all.
	EmptyObject() Object

	// GetFuncName reads the function name out of a decoded Object.
	GetFuncName(obj Object) string

	// ExtractException reads the carried exception out of an Object that
	// has one set.
	ExtractException(obj Object) *rpcerr.Error

	// SetException mutates obj in place to carry err instead of a result.
	SetException(obj Object, err *rpcerr.Error)

	// SerializePack writes p's func name, args, and result-or-error into
	// obj, mutating it in place.
	SerializePack(obj Object, p *pack.Call) error

	// DeserializePack reads a Call out of obj. argTypes gives the expected
	// type of each positional argument (the dispatcher/client derives this
	// from the bound handler's or the call site's reflect.Type); resultType
	// gives the expected type of the result field, or nil when the Call is
	// known not to carry one (a request never does).
	DeserializePack(obj Object, argTypes []reflect.Type, resultType reflect.Type) (*pack.Call, error)
}
