// Package jsonadapter is the reference SerialAdapter implementation: it
// encodes a Call as a plain JSON document using the standard library's
// encoding/json, the way the teacher repo's codec.JSONCodec does for its
// own RPCMessage envelope.
package jsonadapter

import (
	"encoding/json"
	"reflect"

	"callrpc/pack"
	"callrpc/rpcerr"
	"callrpc/serial"
)

// object is the adapter's concrete serial object. The JSON field names
// match the wire schema table in spec.md §6 exactly.
type object struct {
	FuncName   string            `json:"func_name"`
	Args       []json.RawMessage `json:"args"`
	Result     json.RawMessage   `json:"result,omitempty"`
	ExceptType int               `json:"except_type,omitempty"`
	ErrMesg    string            `json:"err_mesg,omitempty"`
}

// Adapter is stateless; a single instance can be shared across goroutines.
type Adapter struct{}

func New() *Adapter { return &Adapter{} }

var _ serial.Adapter = (*Adapter)(nil)

func (a *Adapter) ToBytes(obj serial.Object) ([]byte, error) {
	o, ok := obj.(*object)
	if !ok {
		return nil, rpcerr.New(rpcerr.Serialization, "jsonadapter: not a *object")
	}
	data, err := json.Marshal(o)
	if err != nil {
		return nil, rpcerr.Newf(rpcerr.Serialization, "jsonadapter: %v", err)
	}
	return data, nil
}

func (a *Adapter) FromBytes(data []byte) (serial.Object, bool) {
	var o object
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, false
	}

	if o.ExceptType != 0 {
		if o.ErrMesg == "" {
			return nil, false
		}
		return &o, true
	}

	if o.FuncName == "" {
		return nil, false
	}
	if o.Args == nil {
		return nil, false
	}

	return &o, true
}

func (a *Adapter) EmptyObject() serial.Object {
	return &object{Args: []json.RawMessage{}}
}

func (a *Adapter) GetFuncName(obj serial.Object) string {
	o, ok := obj.(*object)
	if !ok {
		return ""
	}
	return o.FuncName
}

func (a *Adapter) ExtractException(obj serial.Object) *rpcerr.Error {
	o, ok := obj.(*object)
	if !ok {
		return nil
	}
	return rpcerr.New(rpcerr.Kind(o.ExceptType), o.ErrMesg)
}

func (a *Adapter) SetException(obj serial.Object, err *rpcerr.Error) {
	o, ok := obj.(*object)
	if !ok {
		return
	}
	o.ExceptType = int(err.Kind)
	o.ErrMesg = err.Message
}

func (a *Adapter) SerializePack(obj serial.Object, p *pack.Call) error {
	o, ok := obj.(*object)
	if !ok {
		return rpcerr.New(rpcerr.Serialization, "jsonadapter: not a *object")
	}

	o.FuncName = p.FuncName()

	args := p.Args()
	encoded := make([]json.RawMessage, len(args))
	for i, arg := range args {
		raw, err := serial.EncodeValue(arg)
		if err != nil {
			return rpcerr.Newf(rpcerr.Serialization, "encode arg %d: %v", i, err)
		}
		encoded[i] = raw
	}
	o.Args = encoded

	if callErr := p.Err(); callErr != nil {
		o.ExceptType = int(callErr.Kind)
		o.ErrMesg = callErr.Message
		o.Result = nil
		return nil
	}

	o.ExceptType = 0
	o.ErrMesg = ""

	if p.HasResult() {
		raw, err := serial.EncodeValue(p.Result())
		if err != nil {
			return rpcerr.Newf(rpcerr.Serialization, "encode result: %v", err)
		}
		o.Result = raw
	} else {
		o.Result = nil
	}

	return nil
}

func (a *Adapter) DeserializePack(obj serial.Object, argTypes []reflect.Type, resultType reflect.Type) (*pack.Call, error) {
	o, ok := obj.(*object)
	if !ok {
		return nil, rpcerr.New(rpcerr.Deserialization, "jsonadapter: not a *object")
	}

	if o.ExceptType != 0 {
		p := pack.New(o.FuncName, make([]any, len(argTypes)))
		p.SetError(rpcerr.Kind(o.ExceptType), o.ErrMesg)
		return p, nil
	}

	if len(o.Args) != len(argTypes) {
		return nil, rpcerr.Newf(rpcerr.SignatureMismatch,
			"argument count mismatch: expected %d, got %d", len(argTypes), len(o.Args))
	}

	args := make([]any, len(argTypes))
	for i, t := range argTypes {
		v, err := serial.DecodeValue(o.Args[i], t)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	p := pack.New(o.FuncName, args)

	if resultType != nil && len(o.Result) > 0 {
		v, err := serial.DecodeValue(o.Result, resultType)
		if err != nil {
			return nil, err
		}
		p.SetResult(v)
	}

	return p, nil
}
