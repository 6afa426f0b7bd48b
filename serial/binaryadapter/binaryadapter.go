// Package binaryadapter is a second reference SerialAdapter: it encodes a
// Call into the same serial.Envelope shape jsonadapter uses, but flattens
// it to a compact length-prefixed binary layout instead of JSON text — the
// same relationship codec.BinaryCodec bears to codec.JSONCodec in the
// teacher repo, and the msgpack-style compact wire format
// rpc_adapters/rpc_njson.hpp layers under its in-memory serial_t tree.
//
// Each field is still a JSON-encoded value internally (serial.EncodeValue
// produces json.RawMessage elements), so the per-type argument encoding
// rules in valuecodec.go are shared byte-for-byte with jsonadapter; only
// the envelope's own framing — how func_name/args/result/error are laid out
// on the wire — differs.
package binaryadapter

import (
	"encoding/binary"
	"encoding/json"
	"reflect"

	"callrpc/pack"
	"callrpc/rpcerr"
	"callrpc/serial"
)

// Adapter is stateless; a single instance can be shared across goroutines.
type Adapter struct{}

func New() *Adapter { return &Adapter{} }

var _ serial.Adapter = (*Adapter)(nil)

func (a *Adapter) ToBytes(obj serial.Object) ([]byte, error) {
	e, ok := obj.(*serial.Envelope)
	if !ok {
		return nil, rpcerr.New(rpcerr.Serialization, "binaryadapter: not a *serial.Envelope")
	}

	argsBlob, err := json.Marshal(e.Args)
	if err != nil {
		return nil, rpcerr.Newf(rpcerr.Serialization, "binaryadapter: %v", err)
	}

	total := 2 + len(e.FuncName) +
		4 + len(argsBlob) +
		4 + len(e.Result) +
		4 + // ExceptType
		2 + len(e.ErrMesg)
	buf := make([]byte, total)
	off := 0

	off += putString16(buf[off:], e.FuncName)
	off += putBlob32(buf[off:], argsBlob)
	off += putBlob32(buf[off:], e.Result)
	binary.BigEndian.PutUint32(buf[off:off+4], uint32(e.ExceptType))
	off += 4
	putString16(buf[off:], e.ErrMesg)

	return buf, nil
}

func (a *Adapter) FromBytes(data []byte) (serial.Object, bool) {
	e, ok := decode(data)
	if !ok {
		return nil, false
	}

	if e.HasException() {
		if e.ErrMesg == "" {
			return nil, false
		}
		return e, true
	}

	if e.FuncName == "" || e.Args == nil {
		return nil, false
	}

	return e, true
}

func decode(data []byte) (*serial.Envelope, bool) {
	off := 0

	funcName, n, ok := getString16(data, off)
	if !ok {
		return nil, false
	}
	off += n

	argsBlob, n, ok := getBlob32(data, off)
	if !ok {
		return nil, false
	}
	off += n

	result, n, ok := getBlob32(data, off)
	if !ok {
		return nil, false
	}
	off += n

	if off+4 > len(data) {
		return nil, false
	}
	exceptType := int(binary.BigEndian.Uint32(data[off : off+4]))
	off += 4

	errMesg, _, ok := getString16(data, off)
	if !ok {
		return nil, false
	}

	var args []json.RawMessage
	if len(argsBlob) > 0 {
		if err := json.Unmarshal(argsBlob, &args); err != nil {
			return nil, false
		}
	} else {
		args = []json.RawMessage{}
	}

	return &serial.Envelope{
		FuncName:   funcName,
		Args:       args,
		Result:     json.RawMessage(result),
		ExceptType: exceptType,
		ErrMesg:    errMesg,
	}, true
}

func (a *Adapter) EmptyObject() serial.Object {
	return &serial.Envelope{Args: []json.RawMessage{}}
}

func (a *Adapter) GetFuncName(obj serial.Object) string {
	e, ok := obj.(*serial.Envelope)
	if !ok {
		return ""
	}
	return e.FuncName
}

func (a *Adapter) ExtractException(obj serial.Object) *rpcerr.Error {
	e, ok := obj.(*serial.Envelope)
	if !ok {
		return nil
	}
	return rpcerr.New(rpcerr.Kind(e.ExceptType), e.ErrMesg)
}

func (a *Adapter) SetException(obj serial.Object, err *rpcerr.Error) {
	e, ok := obj.(*serial.Envelope)
	if !ok {
		return
	}
	e.ExceptType = int(err.Kind)
	e.ErrMesg = err.Message
}

func (a *Adapter) SerializePack(obj serial.Object, p *pack.Call) error {
	e, ok := obj.(*serial.Envelope)
	if !ok {
		return rpcerr.New(rpcerr.Serialization, "binaryadapter: not a *serial.Envelope")
	}

	e.FuncName = p.FuncName()

	args := p.Args()
	encoded := make([]json.RawMessage, len(args))
	for i, arg := range args {
		raw, err := serial.EncodeValue(arg)
		if err != nil {
			return rpcerr.Newf(rpcerr.Serialization, "encode arg %d: %v", i, err)
		}
		encoded[i] = raw
	}
	e.Args = encoded

	if callErr := p.Err(); callErr != nil {
		e.ExceptType = int(callErr.Kind)
		e.ErrMesg = callErr.Message
		e.Result = nil
		return nil
	}

	e.ExceptType = 0
	e.ErrMesg = ""

	if p.HasResult() {
		raw, err := serial.EncodeValue(p.Result())
		if err != nil {
			return rpcerr.Newf(rpcerr.Serialization, "encode result: %v", err)
		}
		e.Result = raw
	} else {
		e.Result = nil
	}

	return nil
}

func (a *Adapter) DeserializePack(obj serial.Object, argTypes []reflect.Type, resultType reflect.Type) (*pack.Call, error) {
	e, ok := obj.(*serial.Envelope)
	if !ok {
		return nil, rpcerr.New(rpcerr.Deserialization, "binaryadapter: not a *serial.Envelope")
	}

	if e.HasException() {
		p := pack.New(e.FuncName, make([]any, len(argTypes)))
		p.SetError(rpcerr.Kind(e.ExceptType), e.ErrMesg)
		return p, nil
	}

	if len(e.Args) != len(argTypes) {
		return nil, rpcerr.Newf(rpcerr.SignatureMismatch,
			"argument count mismatch: expected %d, got %d", len(argTypes), len(e.Args))
	}

	args := make([]any, len(argTypes))
	for i, t := range argTypes {
		v, err := serial.DecodeValue(e.Args[i], t)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	p := pack.New(e.FuncName, args)

	if resultType != nil && len(e.Result) > 0 {
		v, err := serial.DecodeValue(e.Result, resultType)
		if err != nil {
			return nil, err
		}
		p.SetResult(v)
	}

	return p, nil
}

// putString16 writes a 2-byte length prefix followed by s, returning the
// number of bytes written.
func putString16(buf []byte, s string) int {
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(s)))
	copy(buf[2:2+len(s)], s)
	return 2 + len(s)
}

func getString16(data []byte, off int) (string, int, bool) {
	if off+2 > len(data) {
		return "", 0, false
	}
	l := int(binary.BigEndian.Uint16(data[off : off+2]))
	if off+2+l > len(data) {
		return "", 0, false
	}
	return string(data[off+2 : off+2+l]), 2 + l, true
}

// putBlob32 writes a 4-byte length prefix followed by b.
func putBlob32(buf []byte, b []byte) int {
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(b)))
	copy(buf[4:4+len(b)], b)
	return 4 + len(b)
}

func getBlob32(data []byte, off int) ([]byte, int, bool) {
	if off+4 > len(data) {
		return nil, 0, false
	}
	l := int(binary.BigEndian.Uint32(data[off : off+4]))
	if off+4+l > len(data) {
		return nil, 0, false
	}
	return data[off+4 : off+4+l], 4 + l, true
}
