package jsonadapter

import (
	"reflect"
	"testing"

	"callrpc/pack"
	"callrpc/rpcerr"
)

func TestRoundTripSuccessfulCall(t *testing.T) {
	a := New()

	call := pack.New("SimpleSum", []any{2, 3})
	call.SetResult(5)

	obj := a.EmptyObject()
	if err := a.SerializePack(obj, call); err != nil {
		t.Fatalf("SerializePack: %v", err)
	}

	data, err := a.ToBytes(obj)
	if err != nil {
		t.Fatalf("ToBytes: %v", err)
	}

	decodedObj, ok := a.FromBytes(data)
	if !ok {
		t.Fatalf("FromBytes reported ok=false on a valid encoding")
	}

	argTypes := []reflect.Type{reflect.TypeOf(0), reflect.TypeOf(0)}
	got, err := a.DeserializePack(decodedObj, argTypes, reflect.TypeOf(0))
	if err != nil {
		t.Fatalf("DeserializePack: %v", err)
	}

	if got.FuncName() != "SimpleSum" {
		t.Errorf("FuncName() = %q, want SimpleSum", got.FuncName())
	}
	if got.Args()[0].(int) != 2 || got.Args()[1].(int) != 3 {
		t.Errorf("Args() = %v, want [2 3]", got.Args())
	}
	if !got.HasResult() || got.Result().(int) != 5 {
		t.Errorf("Result() = %v, want 5", got.Result())
	}
	if got.Err() != nil {
		t.Errorf("Err() = %v, want nil", got.Err())
	}
}

func TestRoundTripError(t *testing.T) {
	a := New()

	call := pack.New("DoesNotExist", nil)
	call.SetError(rpcerr.FunctionNotFound, `RPC error: Called function: "DoesNotExist" not found`)

	obj := a.EmptyObject()
	if err := a.SerializePack(obj, call); err != nil {
		t.Fatalf("SerializePack: %v", err)
	}

	data, err := a.ToBytes(obj)
	if err != nil {
		t.Fatalf("ToBytes: %v", err)
	}

	decodedObj, ok := a.FromBytes(data)
	if !ok {
		t.Fatalf("FromBytes reported ok=false on a valid error encoding")
	}

	got, err := a.DeserializePack(decodedObj, nil, nil)
	if err != nil {
		t.Fatalf("DeserializePack: %v", err)
	}

	if got.Successful(false) {
		t.Errorf("Successful(false) = true on an errored call")
	}
	if got.Err() == nil || got.Err().Kind != rpcerr.FunctionNotFound {
		t.Fatalf("Err() = %v, want kind FunctionNotFound", got.Err())
	}
	if got.Err().Message != `RPC error: Called function: "DoesNotExist" not found` {
		t.Errorf("Err().Message = %q", got.Err().Message)
	}
}

func TestFromBytesRejectsMalformed(t *testing.T) {
	a := New()
	if _, ok := a.FromBytes([]byte(`not json at all`)); ok {
		t.Errorf("FromBytes accepted malformed input")
	}
	if _, ok := a.FromBytes([]byte(`{}`)); ok {
		t.Errorf("FromBytes accepted a structurally invalid object (no func_name, no exception)")
	}
}

func TestDeserializePackArityMismatch(t *testing.T) {
	a := New()

	call := pack.New("SimpleSum", []any{2, 3})
	obj := a.EmptyObject()
	if err := a.SerializePack(obj, call); err != nil {
		t.Fatalf("SerializePack: %v", err)
	}

	// Ask for three args when only two were encoded.
	argTypes := []reflect.Type{reflect.TypeOf(0), reflect.TypeOf(0), reflect.TypeOf(0)}
	_, err := a.DeserializePack(obj, argTypes, nil)
	if err == nil {
		t.Fatalf("expected an arity mismatch error")
	}
	if rpcerr.KindOf(err, rpcerr.None) != rpcerr.SignatureMismatch {
		t.Errorf("kind = %v, want SignatureMismatch", rpcerr.KindOf(err, rpcerr.None))
	}
}

func TestExtractAndSetException(t *testing.T) {
	a := New()
	obj := a.EmptyObject()
	a.SetException(obj, rpcerr.New(rpcerr.RemoteExecution, "boom"))

	got := a.ExtractException(obj)
	if got.Kind != rpcerr.RemoteExecution || got.Message != "boom" {
		t.Errorf("ExtractException() = %+v", got)
	}
}
