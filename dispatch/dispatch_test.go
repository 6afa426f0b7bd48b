package dispatch

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"callrpc/rpcerr"
	"callrpc/serial/jsonadapter"
)

func simpleSum(a, b int) int { return a + b }

func fibonacci(n int) int {
	if n < 2 {
		return n
	}
	a, b := 0, 1
	for i := 1; i < n; i++ {
		a, b = b, a+b
	}
	return b
}

func addOneToEachRef(arr *[]int) {
	for i := range *arr {
		(*arr)[i]++
	}
}

func TestDispatchSimpleSum(t *testing.T) {
	s := NewServer(jsonadapter.New())
	s.Bind("SimpleSum", simpleSum)
	s.Freeze()

	reqBytes := encodeRequest(t, "SimpleSum", []any{2, 3})
	replyObj := decodeReply(t, s.Dispatch(reqBytes))

	if replyObj.ExceptType != 0 {
		t.Fatalf("except_type = %d, want 0; err_mesg=%q", replyObj.ExceptType, replyObj.ErrMesg)
	}
	assertJSONResult(t, replyObj.Result, "5")
}

func TestDispatchFibonacci(t *testing.T) {
	s := NewServer(jsonadapter.New())
	s.Bind("Fibonacci", fibonacci)
	s.Freeze()

	reqBytes := encodeRequest(t, "Fibonacci", []any{10})
	replyObj := decodeReply(t, s.Dispatch(reqBytes))

	assertJSONResult(t, replyObj.Result, "55")
}

func TestDispatchOutParameter(t *testing.T) {
	s := NewServer(jsonadapter.New())
	s.Bind("AddOneToEachRef", addOneToEachRef)
	s.Freeze()

	reqBytes := encodeRequest(t, "AddOneToEachRef", []any{[]int{1, 2, 3}})
	replyObj := decodeReply(t, s.Dispatch(reqBytes))

	if replyObj.ExceptType != 0 {
		t.Fatalf("except_type = %d, want 0; err_mesg=%q", replyObj.ExceptType, replyObj.ErrMesg)
	}
	assertJSONResult(t, replyObj.Args[0], "[2,3,4]")
}

func TestDispatchUnknownFunction(t *testing.T) {
	s := NewServer(jsonadapter.New())
	s.Freeze()

	reqBytes := encodeRequest(t, "DoesNotExist", []any{})
	replyObj := decodeReply(t, s.Dispatch(reqBytes))

	if replyObj.ExceptType != int(rpcerr.FunctionNotFound) {
		t.Fatalf("except_type = %d, want %d", replyObj.ExceptType, rpcerr.FunctionNotFound)
	}
	if !strings.Contains(replyObj.ErrMesg, `"DoesNotExist"`) {
		t.Errorf("err_mesg = %q, want it to contain the quoted function name", replyObj.ErrMesg)
	}
}

func TestDispatchSignatureMismatch(t *testing.T) {
	s := NewServer(jsonadapter.New())
	s.Bind("SimpleSum", simpleSum)
	s.Freeze()

	reqBytes := encodeRequest(t, "SimpleSum", []any{"oops", 3})
	replyObj := decodeReply(t, s.Dispatch(reqBytes))

	if replyObj.ExceptType != int(rpcerr.SignatureMismatch) {
		t.Fatalf("except_type = %d, want %d; err_mesg=%q", replyObj.ExceptType, rpcerr.SignatureMismatch, replyObj.ErrMesg)
	}
}

func TestDispatchMalformedInput(t *testing.T) {
	s := NewServer(jsonadapter.New())
	s.Freeze()

	replyObj := decodeReply(t, s.Dispatch([]byte("this is not json")))

	if replyObj.ExceptType != int(rpcerr.ServerReceive) {
		t.Fatalf("except_type = %d, want %d", replyObj.ExceptType, rpcerr.ServerReceive)
	}
	if replyObj.ErrMesg != "Invalid RPC object received" {
		t.Errorf("err_mesg = %q, want %q", replyObj.ErrMesg, "Invalid RPC object received")
	}
}

func TestDispatchCallbackErrorBecomesRemoteExecution(t *testing.T) {
	s := NewServer(jsonadapter.New())
	s.Bind("Fail", func() (int, error) { return 0, fmt.Errorf("deliberate failure") })
	s.Freeze()

	reqBytes := encodeRequest(t, "Fail", []any{})
	replyObj := decodeReply(t, s.Dispatch(reqBytes))

	if replyObj.ExceptType != int(rpcerr.RemoteExecution) {
		t.Fatalf("except_type = %d, want %d", replyObj.ExceptType, rpcerr.RemoteExecution)
	}
}

func TestDispatchCachedInvokesOnce(t *testing.T) {
	var calls atomic.Int32
	s := NewServer(jsonadapter.New())
	s.BindCached("Fibonacci", func(n int) int {
		calls.Add(1)
		return fibonacci(n)
	})
	s.Freeze()

	reqBytes := encodeRequest(t, "Fibonacci", []any{30})
	reply1 := s.Dispatch(reqBytes)
	reply2 := s.Dispatch(reqBytes)

	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if string(reply1) != string(reply2) {
		t.Errorf("replies differ: %q vs %q", reply1, reply2)
	}
}

func TestBindReplacesPreviousHandler(t *testing.T) {
	s := NewServer(jsonadapter.New())
	s.Bind("F", func() int { return 1 })
	s.Bind("F", func() int { return 2 })
	s.Freeze()

	reqBytes := encodeRequest(t, "F", []any{})
	replyObj := decodeReply(t, s.Dispatch(reqBytes))
	assertJSONResult(t, replyObj.Result, "2")
}
