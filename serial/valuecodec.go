package serial

import (
	"bytes"
	"encoding/json"
	"reflect"

	"callrpc/rpcerr"
)

// Marshaler is the user-type serialization hook from spec §4.2/§9: a type
// that knows how to turn itself into something JSON-representable.
type Marshaler interface {
	MarshalRPCValue() (any, error)
}

// Unmarshaler is the deserialization half of the hook. It receives the raw
// encoded element exactly as the wire carried it.
type Unmarshaler interface {
	UnmarshalRPCValue(raw json.RawMessage) error
}

// EncodeValue encodes a single argument or result value to its canonical
// RawMessage form. Containers recurse element-by-element (rather than
// delegating the whole container to encoding/json) so that elements
// implementing Marshaler are honored at every nesting depth — this is the
// "recurse per element" resolution of the nested-container question the
// original implementation left as a TODO.
func EncodeValue(v any) (json.RawMessage, error) {
	if m, ok := v.(Marshaler); ok {
		inner, err := m.MarshalRPCValue()
		if err != nil {
			return nil, err
		}
		return json.Marshal(inner)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		n := rv.Len()
		elems := make([]json.RawMessage, n)
		for i := 0; i < n; i++ {
			raw, err := EncodeValue(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			elems[i] = raw
		}
		if elems == nil {
			elems = []json.RawMessage{}
		}
		return json.Marshal(elems)
	case reflect.Float32, reflect.Float64:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return ensureFloatLiteral(raw), nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return raw, nil
	}
}

// ensureFloatLiteral appends a trailing ".0" to a JSON number literal that
// encoding/json rendered without a fractional part or exponent (it does
// this for any whole-number float, e.g. 3.0 marshals to "3"), so that
// DecodeValue's integer/float literal distinction never rejects a
// legitimate whole-number float argument on its way back off the wire.
func ensureFloatLiteral(raw json.RawMessage) json.RawMessage {
	if isFloatLiteral(raw) {
		return raw
	}
	out := make(json.RawMessage, len(raw)+2)
	copy(out, raw)
	out[len(raw)] = '.'
	out[len(raw)+1] = '0'
	return out
}

// DecodeValue decodes raw into a value of type t, validating that the wire
// shape actually matches t before accepting it: booleans only accept JSON
// booleans, integers reject a literal carrying a fraction or exponent,
// floats require a JSON number that itself carries a fraction or exponent
// (rejecting a bare integer literal, mirroring is_number_float() in the
// original adapter — EncodeValue guarantees every float it produces carries
// one, even for whole-number values), strings require a JSON string, slices
// and fixed-size arrays require a JSON array (arrays additionally enforce
// exact arity), and anything else either goes through the Unmarshaler hook
// or falls back to encoding/json.
func DecodeValue(raw json.RawMessage, t reflect.Type) (any, error) {
	trimmed := bytes.TrimSpace(raw)

	switch t.Kind() {
	case reflect.Bool:
		if len(trimmed) == 0 || (trimmed[0] != 't' && trimmed[0] != 'f') {
			return nil, mismatch("bool", trimmed)
		}
		var v bool
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, mismatch("bool", trimmed)
		}
		return v, nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if !isNumberLiteral(trimmed) {
			return nil, mismatch(t.String(), trimmed)
		}
		if isFloatLiteral(trimmed) {
			return nil, mismatch(t.String(), trimmed)
		}
		ptr := reflect.New(t)
		if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
			return nil, mismatch(t.String(), trimmed)
		}
		return ptr.Elem().Interface(), nil

	case reflect.Float32, reflect.Float64:
		if !isNumberLiteral(trimmed) || !isFloatLiteral(trimmed) {
			return nil, mismatch(t.String(), trimmed)
		}
		ptr := reflect.New(t)
		if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
			return nil, mismatch(t.String(), trimmed)
		}
		return ptr.Elem().Interface(), nil

	case reflect.String:
		if len(trimmed) == 0 || trimmed[0] != '"' {
			return nil, mismatch("string", trimmed)
		}
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, mismatch("string", trimmed)
		}
		return v, nil

	case reflect.Slice:
		if len(trimmed) == 0 || trimmed[0] != '[' {
			return nil, mismatch(t.String(), trimmed)
		}
		var rawElems []json.RawMessage
		if err := json.Unmarshal(raw, &rawElems); err != nil {
			return nil, mismatch(t.String(), trimmed)
		}
		elemType := t.Elem()
		out := reflect.MakeSlice(t, 0, len(rawElems))
		for _, re := range rawElems {
			v, err := DecodeValue(re, elemType)
			if err != nil {
				return nil, err
			}
			out = reflect.Append(out, reflect.ValueOf(v))
		}
		return out.Interface(), nil

	case reflect.Array:
		if len(trimmed) == 0 || trimmed[0] != '[' {
			return nil, mismatch(t.String(), trimmed)
		}
		var rawElems []json.RawMessage
		if err := json.Unmarshal(raw, &rawElems); err != nil {
			return nil, mismatch(t.String(), trimmed)
		}
		if len(rawElems) != t.Len() {
			return nil, rpcerr.Newf(rpcerr.SignatureMismatch,
				"tuple arity mismatch: expected %d elements, got %d", t.Len(), len(rawElems))
		}
		out := reflect.New(t).Elem()
		for i := 0; i < t.Len(); i++ {
			v, err := DecodeValue(rawElems[i], t.Elem())
			if err != nil {
				return nil, err
			}
			out.Index(i).Set(reflect.ValueOf(v))
		}
		return out.Interface(), nil

	default:
		ptr := reflect.New(t)
		if u, ok := ptr.Interface().(Unmarshaler); ok {
			if err := u.UnmarshalRPCValue(raw); err != nil {
				return nil, rpcerr.Newf(rpcerr.Deserialization, "%s: %v", t.String(), err)
			}
			return ptr.Elem().Interface(), nil
		}
		if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
			return nil, mismatch(t.String(), trimmed)
		}
		return ptr.Elem().Interface(), nil
	}
}

func mismatch(expected string, observed []byte) *rpcerr.Error {
	return rpcerr.Newf(rpcerr.SignatureMismatch,
		"expected type: %s, got: %s", expected, string(observed))
}

func isNumberLiteral(trimmed []byte) bool {
	if len(trimmed) == 0 {
		return false
	}
	c := trimmed[0]
	return c == '-' || (c >= '0' && c <= '9')
}

func isFloatLiteral(trimmed []byte) bool {
	for _, b := range trimmed {
		if b == '.' || b == 'e' || b == 'E' {
			return true
		}
	}
	return false
}
