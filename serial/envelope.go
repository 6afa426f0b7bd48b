package serial

import "encoding/json"

// Envelope is the structured representation shared by every reference
// adapter in this module — the equivalent of the teacher's
// message.RPCMessage, which codec.JSONCodec and codec.BinaryCodec both
// encode, just in different wire formats. Adapters that want to share
// envelope shape but differ only in byte-level framing (jsonadapter,
// binaryadapter) embed *Envelope as their Object; adapters with a
// genuinely different serial representation are free to define their own.
type Envelope struct {
	FuncName   string
	Args       []json.RawMessage
	Result     json.RawMessage
	ExceptType int
	ErrMesg    string
}

// HasException reports whether the envelope currently carries an error.
func (e *Envelope) HasException() bool { return e.ExceptType != 0 }
