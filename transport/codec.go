package transport

import (
	"bytes"
	"encoding/gob"

	"google.golang.org/grpc/encoding"
)

// codecName is registered with grpc's encoding package and selected per-call
// via grpc.CallContentSubtype (the server picks the registered codec from the
// request's content subtype) so every RPC in this package rides gob-encoded
// messages instead of protobuf's default codec.
const codecName = "gob"

// gobCodec implements encoding.Codec by gob-encoding the plain Go structs in
// messages.go. Registered once via init.
type gobCodec struct{}

func (gobCodec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (gobCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(gobCodec{})
}
