package probe

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec lets the probe protocol carry plain reduxpb structs over gRPC
// without protoc-generated protobuf bindings: it registers under the name
// "proto", which is gRPC's default content-subtype, so every call on a
// connection configured with this package transparently uses JSON framing
// instead of requiring every message to implement proto.Message.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return "proto"
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
