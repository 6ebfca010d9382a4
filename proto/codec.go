package proto

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

const CodecName = "json"

// Codec marshals ProxyMessage values as JSON on the gRPC wire.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error) {
	msg, ok := v.(*ProxyMessage)
	if !ok {
		return nil, fmt.Errorf("proto codec: unexpected message type %T", v)
	}
	return json.Marshal(msg)
}

func (Codec) Unmarshal(data []byte, v any) error {
	msg, ok := v.(*ProxyMessage)
	if !ok {
		return fmt.Errorf("proto codec: unexpected message type %T", v)
	}
	return json.Unmarshal(data, msg)
}

func (Codec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(Codec{})
}
