package server

import (
	"github.com/fxamacker/cbor/v2"
	"google.golang.org/grpc/encoding"

	"github.com/chazu/tiervm/pkg/bytecode"
)

// CodecName is the content subtype used on the wire:
// application/cbor for Connect, application/grpc+cbor for gRPC.
const CodecName = "cbor"

// Codec encodes RPC messages as canonical CBOR. It satisfies both
// connect.Codec and grpc's encoding.Codec.
type Codec struct{}

// Name implements connect.Codec and encoding.Codec.
func (Codec) Name() string { return CodecName }

// Marshal implements connect.Codec and encoding.Codec.
func (Codec) Marshal(v any) ([]byte, error) {
	return bytecode.EncMode().Marshal(v)
}

// Unmarshal implements connect.Codec and encoding.Codec.
func (Codec) Unmarshal(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}

func init() {
	encoding.RegisterCodec(Codec{})
}
