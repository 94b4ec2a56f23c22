package bytecode

import (
	"fmt"
	"hash/crc32"

	"github.com/fxamacker/cbor/v2"
)

// cborEncMode uses canonical encoding so that equal chunks always encode
// to equal bytes; checksums and cache keys depend on that.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// EncMode returns the shared canonical CBOR encoder, for packages that
// serialize structures embedding chunks or values.
func EncMode() cbor.EncMode {
	return cborEncMode
}

// MarshalChunk serializes a Chunk to CBOR bytes.
func MarshalChunk(c *Chunk) ([]byte, error) {
	return cborEncMode.Marshal(c)
}

// UnmarshalChunk deserializes a Chunk from CBOR bytes.
func UnmarshalChunk(data []byte) (*Chunk, error) {
	var c Chunk
	if err := cbor.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal chunk: %w", err)
	}
	return &c, nil
}

// Checksum returns the CRC32 (IEEE) of the chunk's canonical encoding.
// The name is excluded so renaming a function does not invalidate
// cached code for it.
func (c *Chunk) Checksum() uint32 {
	anon := *c
	anon.Name = ""
	if anon.Instructions == nil {
		anon.Instructions = []Instruction{}
	}
	if anon.Constants == nil {
		anon.Constants = []Value{}
	}
	data, err := cborEncMode.Marshal(&anon)
	if err != nil {
		return 0
	}
	return crc32.ChecksumIEEE(data)
}
