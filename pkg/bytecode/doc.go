// Package bytecode defines the artifact shared by every execution tier:
// the Value model, the opcode set, and Chunk, a decoded instruction
// sequence with its constant pool and local-slot count.
//
// Chunks are produced by the compiler package and consumed by the vm
// package, which interprets them, lowers them to IR, and keeps clones as
// deoptimization ground truth. A chunk is immutable once handed over.
//
// # Jumps
//
// Jump and JumpIfFalse carry a signed offset relative to the instruction
// following the jump. An offset of 0 falls through; PatchJump computes
// offsets from absolute targets.
//
// # Serialization
//
// Chunks and values encode to canonical CBOR (MarshalChunk), which makes
// Checksum stable across processes. The code cache and the RPC service
// both rely on this.
package bytecode
