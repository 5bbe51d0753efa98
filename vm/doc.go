// Package vm implements the SLang stack-based virtual machine.
//
// This package contains:
//   - Tagged, reference-counted slot representation
//   - The instruction model and closed opcode set
//   - Call frames with bounded operand stacks
//   - The bytecode dispatch loop
//   - The image container codec (magic header, XOR obfuscation)
//   - CBOR program snapshots and the sqlite-backed program store
package vm
