package vm

import "fmt"

// ---------------------------------------------------------------------------
// Instruction model
// ---------------------------------------------------------------------------

// Program shape limits. Addresses are logical labels chosen by the bytecode
// producer; they are sparse, so the table capacity and the address space are
// bounded separately.
const (
	// MaxInstructions bounds the number of instructions a program may hold.
	MaxInstructions = 1_000_000

	// MaxInstructionAddr is the highest logical address a producer may
	// assign to an instruction.
	MaxInstructionAddr = 2_000_000
)

// Instruction is one executable record of a program. Address is the logical
// label the producer assigned; jump and call targets name addresses, never
// table positions. Operand is meaningful only when the opcode's metadata
// declares one.
type Instruction struct {
	Address int
	Code    Opcode
	Operand int
}

// String renders the instruction in disassembly form.
func (in Instruction) String() string {
	if in.Code.Operands() > 0 {
		return fmt.Sprintf("%d %s %d", in.Address, in.Code.Name(), in.Operand)
	}
	return fmt.Sprintf("%d %s", in.Address, in.Code.Name())
}
