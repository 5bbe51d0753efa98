package vm

import "fmt"

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode identifies a single instruction. The numeric values are the
// container encoding emitted by the assembler and consumed by the loader,
// so the set is closed and the ordering is frozen.
type Opcode int

// Allocation and constant records. CMALLOC and CONSTANT are load-time
// pseudo-ops that populate the constant pool and never enter the instruction
// table; VMALLOC is an ordinary executed instruction.
const (
	OpCMalloc  Opcode = 0 // allocate constant pool (operand: size)
	OpVMalloc  Opcode = 1 // allocate current scope's variable table (operand: size)
	OpConstant Opcode = 2 // constant record: index CONSTANT type value refcount
)

// Stack housekeeping
const (
	OpNoop  Opcode = 3 // no effect
	OpPopOp Opcode = 4 // pop and decref top of stack
)

// Loads
const (
	OpLoadNull       Opcode = 5  // push the Void sentinel
	OpLoadConstant   Opcode = 6  // push constants[operand]
	OpLoadName       Opcode = 7  // push locals[operand]
	OpLoadNameGlobal Opcode = 8  // push globals[operand]
	OpLoadInt        Opcode = 9  // push fresh Int
	OpLoadFloat      Opcode = 10 // push fresh Float (operand decoded as integer)
	OpLoadChar       Opcode = 11 // push fresh Char (operand decoded as integer)
)

// Array access
const (
	OpBinarySubscr      Opcode = 12 // pop index, pop array, push cell handle
	OpStoreSubscr       Opcode = 13 // pop value, pop index, pop array, write payload
	OpStoreSubscrInpl   Opcode = 14 // pop value, pop index; array stays on stack
	OpStoreSubscrNopop  Opcode = 15 // as STORE_SUBSCR, then push value back
)

// Stores
const (
	OpStoreName            Opcode = 16 // pop into locals[operand]
	OpStoreNameGlobal      Opcode = 17 // pop into globals[operand]
	OpStoreNameNopop       Opcode = 18 // peek into locals[operand]
	OpStoreNameGlobalNopop Opcode = 19 // peek into globals[operand]
)

// Construction and operators
const (
	OpBuildArr Opcode = 20 // pop length, push new array of element type operand
	OpBinaryOp Opcode = 21 // pop two operands, push result of operator operand
	OpUnaryOp  Opcode = 22 // pop one operand, apply operator operand
)

// Control transfer
const (
	OpJmp      Opcode = 23 // ip <- index(operand)
	OpJmpTrue  Opcode = 24 // pop; jump when int payload is nonzero
	OpJmpFalse Opcode = 25 // pop; jump when int payload is zero
	OpPush     Opcode = 26 // push a fresh frame onto the control stack
	OpRet      Opcode = 27 // return top operand to the caller, tear down frame
	OpCall     Opcode = 28 // save return address, ip <- index(operand)
)

// Cross-frame operand transfer
const (
	OpLoadGlobal  Opcode = 29 // pop global operand stack, push onto current
	OpStoreGlobal Opcode = 30 // pop current operand stack, push onto global
)

// Termination and I/O
const (
	OpHalt   Opcode = 31 // terminate execution
	OpPrintk Opcode = 32 // pop and print textual form + newline
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds per-opcode metadata used by the loader, the assembler and
// the disassembler.
type OpcodeInfo struct {
	Name     string // container mnemonic
	Operands int    // number of operand tokens following the opcode
}

// opcodeTable maps opcodes to their metadata. CONSTANT is special: its three
// trailing tokens (type, value, refcount) are consumed by the loader as a
// unit so that containers holding constants survive the assemble/disassemble
// round trip.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpCMalloc:  {"CMALLOC", 1},
	OpVMalloc:  {"VMALLOC", 1},
	OpConstant: {"CONSTANT", 3},

	OpNoop:  {"NOOP", 0},
	OpPopOp: {"POP_OP", 0},

	OpLoadNull:       {"LOAD_NULL", 0},
	OpLoadConstant:   {"LOAD_CONSTANT", 1},
	OpLoadName:       {"LOAD_NAME", 1},
	OpLoadNameGlobal: {"LOAD_NAME_GLOBAL", 1},
	OpLoadInt:        {"LOAD_INT", 1},
	OpLoadFloat:      {"LOAD_FLOAT", 1},
	OpLoadChar:       {"LOAD_CHAR", 1},

	OpBinarySubscr:     {"BINARY_SUBSCR", 0},
	OpStoreSubscr:      {"STORE_SUBSCR", 0},
	OpStoreSubscrInpl:  {"STORE_SUBSCR_INPLACE", 0},
	OpStoreSubscrNopop: {"STORE_SUBSCR_NOPOP", 0},

	OpStoreName:            {"STORE_NAME", 1},
	OpStoreNameGlobal:      {"STORE_NAME_GLOBAL", 1},
	OpStoreNameNopop:       {"STORE_NAME_NOPOP", 1},
	OpStoreNameGlobalNopop: {"STORE_NAME_GLOBAL_NOPOP", 1},

	OpBuildArr: {"BUILD_ARR", 1},
	OpBinaryOp: {"BINARY_OP", 1},
	OpUnaryOp:  {"UNARY_OP", 1},

	OpJmp:      {"JMP", 1},
	OpJmpTrue:  {"JMP_TRUE", 1},
	OpJmpFalse: {"JMP_FALSE", 1},
	OpPush:     {"PUSH", 0},
	OpRet:      {"RET", 0},
	OpCall:     {"CALL", 1},

	OpLoadGlobal:  {"LOAD_GLOBAL", 0},
	OpStoreGlobal: {"STORE_GLOBAL", 0},

	OpHalt:   {"HALT", 0},
	OpPrintk: {"PRINTK", 0},
}

// mnemonicTable maps container mnemonics back to opcodes. Built once from
// opcodeTable.
var mnemonicTable = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeTable))
	for op, info := range opcodeTable {
		m[info.Name] = op
	}
	return m
}()

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%d", int(op))}
}

// Name returns the container mnemonic for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// Operands returns the number of operand tokens for an opcode.
func (op Opcode) Operands() int {
	return op.Info().Operands
}

// Valid reports whether op is a member of the closed opcode set.
func (op Opcode) Valid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// ParseOpcode resolves a container mnemonic to its opcode.
func ParseOpcode(name string) (Opcode, bool) {
	op, ok := mnemonicTable[name]
	return op, ok
}

// ---------------------------------------------------------------------------
// Operator codes
// ---------------------------------------------------------------------------

// BinaryOp enumerates the operand values of BINARY_OP.
type BinaryOp int

const (
	BinAdd BinaryOp = 0
	BinSub BinaryOp = 1
	BinMul BinaryOp = 2
	BinMod BinaryOp = 3
	BinDiv BinaryOp = 4
	BinAnd BinaryOp = 5
	BinOr  BinaryOp = 6
	BinShl BinaryOp = 7
	BinShr BinaryOp = 8
	BinXor BinaryOp = 9
	BinLt  BinaryOp = 10
	BinLe  BinaryOp = 11
	BinGt  BinaryOp = 12
	BinGe  BinaryOp = 13
	BinEq  BinaryOp = 14
	BinNe  BinaryOp = 15
)

// UnaryOp enumerates the operand values of UNARY_OP.
type UnaryOp int

const (
	UnaryNot UnaryOp = 0
	UnaryNeg UnaryOp = 1
	UnaryInc UnaryOp = 2
	UnaryDec UnaryOp = 3
)
