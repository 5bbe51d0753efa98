package vm

import (
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("svm.vm")

// ---------------------------------------------------------------------------
// Machine
// ---------------------------------------------------------------------------

// Machine holds the full execution state of one virtual machine instance:
// the instruction table, the constant pool, the control stack and the global
// scope. A Machine is not safe for concurrent use.
type Machine struct {
	instructions []Instruction

	// addrIndex maps a logical instruction address to its position in the
	// instruction table, -1 when the address is unassigned. Jump and call
	// targets resolve through it in constant time.
	addrIndex []int32

	constants []*Slot

	// base is the global scope: its variable table answers the *_GLOBAL
	// name opcodes and its operand stack is the target of STORE_GLOBAL.
	// frame is the innermost activation; execution starts on base.
	base  *Frame
	frame *Frame

	ip     int
	halted bool

	out    io.Writer
	tracer *Tracer

	// stackLimit caps every operand stack built by this machine, the global
	// one and each call frame's.
	stackLimit int

	runID uuid.UUID
}

// NewMachine returns an empty machine writing program output to out. A nil
// out falls back to standard output.
func NewMachine(out io.Writer) *Machine {
	if out == nil {
		out = os.Stdout
	}
	base := newFrame(nil, OperandStackDepth)
	return &Machine{
		addrIndex:  newAddrIndex(),
		base:       base,
		frame:      base,
		ip:         -1,
		out:        out,
		stackLimit: OperandStackDepth,
		runID:      uuid.New(),
	}
}

// SetStackLimit caps the depth of every operand stack built from now on,
// including the global one. Zero or negative restores the default depth.
func (m *Machine) SetStackLimit(n int) {
	if n <= 0 {
		n = OperandStackDepth
	}
	m.stackLimit = n
	m.base.ops.limit = n
}

func newAddrIndex() []int32 {
	idx := make([]int32, MaxInstructionAddr+1)
	for i := range idx {
		idx[i] = -1
	}
	return idx
}

// RunID returns the identifier minted for this machine instance. Log lines
// carry it so interleaved runs can be told apart.
func (m *Machine) RunID() uuid.UUID {
	return m.runID
}

// SetTracer installs a tracer for narrated or stepped execution. A nil
// tracer silences tracing.
func (m *Machine) SetTracer(t *Tracer) {
	m.tracer = t
}

// Output returns the writer program output goes to.
func (m *Machine) Output() io.Writer {
	return m.out
}

// ---------------------------------------------------------------------------
// Program construction
// ---------------------------------------------------------------------------

// AllocConstants sizes the constant pool. The loader calls this for CMALLOC
// records; the pool starts out holding nil entries.
func (m *Machine) AllocConstants(n int) error {
	if n < 0 {
		return fmt.Errorf("constant pool size %d: %w", n, ErrBadAddress)
	}
	m.constants = make([]*Slot, n)
	return nil
}

// SetConstant installs a constant at pool index i. Ownership of the slot
// passes to the pool.
func (m *Machine) SetConstant(i int, v *Slot) error {
	if i < 0 || i >= len(m.constants) {
		return fmt.Errorf("constant %d of %d: %w", i, len(m.constants), ErrBadAddress)
	}
	if old := m.constants[i]; old != nil {
		old.Decref()
	}
	m.constants[i] = v
	return nil
}

// Constant returns the constant at pool index i, or the Void sentinel when
// the index was never populated.
func (m *Machine) Constant(i int) (*Slot, error) {
	if i < 0 || i >= len(m.constants) {
		return nil, fmt.Errorf("constant %d of %d: %w", i, len(m.constants), ErrBadAddress)
	}
	if m.constants[i] == nil {
		return NullSlot, nil
	}
	return m.constants[i], nil
}

// Constants returns the constant pool.
func (m *Machine) Constants() []*Slot {
	return m.constants
}

// AddInstruction appends an executable record to the instruction table and
// indexes its address. Reusing an address rebinds it to the new record.
func (m *Machine) AddInstruction(in Instruction) error {
	if in.Address < 0 || in.Address > MaxInstructionAddr {
		return fmt.Errorf("instruction address %d: %w", in.Address, ErrBadAddress)
	}
	if len(m.instructions) >= MaxInstructions {
		return fmt.Errorf("instruction table full at %d entries: %w", MaxInstructions, ErrBadAddress)
	}
	if !in.Code.Valid() {
		return fmt.Errorf("opcode %d at address %d: %w", int(in.Code), in.Address, ErrUnknownOpcode)
	}
	m.instructions = append(m.instructions, in)
	m.addrIndex[in.Address] = int32(len(m.instructions) - 1)
	return nil
}

// Instructions returns the instruction table in load order.
func (m *Machine) Instructions() []Instruction {
	return m.instructions
}

// index resolves a logical address to its table position.
func (m *Machine) index(addr int) int {
	if addr < 0 || addr > MaxInstructionAddr {
		throwf(ErrBadAddress, "jump target %d", addr)
	}
	i := m.addrIndex[addr]
	if i < 0 {
		throwf(ErrBadAddress, "jump target %d is unassigned", addr)
	}
	return int(i)
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Halted reports whether the program has executed HALT. Running off the end
// of the instruction table does not halt the machine.
func (m *Machine) Halted() bool {
	return m.halted
}

// Reset tears down all execution state: every live frame, the global scope
// and the constant pool. A program whose reference counting is balanced
// leaves the heap's live counter at zero afterwards.
func (m *Machine) Reset() {
	for f := m.frame; f != nil; f = f.caller {
		f.release()
	}
	for i, c := range m.constants {
		if c == nil {
			continue
		}
		// CONSTANT records may declare an initial refcount above one; drain
		// whatever is left so the pool's heap charge always settles.
		for c != NullSlot && c.Refs() > 0 {
			c.Decref()
		}
		m.constants[i] = nil
	}
	m.constants = nil
	m.instructions = nil
	for i := range m.addrIndex {
		m.addrIndex[i] = -1
	}
	m.base = newFrame(nil, m.stackLimit)
	m.frame = m.base
	m.ip = -1
	m.halted = false
	log.Debugf("machine reset: run %s", m.runID)
}
