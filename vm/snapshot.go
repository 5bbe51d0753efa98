package vm

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Program snapshots: CBOR wire form of a loaded program
// ---------------------------------------------------------------------------

// cborEncMode uses canonical mode so equal programs always encode to equal
// bytes, which the program store relies on.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Snapshot is the serialized form of a loaded program: the instruction table
// in load order plus the constant pool. It captures everything the loader
// produced and nothing the dispatch loop mutated, so restoring a snapshot
// yields a machine ready to run from the start.
type Snapshot struct {
	PoolSize     int                   `cbor:"1,keyasint"`
	Constants    []SnapshotConstant    `cbor:"2,keyasint"`
	Instructions []SnapshotInstruction `cbor:"3,keyasint"`
}

// SnapshotConstant is one populated constant pool entry.
type SnapshotConstant struct {
	Index int     `cbor:"1,keyasint"`
	Type  int     `cbor:"2,keyasint"`
	Int   int64   `cbor:"3,keyasint,omitempty"`
	Float float64 `cbor:"4,keyasint,omitempty"`
	Char  byte    `cbor:"5,keyasint,omitempty"`
	Refs  int32   `cbor:"6,keyasint"`
}

// SnapshotInstruction is one instruction table record.
type SnapshotInstruction struct {
	Address int `cbor:"1,keyasint"`
	Code    int `cbor:"2,keyasint"`
	Operand int `cbor:"3,keyasint,omitempty"`
}

// Snapshot captures the machine's loaded program.
func (m *Machine) Snapshot() *Snapshot {
	s := &Snapshot{
		PoolSize:     len(m.constants),
		Instructions: make([]SnapshotInstruction, 0, len(m.instructions)),
	}
	for i, c := range m.constants {
		if c == nil {
			continue
		}
		s.Constants = append(s.Constants, SnapshotConstant{
			Index: i,
			Type:  int(c.Type),
			Int:   c.Int,
			Float: c.Float,
			Char:  c.Char,
			Refs:  c.Refs(),
		})
	}
	for _, in := range m.instructions {
		s.Instructions = append(s.Instructions, SnapshotInstruction{
			Address: in.Address,
			Code:    int(in.Code),
			Operand: in.Operand,
		})
	}
	return s
}

// RestoreSnapshot loads a snapshot into the machine, replacing any program
// already present.
func (m *Machine) RestoreSnapshot(s *Snapshot) error {
	m.Reset()
	if err := m.AllocConstants(s.PoolSize); err != nil {
		return err
	}
	for _, c := range s.Constants {
		var v *Slot
		switch Type(c.Type) {
		case TypeInt:
			v = NewInt(c.Int)
		case TypeFloat:
			v = NewFloat(c.Float)
		case TypeChar:
			v = NewChar(c.Char)
		default:
			return fmt.Errorf("snapshot constant type %d: %w", c.Type, ErrMalformedToken)
		}
		v.setRefs(c.Refs)
		if err := m.SetConstant(c.Index, v); err != nil {
			v.Decref()
			return err
		}
	}
	for _, in := range s.Instructions {
		rec := Instruction{Address: in.Address, Code: Opcode(in.Code), Operand: in.Operand}
		if err := m.AddInstruction(rec); err != nil {
			return err
		}
	}
	return nil
}

// MarshalSnapshot serializes a Snapshot to CBOR bytes.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// UnmarshalSnapshot deserializes a Snapshot from CBOR bytes.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("vm: unmarshal snapshot: %w", err)
	}
	return &s, nil
}
