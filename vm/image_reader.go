package vm

import (
	"errors"
	"fmt"
	"io"
)

// ---------------------------------------------------------------------------
// Container and mnemonic loaders
// ---------------------------------------------------------------------------

// LoadContainer decodes an obfuscated container, verifies the magic token
// and loads every record into the machine. CMALLOC and CONSTANT records are
// consumed here and never enter the instruction table; everything else is
// appended in stream order.
func (m *Machine) LoadContainer(data []byte, password string) error {
	sc, err := DecodeContainer(data, password)
	if err != nil {
		return err
	}
	for {
		addr, err := sc.NextInt()
		if err == io.EOF {
			log.Debugf("run %s: loaded %d instructions, %d constants",
				m.runID, len(m.instructions), len(m.constants))
			return nil
		}
		if err != nil {
			return err
		}
		code, err := sc.NextInt()
		if err != nil {
			return wrapTruncated(err)
		}
		if err := m.loadRecord(addr, Opcode(code), sc); err != nil {
			return err
		}
	}
}

// Interact reads mnemonic-form records from in and feeds them to the
// machine. A record whose address is -1 is not loaded; it invokes dispatch
// on everything loaded so far, and dispatch re-entry continues from the
// current instruction pointer. The reader returns when the stream ends.
//
// When stepping is enabled the tracer must share in's buffered reader, since
// step acknowledgements and program records arrive on the same stream.
func (m *Machine) Interact(in io.Reader) error {
	sc := newTokenScanner(in)
	for {
		addr, err := sc.NextInt()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if addr == -1 {
			if err := m.Dispatch(); err != nil {
				return err
			}
			continue
		}
		name, err := sc.Next()
		if err != nil {
			return wrapTruncated(err)
		}
		code, ok := ParseOpcode(name)
		if !ok {
			return fmt.Errorf("%q: %w", name, ErrUnknownMnemonic)
		}
		if err := m.loadRecord(addr, code, sc); err != nil {
			return err
		}
	}
}

// loadRecord applies one parsed record to the machine. The address token has
// a different meaning per record kind: a constant pool index for CONSTANT, a
// logical instruction address for everything else.
func (m *Machine) loadRecord(addr int, code Opcode, sc *tokenScanner) error {
	switch code {
	case OpCMalloc:
		n, err := sc.NextInt()
		if err != nil {
			return wrapTruncated(err)
		}
		return m.AllocConstants(n)

	case OpConstant:
		return m.loadConstant(addr, sc)

	default:
		in := Instruction{Address: addr, Code: code}
		if code.Operands() > 0 {
			operand, err := sc.NextInt()
			if err != nil {
				return wrapTruncated(err)
			}
			in.Operand = operand
		}
		return m.AddInstruction(in)
	}
}

// loadConstant parses the type, value and initial refcount tokens of a
// CONSTANT record and installs the slot in the pool. Float values are
// encoded textually, so the pool is the one place the container carries
// non-integer literals.
func (m *Machine) loadConstant(index int, sc *tokenScanner) error {
	typ, err := sc.NextInt()
	if err != nil {
		return wrapTruncated(err)
	}

	var s *Slot
	switch Type(typ) {
	case TypeInt:
		v, err := sc.NextInt64()
		if err != nil {
			return wrapTruncated(err)
		}
		s = NewInt(v)
	case TypeFloat:
		v, err := sc.NextFloat()
		if err != nil {
			return wrapTruncated(err)
		}
		s = NewFloat(v)
	case TypeChar:
		v, err := sc.NextInt()
		if err != nil {
			return wrapTruncated(err)
		}
		s = NewChar(byte(v))
	default:
		return fmt.Errorf("constant type %d: %w", typ, ErrMalformedToken)
	}

	refs, err := sc.NextInt()
	if err != nil {
		s.Decref()
		return wrapTruncated(err)
	}
	s.setRefs(int32(refs))

	if err := m.SetConstant(index, s); err != nil {
		s.Decref()
		return err
	}
	return nil
}

func wrapTruncated(err error) error {
	if errors.Is(err, io.EOF) {
		return ErrTruncatedRecord
	}
	return err
}
