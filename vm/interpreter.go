package vm

import "fmt"

// ---------------------------------------------------------------------------
// Dispatch loop
// ---------------------------------------------------------------------------

// Dispatch executes instructions starting after the current instruction
// pointer. It returns when the program executes HALT, when execution walks
// off the end of the instruction table, or with an error when an instruction
// faults. Walking off the end leaves the pointer in place so that a caller
// feeding instructions incrementally can load more and dispatch again.
func (m *Machine) Dispatch() (err error) {
	defer func() {
		if r := recover(); r != nil {
			f, ok := r.(fault)
			if !ok {
				panic(r)
			}
			err = f.err
			log.Errorf("run %s faulted at ip %d: %s", m.runID, m.ip, f.err)
		}
	}()

	if m.tracer != nil {
		m.tracer.banner()
	}
	for !m.halted {
		if m.ip+1 >= len(m.instructions) {
			return nil
		}
		m.ip++
		in := m.instructions[m.ip]
		if m.tracer != nil {
			m.tracer.step(in)
		}
		m.exec(in)
	}
	return nil
}

// Run executes the loaded program from the beginning.
func (m *Machine) Run() error {
	m.ip = -1
	m.halted = false
	return m.Dispatch()
}

func (m *Machine) tracef(format string, args ...any) {
	if m.tracer != nil {
		m.tracer.printf(format, args...)
	}
}

func (m *Machine) exec(in Instruction) {
	ops := m.frame.ops

	switch in.Code {
	case OpNoop:
		// nothing

	case OpVMalloc:
		m.frame.allocLocals(in.Operand)

	case OpPopOp:
		ops.pop().Decref()

	case OpLoadNull:
		NullSlot.Incref()
		ops.push(NullSlot)
		m.tracef("NULL value (type: void) was loaded to operand stack.")

	case OpLoadInt:
		ops.push(NewInt(int64(in.Operand)))
		m.tracef("Int value %d was loaded to operand stack.", in.Operand)

	case OpLoadFloat:
		ops.push(NewFloat(float64(in.Operand)))
		m.tracef("Float value %d was loaded to operand stack.", in.Operand)

	case OpLoadChar:
		ops.push(NewChar(byte(in.Operand)))
		m.tracef("Char value %d was loaded to operand stack.", in.Operand)

	case OpLoadConstant:
		c := m.constant(in.Operand)
		c.Incref()
		ops.push(c)
		m.tracef("Constant value %s was loaded to operand stack.", c)

	case OpLoadName:
		v := m.frame.local(in.Operand)
		v.Incref()
		ops.push(v)
		m.tracef("Loaded name %d.", in.Operand)

	case OpLoadNameGlobal:
		v := m.base.local(in.Operand)
		v.Incref()
		ops.push(v)
		m.tracef("Loaded global name %d.", in.Operand)

	case OpStoreName:
		m.frame.setLocal(in.Operand, ops.pop())
		m.tracef("Stored %s to name %d in locals.", m.frame.local(in.Operand), in.Operand)

	case OpStoreNameNopop:
		v := ops.peek()
		v.Incref()
		m.frame.setLocal(in.Operand, v)
		m.tracef("Stored %s to name %d in locals.", v, in.Operand)

	case OpStoreNameGlobal:
		m.base.setLocal(in.Operand, ops.pop())
		m.tracef("Stored %s to name %d in globals.", m.base.local(in.Operand), in.Operand)

	case OpStoreNameGlobalNopop:
		v := ops.peek()
		v.Incref()
		m.base.setLocal(in.Operand, v)
		m.tracef("Stored %s to name %d in globals.", v, in.Operand)

	case OpJmp:
		m.ip = m.index(in.Operand) - 1
		m.tracef("Jumped to instruction address %d.", in.Operand)

	case OpJmpTrue:
		v := ops.pop()
		if v.Int != 0 {
			m.ip = m.index(in.Operand) - 1
			m.tracef("The condition is true, jumped to instruction address %d.", in.Operand)
		}
		v.Decref()

	case OpJmpFalse:
		v := ops.pop()
		if v.Int == 0 {
			m.ip = m.index(in.Operand) - 1
			m.tracef("The condition is false, jumped to instruction address %d.", in.Operand)
		}
		v.Decref()

	case OpPush:
		m.frame = newFrame(m.frame, m.stackLimit)
		m.tracef("Frame is pushed into the control stack.")

	case OpCall:
		if m.frame == m.base {
			throw(ErrNoFrame)
		}
		m.frame.returnIP = m.ip + 1
		if m.tracer != nil {
			retAddr := -1
			if m.ip+1 < len(m.instructions) {
				retAddr = m.instructions[m.ip+1].Address
			}
			m.tracef("Call subroutine defined at address %d, with return address %d.", in.Operand, retAddr)
		}
		m.ip = m.index(in.Operand) - 1

	case OpRet:
		m.execRet()

	case OpStoreGlobal:
		v := ops.pop()
		m.base.ops.push(v)
		m.tracef("Pushed local value %s into global operands.", v)

	case OpLoadGlobal:
		v := m.base.ops.pop()
		ops.push(v)
		m.tracef("Pushed global value %s into local operands.", v)

	case OpBuildArr:
		n := ops.pop()
		size := int(n.Int)
		n.Decref()
		ops.push(NewArray(Type(in.Operand), size))
		m.tracef("Built array %d[%d].", in.Operand, size)

	case OpBinarySubscr:
		idx := ops.pop()
		arr := ops.pop()
		cell := m.arrayCell(arr, idx)
		cell.Incref()
		ops.push(cell)
		m.tracef("Loaded element with index %d of the array.", idx.Int)
		idx.Decref()
		arr.Decref()

	case OpStoreSubscr, OpStoreSubscrInpl, OpStoreSubscrNopop:
		m.execStoreSubscr(in.Code)

	case OpBinaryOp:
		right := ops.pop()
		left := ops.pop()
		res := applyBinary(BinaryOp(in.Operand), left, right)
		ops.push(res)
		m.tracef("Pop %s and %s, calculate with binary operator %d. Result %s is pushed into the stack.",
			left, right, in.Operand, res)
		left.Decref()
		right.Decref()

	case OpUnaryOp:
		m.execUnary(UnaryOp(in.Operand))

	case OpPrintk:
		v := ops.pop()
		fmt.Fprintln(m.out, v.String())
		v.Decref()

	case OpHalt:
		m.halted = true
		m.tracef("Program received HALT signal, terminating...")

	default:
		throwf(ErrUnknownOpcode, "opcode %d at address %d", int(in.Code), in.Address)
	}
}

// execRet tears the innermost frame down: the return value moves to the
// caller's operand stack without a count adjustment, then the callee settles
// its leftover operands and its variable table. The resume address is the one
// the matching CALL saved, which lives in the caller's frame: a frame records
// the return address of the call it makes, not of the call that entered it.
func (m *Machine) execRet() {
	f := m.frame
	if f == m.base {
		throw(ErrNoFrame)
	}
	ret := f.ops.pop()
	caller := f.caller
	caller.ops.push(ret)

	toIP := caller.returnIP - 1
	if m.tracer != nil {
		retAddr := -1
		if toIP+1 < len(m.instructions) && toIP+1 >= 0 {
			retAddr = m.instructions[toIP+1].Address
		}
		m.tracef("Frame is poped from the control stack. Return to instruct address %d with return value %s.",
			retAddr, ret)
	}

	f.release()
	m.frame = caller
	m.ip = toIP
}

func (m *Machine) execUnary(op UnaryOp) {
	ops := m.frame.ops
	operand := ops.pop()
	switch op {
	case UnaryInc:
		operand.Int++
		m.tracef("Increased the loaded variable by one.")
		operand.Decref()
	case UnaryDec:
		operand.Int--
		m.tracef("Decreased the loaded variable by one.")
		operand.Decref()
	default:
		res := applyUnary(op, operand)
		ops.push(res)
		m.tracef("Pop %s, calculate with unary operator %d. Result %s is pushed into the stack.",
			operand, int(op), res)
		operand.Decref()
	}
}

// execStoreSubscr writes a scalar payload into an array cell. The three
// variants differ only in what remains on the stack afterwards: STORE_SUBSCR
// consumes everything, the INPLACE form leaves the array, and the NOPOP form
// pushes the stored value back.
func (m *Machine) execStoreSubscr(code Opcode) {
	ops := m.frame.ops
	val := ops.pop()
	idx := ops.pop()

	var arr *Slot
	if code == OpStoreSubscrInpl {
		arr = ops.peek()
	} else {
		arr = ops.pop()
	}

	cell := m.arrayCell(arr, idx)
	switch arr.Arr.Elem {
	case TypeInt:
		cell.Int = val.Int
	case TypeFloat:
		cell.Float = val.Float
	case TypeChar:
		cell.Char = val.Char
	}
	m.tracef("Changed element with index %d of the array to %s.", idx.Int, val)

	idx.Decref()
	switch code {
	case OpStoreSubscrNopop:
		ops.push(val)
		arr.Decref()
	case OpStoreSubscr:
		val.Decref()
		arr.Decref()
	default:
		val.Decref()
	}
}

// arrayCell resolves an index slot against an array slot and returns the
// cell handle.
func (m *Machine) arrayCell(arr, idx *Slot) *Slot {
	if arr.Type != TypeArray || arr.Arr == nil {
		throwf(ErrNotArray, "%s at ip %d", arr.Type, m.ip)
	}
	i := int(idx.Int)
	if i < 0 || i >= arr.Arr.Size() {
		throwf(ErrIndexRange, "index %d of array[%d]", i, arr.Arr.Size())
	}
	return arr.Arr.Cell(i)
}

func (m *Machine) constant(i int) *Slot {
	c, err := m.Constant(i)
	if err != nil {
		throw(err)
	}
	return c
}
