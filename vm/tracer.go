package vm

import (
	"bufio"
	"fmt"
	"io"
)

// ---------------------------------------------------------------------------
// Tracer: verbose narration and opcode-level stepping
// ---------------------------------------------------------------------------

// Tracer narrates execution to a sink. In plain mode every executed
// instruction is announced, and most opcodes follow with a one-line
// description of their effect (NOOP, VMALLOC, POP_OP, PRINTK and untaken
// conditional jumps print none). In stepping mode the announcement becomes a prompt and the tracer
// blocks reading a newline before the instruction runs, which turns the
// dispatch loop into an opcode-level debugger. Tracing never alters machine
// state beyond what it writes to the sink and reads from the step source.
type Tracer struct {
	out io.Writer
	in  *bufio.Reader
}

// NewTracer returns a tracer that narrates each instruction without pausing.
func NewTracer(out io.Writer) *Tracer {
	return &Tracer{out: out}
}

// NewSteppingTracer returns a tracer that prompts and blocks on in before
// every instruction. Callers that also feed program records from the same
// stream must pass the same buffered reader here so the two consumers share
// one read position.
func NewSteppingTracer(out io.Writer, in io.Reader) *Tracer {
	return &Tracer{out: out, in: asBufioReader(in)}
}

func asBufioReader(r io.Reader) *bufio.Reader {
	if br, ok := r.(*bufio.Reader); ok {
		return br
	}
	return bufio.NewReader(r)
}

// banner writes the debugger header. In stepping mode it waits for a newline
// before the first instruction, so the user can read the header first.
func (t *Tracer) banner() {
	fmt.Fprintln(t.out, "SLang Virtual Machine Debugger (SVMDB)")
	fmt.Fprintln(t.out, "I am an opcode-level debugging assistant.")
	fmt.Fprintln(t.out, "======================================")
	t.pause()
}

// step announces the instruction about to execute. Stepping mode renders it
// as a prompt and blocks until the user presses enter.
func (t *Tracer) step(in Instruction) {
	fmt.Fprintln(t.out, "======================================")
	if in.Code.Operands() > 0 {
		fmt.Fprintf(t.out, "#%d $ %s %d", in.Address, in.Code.Name(), in.Operand)
	} else {
		fmt.Fprintf(t.out, "#%d $ %s", in.Address, in.Code.Name())
	}
	if t.in != nil {
		fmt.Fprint(t.out, " > ")
		t.pause()
	} else {
		fmt.Fprintln(t.out)
	}
}

// printf writes one narration line describing an instruction's effect.
func (t *Tracer) printf(format string, args ...any) {
	fmt.Fprintf(t.out, format+"\n", args...)
}

// pause blocks until a newline arrives. EOF unblocks permanently so a piped
// stdin does not wedge the machine.
func (t *Tracer) pause() {
	if t.in == nil {
		return
	}
	if _, err := t.in.ReadString('\n'); err != nil {
		t.in = nil
	}
}
