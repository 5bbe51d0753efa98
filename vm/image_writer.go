package vm

import (
	"fmt"
	"io"
	"strings"
)

// ---------------------------------------------------------------------------
// Assembler and disassembler
// ---------------------------------------------------------------------------

// Assemble compiles a mnemonic-form token stream into an obfuscated
// container. Addresses and operand tokens are copied verbatim; only the
// mnemonic is resolved to its numeric code. The magic token is written
// first, then the whole buffer is run through the keystream.
func Assemble(src io.Reader, password string) ([]byte, error) {
	sc := newTokenScanner(src)
	var buf strings.Builder
	buf.WriteString(Magic + " ")

	for {
		addr, err := sc.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		name, err := sc.Next()
		if err != nil {
			return nil, wrapTruncated(err)
		}
		code, ok := ParseOpcode(name)
		if !ok {
			return nil, fmt.Errorf("%q: %w", name, ErrUnknownMnemonic)
		}
		fmt.Fprintf(&buf, "%s %d ", addr, int(code))
		for i := 0; i < code.Operands(); i++ {
			tok, err := sc.Next()
			if err != nil {
				return nil, wrapTruncated(err)
			}
			buf.WriteString(tok + " ")
		}
	}

	return EncodeContainer([]byte(buf.String()), password), nil
}

// Disassemble decodes a container and writes one mnemonic-form record per
// line to out. The output is valid assembler input, so a container survives
// the disassemble/assemble round trip under the same password.
func Disassemble(data []byte, password string, out io.Writer) error {
	sc, err := DecodeContainer(data, password)
	if err != nil {
		return err
	}
	for {
		addr, err := sc.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		code, err := sc.NextInt()
		if err != nil {
			return wrapTruncated(err)
		}
		op := Opcode(code)
		if !op.Valid() {
			return fmt.Errorf("opcode %d at address %s: %w", code, addr, ErrUnknownOpcode)
		}
		fmt.Fprintf(out, "%s %s ", addr, op.Name())
		for i := 0; i < op.Operands(); i++ {
			tok, err := sc.Next()
			if err != nil {
				return wrapTruncated(err)
			}
			fmt.Fprintf(out, "%s ", tok)
		}
		fmt.Fprintln(out)
	}
}
