package vm

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"
)

const roundTripSource = `0 CMALLOC 2
0 CONSTANT 0 7 1
1 CONSTANT 1 2.5 1
0 LOAD_CONSTANT 1
1 PRINTK
2 HALT
`

func TestAssembleDisassemble_RoundTrip(t *testing.T) {
	container, err := Assemble(strings.NewReader(roundTripSource), "abc")
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	var out bytes.Buffer
	if err := Disassemble(container, "abc", &out); err != nil {
		t.Fatalf("Disassemble failed: %v", err)
	}

	// Token order and content survive the trip; framing whitespace may not.
	got := strings.Fields(out.String())
	want := strings.Fields(roundTripSource)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip tokens = %v, want %v", got, want)
	}
}

func TestAssemble_ContainerRuns(t *testing.T) {
	container, err := Assemble(strings.NewReader(roundTripSource), "abc")
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	var out bytes.Buffer
	m := NewMachine(&out)
	defer m.Reset()
	if err := m.LoadContainer(container, "abc"); err != nil {
		t.Fatalf("LoadContainer failed: %v", err)
	}
	if err := m.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.String() != "2.5(float)\n" {
		t.Errorf("output = %q, want %q", out.String(), "2.5(float)\n")
	}
}

func TestAssemble_UnknownMnemonic(t *testing.T) {
	_, err := Assemble(strings.NewReader("0 FROB 1"), "")
	if !errors.Is(err, ErrUnknownMnemonic) {
		t.Errorf("Assemble err = %v, want %v", err, ErrUnknownMnemonic)
	}
}

func TestAssemble_TruncatedRecord(t *testing.T) {
	_, err := Assemble(strings.NewReader("0 LOAD_INT"), "")
	if !errors.Is(err, ErrTruncatedRecord) {
		t.Errorf("Assemble err = %v, want %v", err, ErrTruncatedRecord)
	}
}

func TestDisassemble_WrongPassword(t *testing.T) {
	container, err := Assemble(strings.NewReader(roundTripSource), "abc")
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	var out bytes.Buffer
	if err := Disassemble(container, "nope", &out); !errors.Is(err, ErrBadMagic) {
		t.Errorf("Disassemble err = %v, want %v", err, ErrBadMagic)
	}
}

func TestDisassemble_UnknownOpcode(t *testing.T) {
	var out bytes.Buffer
	err := Disassemble([]byte(Magic+" 0 99 "), "", &out)
	if !errors.Is(err, ErrUnknownOpcode) {
		t.Errorf("Disassemble err = %v, want %v", err, ErrUnknownOpcode)
	}
}
