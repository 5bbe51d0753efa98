package vm

import (
	"bytes"
	"testing"
)

func snapshotFixture(t *testing.T) *Machine {
	t.Helper()
	m := NewMachine(nil)
	t.Cleanup(m.Reset)
	if err := m.AllocConstants(2); err != nil {
		t.Fatalf("AllocConstants failed: %v", err)
	}
	if err := m.SetConstant(0, NewInt(7)); err != nil {
		t.Fatalf("SetConstant failed: %v", err)
	}
	if err := m.SetConstant(1, NewFloat(2.5)); err != nil {
		t.Fatalf("SetConstant failed: %v", err)
	}
	loadProgram(t, m, []Instruction{
		ins(0, OpLoadConstant, 1),
		ins(1, OpPrintk),
		ins(2, OpLoadConstant, 0),
		ins(3, OpPrintk),
		ins(4, OpHalt),
	})
	return m
}

func TestSnapshot_RoundTrip(t *testing.T) {
	m := snapshotFixture(t)

	blob, err := MarshalSnapshot(m.Snapshot())
	if err != nil {
		t.Fatalf("MarshalSnapshot failed: %v", err)
	}
	s, err := UnmarshalSnapshot(blob)
	if err != nil {
		t.Fatalf("UnmarshalSnapshot failed: %v", err)
	}

	if s.PoolSize != 2 {
		t.Errorf("pool size = %d, want 2", s.PoolSize)
	}
	if len(s.Constants) != 2 {
		t.Fatalf("constants = %d, want 2", len(s.Constants))
	}
	if s.Constants[0].Type != int(TypeInt) || s.Constants[0].Int != 7 {
		t.Errorf("constant 0 = %+v, want Int 7", s.Constants[0])
	}
	if s.Constants[1].Type != int(TypeFloat) || s.Constants[1].Float != 2.5 {
		t.Errorf("constant 1 = %+v, want Float 2.5", s.Constants[1])
	}
	if len(s.Instructions) != 5 {
		t.Errorf("instructions = %d, want 5", len(s.Instructions))
	}
}

func TestRestoreSnapshot_RunsLikeOriginal(t *testing.T) {
	m := snapshotFixture(t)
	blob, err := MarshalSnapshot(m.Snapshot())
	if err != nil {
		t.Fatalf("MarshalSnapshot failed: %v", err)
	}
	s, err := UnmarshalSnapshot(blob)
	if err != nil {
		t.Fatalf("UnmarshalSnapshot failed: %v", err)
	}

	var out bytes.Buffer
	restored := NewMachine(&out)
	defer restored.Reset()
	if err := restored.RestoreSnapshot(s); err != nil {
		t.Fatalf("RestoreSnapshot failed: %v", err)
	}
	if err := restored.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.String() != "2.5(float)\n7(int)\n" {
		t.Errorf("output = %q, want %q", out.String(), "2.5(float)\n7(int)\n")
	}
}

func TestSnapshot_CanonicalEncoding(t *testing.T) {
	// The store addresses snapshots by content, so equal programs must
	// marshal to equal bytes.
	m := snapshotFixture(t)

	first, err := MarshalSnapshot(m.Snapshot())
	if err != nil {
		t.Fatalf("MarshalSnapshot failed: %v", err)
	}

	s, err := UnmarshalSnapshot(first)
	if err != nil {
		t.Fatalf("UnmarshalSnapshot failed: %v", err)
	}
	restored := NewMachine(nil)
	defer restored.Reset()
	if err := restored.RestoreSnapshot(s); err != nil {
		t.Fatalf("RestoreSnapshot failed: %v", err)
	}
	second, err := MarshalSnapshot(restored.Snapshot())
	if err != nil {
		t.Fatalf("MarshalSnapshot failed: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Error("restored snapshot marshals to different bytes")
	}
}

func TestRestoreSnapshot_RejectsBadConstantType(t *testing.T) {
	m := NewMachine(nil)
	defer m.Reset()
	s := &Snapshot{
		PoolSize:  1,
		Constants: []SnapshotConstant{{Index: 0, Type: int(TypeArray), Refs: 1}},
	}
	if err := m.RestoreSnapshot(s); err == nil {
		t.Error("RestoreSnapshot accepted an array constant, want error")
	}
}

func TestUnmarshalSnapshot_Garbage(t *testing.T) {
	if _, err := UnmarshalSnapshot([]byte("not cbor at all")); err == nil {
		t.Error("UnmarshalSnapshot accepted garbage, want error")
	}
}
