package vm

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func openTestStore(t *testing.T) *ProgramStore {
	t.Helper()
	store, err := OpenProgramStore(filepath.Join(t.TempDir(), "programs.db"))
	if err != nil {
		t.Fatalf("OpenProgramStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestContainerDigest(t *testing.T) {
	a := ContainerDigest([]byte("one"))
	b := ContainerDigest([]byte("two"))

	if len(a) != 64 {
		t.Errorf("digest length = %d, want 64 hex chars", len(a))
	}
	if a == b {
		t.Error("different containers share a digest")
	}
	if a != ContainerDigest([]byte("one")) {
		t.Error("digest is not deterministic")
	}
}

func TestProgramStore_PutGet(t *testing.T) {
	store := openTestStore(t)

	digest := ContainerDigest([]byte("prog"))
	runID := uuid.New()
	if err := store.Put(digest, []byte("snapshot-bytes"), runID); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(digest)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, []byte("snapshot-bytes")) {
		t.Errorf("Get = %q, want %q", got, "snapshot-bytes")
	}
}

func TestProgramStore_GetMissing(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Get(ContainerDigest([]byte("absent")))
	if !errors.Is(err, ErrProgramNotFound) {
		t.Errorf("Get err = %v, want %v", err, ErrProgramNotFound)
	}
}

func TestProgramStore_Has(t *testing.T) {
	store := openTestStore(t)
	digest := ContainerDigest([]byte("prog"))

	ok, err := store.Has(digest)
	if err != nil {
		t.Fatalf("Has failed: %v", err)
	}
	if ok {
		t.Error("Has reports true before Put")
	}

	if err := store.Put(digest, []byte("x"), uuid.New()); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	ok, err = store.Has(digest)
	if err != nil {
		t.Fatalf("Has failed: %v", err)
	}
	if !ok {
		t.Error("Has reports false after Put")
	}
}

func TestProgramStore_PutReplaces(t *testing.T) {
	store := openTestStore(t)
	digest := ContainerDigest([]byte("prog"))

	if err := store.Put(digest, []byte("old"), uuid.New()); err != nil {
		t.Fatalf("first Put failed: %v", err)
	}
	if err := store.Put(digest, []byte("new"), uuid.New()); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}

	got, err := store.Get(digest)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "new" {
		t.Errorf("Get = %q, want %q", got, "new")
	}

	records, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("List count = %d, want 1", len(records))
	}
}

func TestProgramStore_List(t *testing.T) {
	store := openTestStore(t)

	want := map[string]uuid.UUID{
		ContainerDigest([]byte("a")): uuid.New(),
		ContainerDigest([]byte("b")): uuid.New(),
	}
	for digest, runID := range want {
		if err := store.Put(digest, []byte("snap"), runID); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	records, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != len(want) {
		t.Fatalf("List count = %d, want %d", len(records), len(want))
	}
	for _, rec := range records {
		runID, ok := want[rec.Digest]
		if !ok {
			t.Errorf("unexpected digest %s", rec.Digest)
			continue
		}
		if rec.RunID != runID {
			t.Errorf("run id for %s = %s, want %s", rec.Digest, rec.RunID, runID)
		}
		if rec.CreatedAt.IsZero() {
			t.Errorf("created_at for %s is zero", rec.Digest)
		}
	}
}

func TestProgramStore_SnapshotRoundTrip(t *testing.T) {
	// End to end: snapshot a loaded machine, store it, fetch it back and
	// restore it into a fresh machine.
	store := openTestStore(t)

	m := snapshotFixture(t)
	blob, err := MarshalSnapshot(m.Snapshot())
	if err != nil {
		t.Fatalf("MarshalSnapshot failed: %v", err)
	}
	digest := ContainerDigest(blob)
	if err := store.Put(digest, blob, m.RunID()); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	fetched, err := store.Get(digest)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	s, err := UnmarshalSnapshot(fetched)
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
