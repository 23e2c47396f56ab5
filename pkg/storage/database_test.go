package storage

import "testing"

func TestInitializeSetsDefaultBlockSize(t *testing.T) {
	db, err := Initialize(NewMemDisk())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if db.BlockSize() != 8192 {
		t.Fatalf("expected 8192 byte blocks, got %d", db.BlockSize())
	}
	if db.RootOffset() != 0 {
		t.Fatalf("expected lazily-unallocated root, got %d", db.RootOffset())
	}
}

func TestAllocateBlockIsMonotonic(t *testing.T) {
	db, err := Initialize(NewMemDisk())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	first, err := db.AllocateBlock()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	second, err := db.AllocateBlock()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if first != db.BlockSize() {
		t.Fatalf("expected first allocated block to sit right after header block, got %d", first)
	}
	if second != first+db.BlockSize() {
		t.Fatalf("expected monotonically increasing offsets, got %d then %d", first, second)
	}
}

func TestOpenExistingRoundTrips(t *testing.T) {
	disk := NewMemDisk()
	db, err := Initialize(disk)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	offset, err := db.AllocateBlock()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := db.SetRootOffset(offset); err != nil {
		t.Fatalf("set root: %v", err)
	}

	reopened, err := OpenExisting(disk)
	if err != nil {
		t.Fatalf("open existing: %v", err)
	}
	if reopened.RootOffset() != offset {
		t.Fatalf("expected root offset %d, got %d", offset, reopened.RootOffset())
	}
	if reopened.BlockSize() != db.BlockSize() {
		t.Fatalf("block size mismatch across reopen")
	}
}

func TestWriteAtReadAtRoundTrip(t *testing.T) {
	db, err := Initialize(NewMemDisk())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	offset, err := db.AllocateBlock()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	want := []byte("some page bytes")
	if err := db.WriteAt(offset, want); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := make([]byte, len(want))
	if err := db.ReadAt(offset, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("round trip mismatch: got %q, want %q", got, want)
	}
}
