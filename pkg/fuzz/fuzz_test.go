package fuzz

import (
	"bytes"
	"testing"

	"golang.org/x/exp/rand"

	"nestdb/internal/key128"
	"nestdb/pkg/btree"
	"nestdb/pkg/storage"
)

func newTestTree(t *testing.T) *btree.BTree {
	t.Helper()
	db, err := storage.Initialize(storage.NewMemDisk())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	tree, err := btree.Init(db)
	if err != nil {
		t.Fatalf("init tree: %v", err)
	}
	return tree
}

func TestRunDoesNotDivergeOverManyIterations(t *testing.T) {
	tree := newTestTree(t)
	rng := rand.New(rand.NewSource(12345))
	log, divergedAt, err := Run(tree, rng, 5000)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if divergedAt != -1 {
		t.Fatalf("unexpected divergence at instruction %d (of %d): %+v", divergedAt, len(log), log[divergedAt])
	}
}

func TestReplayLogRoundTrips(t *testing.T) {
	log := []Instruction{
		{Op: OpInsert, Key: key128.FromUint64(1), Data: []byte{1, 2, 3}},
		{Op: OpDelete, Key: key128.FromUint64(1)},
	}
	var buf bytes.Buffer
	if err := WriteReplayLog(&buf, log); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadReplayLog(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != len(log) {
		t.Fatalf("length mismatch: got %d want %d", len(got), len(log))
	}
	for i := range log {
		if got[i].Op != log[i].Op || !got[i].Key.Equal(log[i].Key) {
			t.Fatalf("instruction %d mismatch: got %+v want %+v", i, got[i], log[i])
		}
	}
}

func TestApplyKeepsReferenceInSync(t *testing.T) {
	tree := newTestTree(t)
	reference := make(map[key128.Key128][]byte)
	instr := Instruction{Op: OpInsert, Key: key128.FromUint64(7), Data: []byte("seven")}
	if err := Apply(instr, tree, reference); err != nil {
		t.Fatalf("apply: %v", err)
	}
	ok, err := Validate(reference, tree)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !ok {
		t.Fatalf("expected reference and tree to agree after insert")
	}

	if err := Apply(Instruction{Op: OpDelete, Key: key128.FromUint64(7)}, tree, reference); err != nil {
		t.Fatalf("apply delete: %v", err)
	}
	if _, present := reference[key128.FromUint64(7)]; present {
		t.Fatalf("expected key removed from reference map")
	}
}
