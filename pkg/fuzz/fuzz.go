// Package fuzz drives randomized insert/delete sequences against a tree
// and cross-checks every key against an in-memory reference map, so a
// structural bug surfaces as a concrete, replayable instruction log
// instead of a flaky integration test.
package fuzz

import (
	"bytes"
	"encoding/gob"
	"io"

	"golang.org/x/exp/rand"

	"nestdb/internal/key128"
	"nestdb/pkg/btree"
)

// Op identifies an instruction's kind.
type Op byte

const (
	OpInsert Op = iota
	OpDelete
)

// Instruction is one fuzzer step, gob-encodable so a divergence run can be
// replayed byte-for-byte later.
type Instruction struct {
	Op   Op
	Key  key128.Key128
	Data []byte
}

// randomKey draws a key in [1, 1e18), the same range the original
// generator used, to keep most keys well clear of the small integers
// hand-picked in unit tests.
func randomKey(rng *rand.Rand) key128.Key128 {
	return key128.FromUint64(1 + uint64(rng.Int63n(1_000_000_000_000_000-1)))
}

func chooseExistingKey(reference map[key128.Key128][]byte, rng *rand.Rand) (key128.Key128, bool) {
	if len(reference) == 0 {
		return key128.Key128{}, false
	}
	// reservoir-sample one key out of the map so the choice is uniform
	// without building a throwaway slice of every key on each call.
	i, chosen := 0, key128.Key128{}
	for k := range reference {
		if rng.Intn(i+1) == 0 {
			chosen = k
		}
		i++
	}
	return chosen, true
}

// GenerateInstruction produces the next fuzz step: 80% inserts (30% of
// those targeting a key already in reference, to exercise replacement and
// splits near existing data), 20% deletes (90% targeting an existing key,
// so most deletes actually remove something).
func GenerateInstruction(reference map[key128.Key128][]byte, rng *rand.Rand) Instruction {
	if rng.Float64() < 0.8 {
		key := randomKey(rng)
		if rng.Float64() < 0.3 {
			if existing, ok := chooseExistingKey(reference, rng); ok {
				key = existing
			}
		}
		dataLen := rng.Intn(20)
		data := make([]byte, dataLen)
		for i := range data {
			data[i] = byte(rng.Intn(128))
		}
		return Instruction{Op: OpInsert, Key: key, Data: data}
	}

	key := randomKey(rng)
	if rng.Float64() < 0.9 {
		if existing, ok := chooseExistingKey(reference, rng); ok {
			key = existing
		}
	}
	return Instruction{Op: OpDelete, Key: key}
}

// Apply executes instr against both tree and the reference map.
func Apply(instr Instruction, tree *btree.BTree, reference map[key128.Key128][]byte) error {
	switch instr.Op {
	case OpInsert:
		if err := tree.Insert(instr.Key, instr.Data); err != nil {
			return err
		}
		reference[instr.Key] = instr.Data
	case OpDelete:
		if err := tree.Delete(instr.Key); err != nil {
			return err
		}
		delete(reference, instr.Key)
	}
	return nil
}

// Validate reports whether every key in reference still reads back
// exactly what the reference map says it should.
func Validate(reference map[key128.Key128][]byte, tree *btree.BTree) (bool, error) {
	for key, want := range reference {
		got, ok, err := tree.Lookup(key)
		if err != nil {
			return false, err
		}
		if !ok || !bytes.Equal(got, want) {
			return false, nil
		}
	}
	return true, nil
}

// Run drives up to maxIterations random instructions against tree,
// validating the reference model after each one. It returns the full
// instruction log and, if a divergence was found, the index of the
// instruction that produced it (len(log)-1).
func Run(tree *btree.BTree, rng *rand.Rand, maxIterations int) (log []Instruction, divergedAt int, err error) {
	reference := make(map[key128.Key128][]byte)
	divergedAt = -1
	for i := 0; i < maxIterations; i++ {
		instr := GenerateInstruction(reference, rng)
		if err := Apply(instr, tree, reference); err != nil {
			return log, divergedAt, err
		}
		log = append(log, instr)

		ok, err := Validate(reference, tree)
		if err != nil {
			return log, divergedAt, err
		}
		if !ok {
			divergedAt = len(log) - 1
			return log, divergedAt, nil
		}
	}
	return log, divergedAt, nil
}

// WriteReplayLog gob-encodes log to w, for saving a divergence run to
// disk so it can be fed back in without re-rolling the dice.
func WriteReplayLog(w io.Writer, log []Instruction) error {
	return gob.NewEncoder(w).Encode(log)
}

// ReadReplayLog decodes a log previously written by WriteReplayLog.
func ReadReplayLog(r io.Reader) ([]Instruction, error) {
	var log []Instruction
	if err := gob.NewDecoder(r).Decode(&log); err != nil {
		return nil, err
	}
	return log, nil
}
