// Package nested implements tables-of-tables addressing on top of a single
// B+-tree engine: every leaf value can itself carry the offset of a child
// tree, so a caller can write root[table][row][field] without the storage
// layer ever knowing about tables or rows as first-class concepts.
package nested

import (
	"encoding/binary"

	"nestdb/internal/key128"
	"nestdb/pkg/btree"
	"nestdb/pkg/storage"
)

// TreeEntry is a cursor into one tree at one offset. A tree's root offset
// can change underneath it on any insert or delete that triggers a split
// or an empty-root collapse; onRootChange is how that new offset gets
// written back synchronously to whatever owns it — the file header for
// the top-level tree, or the parent tree's own stored payload for a
// tree reached through Get. Every method re-opens the *storage.Database
// it was given, so nothing here keeps a lock on it between operations.
type TreeEntry struct {
	db           *storage.Database
	offset       uint64
	onRootChange func(newOffset uint64) error
}

// Root returns the entry point into the database's top-level tree,
// allocating it on first use.
func Root(db *storage.Database) (TreeEntry, error) {
	if db.RootOffset() == 0 {
		tree, err := btree.Init(db)
		if err != nil {
			return TreeEntry{}, err
		}
		if err := db.SetRootOffset(tree.Offset()); err != nil {
			return TreeEntry{}, err
		}
	}
	return TreeEntry{
		db:     db,
		offset: db.RootOffset(),
		onRootChange: func(newOffset uint64) error {
			return db.SetRootOffset(newOffset)
		},
	}, nil
}

func (e *TreeEntry) tree() *btree.BTree {
	return btree.FromOffset(e.db, e.offset)
}

// syncRoot compares tree's current offset against the one this entry was
// opened at; if a split or collapse moved it, the new offset is recorded
// on e and propagated to e's owner in the same logical operation that
// caused the move.
func (e *TreeEntry) syncRoot(tree *btree.BTree) error {
	if tree.Offset() == e.offset {
		return nil
	}
	e.offset = tree.Offset()
	if e.onRootChange == nil {
		return nil
	}
	return e.onRootChange(e.offset)
}

// treeEntryValue is the decoded form of a leaf payload: an optional child
// tree offset and an optional inline value, coexisting in the same slot.
type treeEntryValue struct {
	childOffset uint64
	data        []byte
	hasData     bool
}

// decodeTreeEntryValue splits a stored payload into its child-offset
// prefix and its inline data suffix. Payloads shorter than 8 bytes are
// zero-padded, matching a fresh TreeEntryValue with no child and no data.
func decodeTreeEntryValue(raw []byte) treeEntryValue {
	buf := raw
	if len(buf) < 8 {
		padded := make([]byte, 8)
		copy(padded, buf)
		buf = padded
	}
	childOffset := binary.BigEndian.Uint64(buf[0:8])
	rest := buf[8:]
	v := treeEntryValue{childOffset: childOffset}
	if len(rest) > 0 {
		v.data = append([]byte(nil), rest...)
		v.hasData = true
	}
	return v
}

func (v treeEntryValue) encode() []byte {
	buf := make([]byte, 8, 8+len(v.data))
	binary.BigEndian.PutUint64(buf[0:8], v.childOffset)
	if v.hasData {
		buf = append(buf, v.data...)
	}
	return buf
}

// updateChildOffset rewrites key's stored childOffset to point at a
// child tree's new root after that child split or collapsed, preserving
// whatever inline data is already stored under key. This is itself a
// mutation of e's own tree, so it recurses through syncRoot exactly like
// any other insert: a child's root moving can cascade into e's root
// moving too.
func (e *TreeEntry) updateChildOffset(key key128.Key128, newOffset uint64) error {
	tree := e.tree()
	existing, ok, err := tree.Lookup(key)
	if err != nil {
		return err
	}
	var entry treeEntryValue
	if ok {
		entry = decodeTreeEntryValue(existing)
	}
	entry.childOffset = newOffset
	if err := tree.Insert(key, entry.encode()); err != nil {
		return err
	}
	return e.syncRoot(tree)
}

func (e *TreeEntry) insertChildTree(key key128.Key128) (TreeEntry, error) {
	child, err := btree.Init(e.db)
	if err != nil {
		return TreeEntry{}, err
	}
	tree := e.tree()
	existing, ok, err := tree.Lookup(key)
	if err != nil {
		return TreeEntry{}, err
	}
	var entry treeEntryValue
	if ok {
		entry = decodeTreeEntryValue(existing)
	}
	entry.childOffset = child.Offset()
	if err := tree.Insert(key, entry.encode()); err != nil {
		return TreeEntry{}, err
	}
	if err := e.syncRoot(tree); err != nil {
		return TreeEntry{}, err
	}
	return e.childEntry(key, child.Offset()), nil
}

// childEntry builds the TreeEntry for the tree stored under key, wiring
// its onRootChange back through e so a future split of that child tree
// gets written into e's tree under the same key.
func (e *TreeEntry) childEntry(key key128.Key128, offset uint64) TreeEntry {
	parent := e
	return TreeEntry{
		db:     e.db,
		offset: offset,
		onRootChange: func(newOffset uint64) error {
			return parent.updateChildOffset(key, newOffset)
		},
	}
}

// Get descends into the child tree stored under key, creating one if this
// is the first time key has been addressed as a table/row rather than a
// plain value.
func (e *TreeEntry) Get(key key128.Key128) (TreeEntry, error) {
	tree := e.tree()
	existing, ok, err := tree.Lookup(key)
	if err != nil {
		return TreeEntry{}, err
	}
	if !ok {
		return e.insertChildTree(key)
	}
	entry := decodeTreeEntryValue(existing)
	if entry.childOffset == 0 {
		return e.insertChildTree(key)
	}
	return e.childEntry(key, entry.childOffset), nil
}

// SetValue stores data as the inline value under key, preserving any
// child tree offset already stored there so a row can carry both nested
// fields and a direct value.
func (e *TreeEntry) SetValue(key key128.Key128, data []byte) error {
	tree := e.tree()
	existing, ok, err := tree.Lookup(key)
	if err != nil {
		return err
	}
	var entry treeEntryValue
	if ok {
		entry = decodeTreeEntryValue(existing)
	}
	entry.data = append([]byte(nil), data...)
	entry.hasData = true
	if err := tree.Insert(key, entry.encode()); err != nil {
		return err
	}
	return e.syncRoot(tree)
}

// Value returns the inline value stored under key, if any.
func (e *TreeEntry) Value(key key128.Key128) ([]byte, bool, error) {
	tree := e.tree()
	existing, ok, err := tree.Lookup(key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	entry := decodeTreeEntryValue(existing)
	return entry.data, entry.hasData, nil
}

// Keys returns every key directly present in this entry's tree, in
// ascending order.
func (e *TreeEntry) Keys() ([]key128.Key128, error) {
	it, err := e.tree().Keys()
	if err != nil {
		return nil, err
	}
	var out []key128.Key128
	for {
		k, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, k)
	}
	return out, nil
}

// Delete removes key from this entry's tree.
func (e *TreeEntry) Delete(key key128.Key128) error {
	tree := e.tree()
	if err := tree.Delete(key); err != nil {
		return err
	}
	return e.syncRoot(tree)
}
