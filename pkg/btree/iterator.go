package btree

import (
	"nestdb/internal/key128"
	"nestdb/internal/xerrors"
	"nestdb/pkg/page"
)

// KeyIterator walks every key in a tree in ascending order. It re-descends
// from a stack of (internal page, next-child-index) frames rather than
// following a leaf sibling pointer: leaf pages in this format don't carry
// one, so moving from one leaf to the next means popping back up to the
// nearest ancestor with an unvisited child and descending leftmost from
// there again.
type KeyIterator struct {
	t *BTree

	stack     []frame
	leaf      *page.LeafPage
	leafIndex int
	done      bool
}

type frame struct {
	node     *page.InternalPage
	nextChild int
}

// Keys returns an iterator positioned before the first key in the tree.
func (t *BTree) Keys() (*KeyIterator, error) {
	it := &KeyIterator{t: t}
	root, err := page.Load(t.root, t.db)
	if err != nil {
		return nil, err
	}
	if err := it.descendLeftmost(root); err != nil {
		return nil, err
	}
	return it, nil
}

func (it *KeyIterator) descendLeftmost(p page.Page) error {
	for {
		switch n := p.(type) {
		case *page.InternalPage:
			it.stack = append(it.stack, frame{node: n, nextChild: 1})
			child, err := page.Load(n.Pointer(0), it.t.db)
			if err != nil {
				return err
			}
			p = child
		case *page.LeafPage:
			it.leaf = n
			it.leafIndex = 0
			return nil
		default:
			return xerrors.NewInvariant("btree: page of unknown type")
		}
	}
}

// advance moves to the next leaf once the current one is exhausted, by
// popping frames off the stack until it finds one with an unvisited
// child, then descending leftmost from that child.
func (it *KeyIterator) advance() error {
	for len(it.stack) > 0 {
		top := &it.stack[len(it.stack)-1]
		if top.nextChild > len(top.node.Pointers())-1 {
			it.stack = it.stack[:len(it.stack)-1]
			continue
		}
		child, err := page.Load(top.node.Pointer(top.nextChild), it.t.db)
		if err != nil {
			return err
		}
		top.nextChild++
		return it.descendLeftmost(child)
	}
	it.leaf = nil
	it.done = true
	return nil
}

// Next returns the next key in ascending order, or ok=false once every
// key has been visited.
func (it *KeyIterator) Next() (key128.Key128, bool, error) {
	if it.done {
		return key128.Key128{}, false, nil
	}
	for it.leaf != nil && it.leafIndex == len(it.leaf.Keys()) {
		if err := it.advance(); err != nil {
			return key128.Key128{}, false, err
		}
	}
	if it.leaf == nil {
		it.done = true
		return key128.Key128{}, false, nil
	}
	k := it.leaf.Keys()[it.leafIndex].Key
	it.leafIndex++
	return k, true, nil
}
