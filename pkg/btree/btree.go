// Package btree drives B+-tree traversal, split, and delete over the page
// codec in pkg/page: it owns the root pointer and the recursive
// insert/split logic, while the page layout and per-node invariants live
// one layer down.
package btree

import (
	"github.com/rs/zerolog"

	"nestdb/internal/key128"
	"nestdb/internal/xerrors"
	"nestdb/pkg/page"
	"nestdb/pkg/storage"
)

// BTree is a handle onto a tree's root page offset. It carries no other
// state: every operation re-derives its working set by loading pages off
// the database as it descends.
type BTree struct {
	db   *storage.Database
	root uint64
	log  zerolog.Logger
}

// Offset returns the tree's current root block offset.
func (t *BTree) Offset() uint64 { return t.root }

// FromOffset wraps an already-allocated root offset, used when opening a
// tree whose offset is already known (the database's root tree, or a
// nested child tree reached through a leaf value).
func FromOffset(db *storage.Database, offset uint64) *BTree {
	return &BTree{db: db, root: offset, log: db.Logger()}
}

// Init allocates a brand new, empty tree: a single empty leaf page.
func Init(db *storage.Database) (*BTree, error) {
	root, err := page.InitLeafPage(db)
	if err != nil {
		return nil, err
	}
	return &BTree{db: db, root: root.Offset(), log: db.Logger()}, nil
}

// Insert adds or replaces the value stored under key.
func (t *BTree) Insert(key key128.Key128, data []byte) error {
	root, err := page.Load(t.root, t.db)
	if err != nil {
		return err
	}
	if root.CanAccommodate(uint64(len(data)), t.db.BlockSize()) {
		return t.insertNonfull(root, key, data)
	}

	t.log.Debug().Uint64("root", t.root).Msg("root full, growing tree by one level")
	newRoot, err := page.InitInternalPage(t.db, t.root)
	if err != nil {
		return err
	}
	t.root = newRoot.Offset()
	if _, _, err := t.splitChild(newRoot, 0); err != nil {
		return err
	}
	return t.insertNonfull(newRoot, key, data)
}

func (t *BTree) insertNonfull(p page.Page, key key128.Key128, data []byte) error {
	switch n := p.(type) {
	case *page.LeafPage:
		return n.UpsertValue(key, data)
	case *page.InternalPage:
		i := key128.LowerBound(n.Keys(), key)
		child, err := page.Load(n.Pointer(i), t.db)
		if err != nil {
			return err
		}
		if !child.CanAccommodate(uint64(len(data)), t.db.BlockSize()) {
			left, right, err := t.splitChild(n, i)
			if err != nil {
				return err
			}
			if key.Less(n.Key(i)) || key.Equal(n.Key(i)) {
				child = left
			} else {
				child = right
			}
		}
		return t.insertNonfull(child, key, data)
	default:
		return xerrors.NewInvariant("btree: page of unknown type")
	}
}

// splitChild splits the child at n.Pointer(insertIdx) in half and wires
// the new sibling into n, returning (left, right) as loaded pages so the
// caller can keep descending into whichever one its key belongs to.
func (t *BTree) splitChild(n *page.InternalPage, insertIdx int) (page.Page, page.Page, error) {
	child, err := page.Load(n.Pointer(insertIdx), t.db)
	if err != nil {
		return nil, nil, err
	}
	switch left := child.(type) {
	case *page.LeafPage:
		right, err := left.SplitInHalf()
		if err != nil {
			return nil, nil, err
		}
		lastKey := left.Keys()[len(left.Keys())-1].Key
		if err := n.SafeInsert(insertIdx, lastKey, right.Offset()); err != nil {
			return nil, nil, err
		}
		return left, right, nil
	case *page.InternalPage:
		right, separator, err := left.SplitInHalf()
		if err != nil {
			return nil, nil, err
		}
		if err := n.SafeInsert(insertIdx, separator, right.Offset()); err != nil {
			return nil, nil, err
		}
		return left, right, nil
	default:
		return nil, nil, xerrors.NewInvariant("btree: child page of unknown type")
	}
}

// Lookup returns the value stored under key, or ok=false if absent.
func (t *BTree) Lookup(key key128.Key128) ([]byte, bool, error) {
	p, err := page.Load(t.root, t.db)
	if err != nil {
		return nil, false, err
	}
	return t.search(p, key)
}

func (t *BTree) search(p page.Page, key key128.Key128) ([]byte, bool, error) {
	switch n := p.(type) {
	case *page.InternalPage:
		i := key128.LowerBound(n.Keys(), key)
		child, err := page.Load(n.Pointer(i), t.db)
		if err != nil {
			return nil, false, err
		}
		return t.search(child, key)
	case *page.LeafPage:
		return n.LookupValue(key)
	default:
		return nil, false, xerrors.NewInvariant("btree: page of unknown type")
	}
}

// Delete removes key from the tree, collapsing the root if it becomes an
// empty internal node (looped, since a collapse can itself lay bare
// another empty internal node above the one just removed).
func (t *BTree) Delete(key key128.Key128) error {
	root, err := page.Load(t.root, t.db)
	if err != nil {
		return err
	}
	switch n := root.(type) {
	case *page.LeafPage:
		_, err := n.DeleteValue(key)
		return err
	case *page.InternalPage:
		if err := n.DeleteValue(key); err != nil {
			return err
		}
		for len(n.Keys()) == 0 {
			t.root = n.Pointer(0)
			next, err := page.Load(t.root, t.db)
			if err != nil {
				return err
			}
			inner, ok := next.(*page.InternalPage)
			if !ok {
				break
			}
			n = inner
		}
		return nil
	default:
		return xerrors.NewInvariant("btree: page of unknown type")
	}
}
