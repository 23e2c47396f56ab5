// Package page implements the on-disk page codec: the leaf and internal
// node layouts that sit directly on top of the block allocator in
// pkg/storage, below the B+-tree traversal logic in pkg/btree.
package page

import (
	"nestdb/internal/xerrors"
	"nestdb/pkg/storage"
)

// Tag byte values identifying a page's kind, written as the first byte of
// every block.
const (
	LeafTag     byte = 0x01
	InternalTag byte = 0x02
)

// Page is either a *LeafPage or an *InternalPage, loaded off a known
// block offset.
type Page interface {
	Offset() uint64
	// CanAccommodate reports whether a value of dataLen bytes could be
	// inserted (leaf) or whether this node still has spare fanout
	// (internal, where dataLen is ignored).
	CanAccommodate(dataLen uint64, pageSize uint64) bool
}

// Load reads the tag byte at offset and dispatches to the matching
// decoder.
func Load(offset uint64, db *storage.Database) (Page, error) {
	var tagBuf [1]byte
	if err := db.ReadAt(offset, tagBuf[:]); err != nil {
		return nil, err
	}
	switch tagBuf[0] {
	case LeafTag:
		return readLeafPage(offset, db)
	case InternalTag:
		return readInternalPage(offset, db)
	default:
		return nil, xerrors.NewFormat("page: unknown tag byte", nil)
	}
}
