package page

import (
	"encoding/binary"

	"nestdb/internal/key128"
	"nestdb/internal/xerrors"
	"nestdb/pkg/storage"
)

// internalHeaderFixed is the tag byte plus the u64 key count.
const internalHeaderFixed = 1 + 8

const (
	keySize    = 16
	pointerSize = 8
)

// InternalPage is a B+-tree internal node: keys_len keys and keys_len+1
// child pointers, where pointers[i] covers all keys <= keys[i] under the
// "separator = max key of left subtree" convention used throughout this
// package.
type InternalPage struct {
	db       *storage.Database
	offset   uint64
	keys     []key128.Key128
	pointers []uint64
}

// Offset returns the page's absolute block offset.
func (p *InternalPage) Offset() uint64 { return p.offset }

// Keys returns the separator keys in order.
func (p *InternalPage) Keys() []key128.Key128 { return p.keys }

// Pointers returns the child block offsets, always len(Keys())+1 of them.
func (p *InternalPage) Pointers() []uint64 { return p.pointers }

// Key returns the i'th separator key.
func (p *InternalPage) Key(i int) key128.Key128 { return p.keys[i] }

// Pointer returns the i'th child pointer.
func (p *InternalPage) Pointer(i int) uint64 { return p.pointers[i] }

// maxChildrenCapacity solves pageSize == head + n*childSize + (n-1)*keySize
// for n, giving the largest fanout an internal page of this size can hold.
func maxChildrenCapacity(pageSize uint64) uint64 {
	return (pageSize + keySize - internalHeaderFixed) / (pointerSize + keySize)
}

// IsFull reports whether this node already holds the maximum number of
// children its page size allows.
func (p *InternalPage) IsFull(pageSize uint64) bool {
	return uint64(len(p.pointers)) >= maxChildrenCapacity(pageSize)
}

// CanAccommodate ignores dataLen (internal nodes don't store values) and
// reports whether the node has fanout to spare.
func (p *InternalPage) CanAccommodate(dataLen uint64, pageSize uint64) bool {
	return !p.IsFull(pageSize)
}

// InitInternalPage allocates a fresh internal page with a single child
// pointer and no separator keys yet.
func InitInternalPage(db *storage.Database, pointer uint64) (*InternalPage, error) {
	offset, err := db.AllocateBlock()
	if err != nil {
		return nil, err
	}
	p := &InternalPage{db: db, offset: offset, pointers: []uint64{pointer}}
	if err := p.persist(); err != nil {
		return nil, err
	}
	return p, nil
}

func readInternalPage(offset uint64, db *storage.Database) (*InternalPage, error) {
	fixed := make([]byte, internalHeaderFixed)
	if err := db.ReadAt(offset, fixed); err != nil {
		return nil, err
	}
	if fixed[0] != InternalTag {
		return nil, xerrors.NewFormat("internal: bad tag byte", nil)
	}
	count := binary.BigEndian.Uint64(fixed[1:9])

	body := make([]byte, count*keySize+(count+1)*pointerSize)
	if err := db.ReadAt(offset+internalHeaderFixed, body); err != nil {
		return nil, err
	}
	keys := make([]key128.Key128, 0, count)
	for i := uint64(0); i < count; i++ {
		base := i * keySize
		keys = append(keys, key128.FromBytes(body[base:base+16]))
	}
	pointers := make([]uint64, 0, count+1)
	ptrBase := count * keySize
	for i := uint64(0); i < count+1; i++ {
		base := ptrBase + i*pointerSize
		pointers = append(pointers, binary.BigEndian.Uint64(body[base:base+8]))
	}
	return &InternalPage{db: db, offset: offset, keys: keys, pointers: pointers}, nil
}

func (p *InternalPage) persist() error {
	if uint64(len(p.pointers)) > maxChildrenCapacity(p.db.BlockSize()) {
		return xerrors.NewInvariant("internal: pointers exceed page fanout capacity")
	}
	if len(p.pointers) != len(p.keys)+1 {
		return xerrors.NewInvariant("internal: pointers/keys length mismatch")
	}
	size := internalHeaderFixed + uint64(len(p.keys))*keySize + uint64(len(p.pointers))*pointerSize
	buf := make([]byte, size)
	buf[0] = InternalTag
	binary.BigEndian.PutUint64(buf[1:9], uint64(len(p.keys)))
	off := internalHeaderFixed
	for _, k := range p.keys {
		kb := k.Bytes()
		copy(buf[off:off+16], kb[:])
		off += 16
	}
	for _, ptr := range p.pointers {
		binary.BigEndian.PutUint64(buf[off:off+8], ptr)
		off += 8
	}
	return p.db.WriteAt(p.offset, buf)
}

func safeInsertKey(keys []key128.Key128, idx int, key key128.Key128) []key128.Key128 {
	keys = append(keys, key128.Key128{})
	copy(keys[idx+1:], keys[idx:])
	keys[idx] = key
	return keys
}

func safeInsertPointer(pointers []uint64, idx int, ptr uint64) []uint64 {
	pointers = append(pointers, 0)
	copy(pointers[idx+1:], pointers[idx:])
	pointers[idx] = ptr
	return pointers
}

// SafeInsert inserts key at index i and the new child pointer at i+1,
// then persists the page.
func (p *InternalPage) SafeInsert(i int, key key128.Key128, pointer uint64) error {
	p.keys = safeInsertKey(p.keys, i, key)
	p.pointers = safeInsertPointer(p.pointers, i+1, pointer)
	return p.persist()
}

// SafeRemove removes keys[i] and pointers[i+1], then persists the page.
func (p *InternalPage) SafeRemove(i int) error {
	p.keys = append(p.keys[:i], p.keys[i+1:]...)
	p.pointers = append(p.pointers[:i+1], p.pointers[i+2:]...)
	return p.persist()
}

// SplitInHalf moves the upper half of this node's keys and pointers into
// a newly allocated right sibling, popping the former boundary key off
// the left node as the separator that should be pushed up to the parent.
func (p *InternalPage) SplitInHalf() (*InternalPage, key128.Key128, error) {
	splitIdx := len(p.keys) / 2

	offset, err := p.db.AllocateBlock()
	if err != nil {
		return nil, key128.Key128{}, err
	}
	sibling := &InternalPage{
		db:       p.db,
		offset:   offset,
		keys:     append([]key128.Key128(nil), p.keys[splitIdx:]...),
		pointers: append([]uint64(nil), p.pointers[splitIdx:]...),
	}
	p.keys = p.keys[:splitIdx]
	p.pointers = p.pointers[:splitIdx]

	separator := p.keys[len(p.keys)-1]
	p.keys = p.keys[:len(p.keys)-1]

	if err := sibling.persist(); err != nil {
		return nil, key128.Key128{}, err
	}
	if err := p.persist(); err != nil {
		return nil, key128.Key128{}, err
	}
	return sibling, separator, nil
}

// DeleteValue removes key from the subtree rooted at this node, collapsing
// an emptied leaf or internal child in place. This is the one place the
// lazy, non-rebalancing deletion strategy lives: no merging or
// redistribution across siblings, only removal of now-empty nodes.
func (p *InternalPage) DeleteValue(key key128.Key128) error {
	i := key128.LowerBound(p.keys, key)
	child, err := Load(p.pointers[i], p.db)
	if err != nil {
		return err
	}
	switch c := child.(type) {
	case *LeafPage:
		if _, err := c.DeleteValue(key); err != nil {
			return err
		}
		if len(c.Keys()) == 0 {
			if i == 0 {
				p.keys = p.keys[1:]
				p.pointers = p.pointers[1:]
				return p.persist()
			}
			return p.SafeRemove(i - 1)
		}
		return nil
	case *InternalPage:
		if err := c.DeleteValue(key); err != nil {
			return err
		}
		if len(c.Keys()) == 0 {
			p.pointers[i] = c.Pointer(0)
			return p.persist()
		}
		return nil
	default:
		return xerrors.NewInvariant("internal: child page of unknown type")
	}
}
