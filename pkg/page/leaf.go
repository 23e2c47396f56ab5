package page

import (
	"encoding/binary"
	"sort"

	"nestdb/internal/key128"
	"nestdb/internal/xerrors"
	"nestdb/pkg/storage"
)

// leafEntrySize is the width of one slot directory entry: a 16-byte key,
// an 8-byte data offset (relative to the page start), and an 8-byte value
// length.
const leafEntrySize = 16 + 8 + 8

// leafHeaderFixed is the tag byte plus the u64 key count that precede the
// slot directory.
const leafHeaderFixed = 1 + 8

// LeafEntry is one slot directory entry: the key, the byte offset of its
// value blob relative to the start of the page, and the value's length.
type LeafEntry struct {
	Key        key128.Key128
	DataOffset uint64
	ValueLen   uint64
}

// LeafPage is a B+-tree leaf node: a slot directory that grows forward
// from just after the header, and value blobs that grow backward from
// the tail of the page.
type LeafPage struct {
	db     *storage.Database
	offset uint64
	keys   []LeafEntry
}

// Offset returns the page's absolute block offset.
func (p *LeafPage) Offset() uint64 { return p.offset }

// Keys returns the slot directory in key order.
func (p *LeafPage) Keys() []LeafEntry { return p.keys }

func (p *LeafPage) headerLen() uint64 {
	return leafHeaderFixed + leafEntrySize*uint64(len(p.keys))
}

// CanAccommodate reports whether a value of dataLen bytes could be added
// to this leaf (ignoring whether defragmentation would be required to
// make the room contiguous).
func (p *LeafPage) CanAccommodate(dataLen uint64, pageSize uint64) bool {
	if len(p.keys) == 0 {
		return true
	}
	var spaceTakenUp uint64
	for _, e := range p.keys {
		spaceTakenUp += e.ValueLen
	}
	spaceForData := pageSize - p.headerLen()
	if spaceForData < spaceTakenUp {
		return false
	}
	available := spaceForData - spaceTakenUp
	return available >= dataLen+leafEntrySize
}

func initLeafPage(db *storage.Database) (*LeafPage, error) {
	pageSize := db.BlockSize()
	offset, err := db.AllocateBlock()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, pageSize)
	buf[0] = LeafTag
	if err := db.WriteAt(offset, buf); err != nil {
		return nil, err
	}
	return &LeafPage{db: db, offset: offset}, nil
}

// InitLeafPage allocates a fresh, empty leaf page.
func InitLeafPage(db *storage.Database) (*LeafPage, error) {
	return initLeafPage(db)
}

func readLeafPage(offset uint64, db *storage.Database) (*LeafPage, error) {
	fixed := make([]byte, leafHeaderFixed)
	if err := db.ReadAt(offset, fixed); err != nil {
		return nil, err
	}
	if fixed[0] != LeafTag {
		return nil, xerrors.NewFormat("leaf: bad tag byte", nil)
	}
	count := binary.BigEndian.Uint64(fixed[1:9])
	keys := make([]LeafEntry, 0, count)
	if count > 0 {
		body := make([]byte, leafEntrySize*count)
		if err := db.ReadAt(offset+leafHeaderFixed, body); err != nil {
			return nil, err
		}
		for i := uint64(0); i < count; i++ {
			base := i * leafEntrySize
			keys = append(keys, LeafEntry{
				Key:        key128.FromBytes(body[base : base+16]),
				DataOffset: binary.BigEndian.Uint64(body[base+16 : base+24]),
				ValueLen:   binary.BigEndian.Uint64(body[base+24 : base+32]),
			})
		}
	}
	return &LeafPage{db: db, offset: offset, keys: keys}, nil
}

// persistHeader rewrites the tag byte, the key count, and the full slot
// directory. Value blobs are untouched: only quickInsert and defragment
// move those.
func (p *LeafPage) persistHeader() error {
	buf := make([]byte, p.headerLen())
	buf[0] = LeafTag
	binary.BigEndian.PutUint64(buf[1:9], uint64(len(p.keys)))
	for i, e := range p.keys {
		base := leafHeaderFixed + uint64(i)*leafEntrySize
		kb := e.Key.Bytes()
		copy(buf[base:base+16], kb[:])
		binary.BigEndian.PutUint64(buf[base+16:base+24], e.DataOffset)
		binary.BigEndian.PutUint64(buf[base+24:base+32], e.ValueLen)
	}
	return p.db.WriteAt(p.offset, buf)
}

func (p *LeafPage) find(key key128.Key128) (int, bool) {
	for i, e := range p.keys {
		if e.Key.Equal(key) {
			return i, true
		}
	}
	return 0, false
}

// LookupValue returns the stored value for key, or ok=false if absent.
func (p *LeafPage) LookupValue(key key128.Key128) ([]byte, bool, error) {
	idx, ok := p.find(key)
	if !ok {
		return nil, false, nil
	}
	entry := p.keys[idx]
	data := make([]byte, entry.ValueLen)
	if err := p.db.ReadAt(p.offset+entry.DataOffset, data); err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// DeleteValue removes key's slot if present, returning whether it was
// found. The freed value bytes are reclaimed on the next defragment, not
// immediately.
func (p *LeafPage) DeleteValue(key key128.Key128) (bool, error) {
	if len(p.keys) == 0 {
		return false, nil
	}
	idx, ok := p.find(key)
	if !ok {
		return false, nil
	}
	p.keys = append(p.keys[:idx], p.keys[idx+1:]...)
	if err := p.persistHeader(); err != nil {
		return false, err
	}
	return true, nil
}

func (p *LeafPage) minDataOffset(pageSize uint64) uint64 {
	min := pageSize
	for _, e := range p.keys {
		if e.DataOffset < min {
			min = e.DataOffset
		}
	}
	return min
}

func (p *LeafPage) quickInsert(key key128.Key128, data []byte, endOffset uint64) error {
	entry := LeafEntry{
		Key:        key,
		DataOffset: endOffset - uint64(len(data)),
		ValueLen:   uint64(len(data)),
	}
	if err := p.db.WriteAt(p.offset+entry.DataOffset, data); err != nil {
		return err
	}
	idx := sort.Search(len(p.keys), func(i int) bool {
		return !p.keys[i].Key.Less(key)
	})
	p.keys = append(p.keys, LeafEntry{})
	copy(p.keys[idx+1:], p.keys[idx:])
	p.keys[idx] = entry
	return p.persistHeader()
}

func (p *LeafPage) defragment() error {
	type pair struct {
		key   key128.Key128
		value []byte
	}
	pairs := make([]pair, 0, len(p.keys))
	for _, e := range p.keys {
		value, ok, err := p.LookupValue(e.Key)
		if err != nil {
			return err
		}
		if !ok {
			return xerrors.NewInvariant("defragment: slot directory entry with no value")
		}
		pairs = append(pairs, pair{e.Key, value})
	}
	p.keys = p.keys[:0]
	for _, pr := range pairs {
		if err := p.UpsertValue(pr.key, pr.value); err != nil {
			return err
		}
	}
	return nil
}

// UpsertValue inserts or replaces the value stored under key, growing the
// slot directory forward and the value region backward, defragmenting
// first if the remaining space isn't contiguous.
func (p *LeafPage) UpsertValue(key key128.Key128, data []byte) error {
	if _, ok := p.find(key); ok {
		if _, err := p.DeleteValue(key); err != nil {
			return err
		}
		return p.UpsertValue(key, data)
	}

	pageSize := p.db.BlockSize()
	if !p.CanAccommodate(uint64(len(data)), pageSize) {
		var used uint64
		for _, e := range p.keys {
			used += e.ValueLen
		}
		return xerrors.NewCapacity(len(data)+leafEntrySize, int(pageSize)-int(p.headerLen())-int(used))
	}

	endOffset := p.minDataOffset(pageSize)
	startOffset := p.headerLen() + leafEntrySize
	if startOffset > endOffset || endOffset-startOffset < uint64(len(data)) {
		if err := p.defragment(); err != nil {
			return err
		}
		return p.UpsertValue(key, data)
	}
	return p.quickInsert(key, data, endOffset)
}

// SplitInHalf moves the upper half of this leaf's entries into a newly
// allocated right sibling, returning it. An odd entry count keeps its
// extra slot on the left.
func (p *LeafPage) SplitInHalf() (*LeafPage, error) {
	splitIdx := (len(p.keys) + 1) / 2
	sibling, err := initLeafPage(p.db)
	if err != nil {
		return nil, err
	}
	moving := append([]LeafEntry(nil), p.keys[splitIdx:]...)
	for _, e := range moving {
		value, ok, err := p.LookupValue(e.Key)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, xerrors.NewInvariant("split: slot directory entry with no value")
		}
		if err := sibling.UpsertValue(e.Key, value); err != nil {
			return nil, err
		}
	}
	p.keys = p.keys[:splitIdx]
	if err := p.persistHeader(); err != nil {
		return nil, err
	}
	return sibling, nil
}
