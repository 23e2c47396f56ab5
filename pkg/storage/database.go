package storage

import (
	"encoding/binary"

	"github.com/rs/zerolog"

	"nestdb/internal/xerrors"
	"nestdb/internal/xlog"
)

// headerSize is the fixed size of block 0: three u64 BE fields.
const headerSize = 24

// defaultBlockSizeExp gives an 8192-byte block, matching the original
// engine's default.
const defaultBlockSizeExp = 13

// header is the persistent file header occupying block 0.
type header struct {
	blockSizeExp       uint64
	numBlocksAllocated uint64
	rootBTreeOffset    uint64
}

func (h *header) blockSize() uint64 {
	return 1 << h.blockSizeExp
}

func (h *header) encode() []byte {
	buf := make([]byte, headerSize)
	binary.BigEndian.PutUint64(buf[0:8], h.blockSizeExp)
	binary.BigEndian.PutUint64(buf[8:16], h.numBlocksAllocated)
	binary.BigEndian.PutUint64(buf[16:24], h.rootBTreeOffset)
	return buf
}

func decodeHeader(buf []byte) (*header, error) {
	if len(buf) < headerSize {
		return nil, xerrors.NewFormat("header: short read", nil)
	}
	h := &header{
		blockSizeExp:       binary.BigEndian.Uint64(buf[0:8]),
		numBlocksAllocated: binary.BigEndian.Uint64(buf[8:16]),
		rootBTreeOffset:    binary.BigEndian.Uint64(buf[16:24]),
	}
	if h.blockSizeExp == 0 || h.blockSizeExp > 32 {
		return nil, xerrors.NewFormat("header: implausible block_size_exp", nil)
	}
	return h, nil
}

// Database owns the block device, the file header, and monotonic block
// allocation. It never frees or relocates a block once handed out.
type Database struct {
	disk Disk
	meta *header
	log  zerolog.Logger
}

// Option configures a Database at construction time.
type Option func(*Database)

// WithLogger overrides the default no-op logger.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Database) { d.log = l }
}

// Initialize formats a fresh disk with a new header and returns the
// resulting Database. The root tree is not allocated yet: that happens
// lazily on first Root() call, mirroring the original engine.
func Initialize(disk Disk, opts ...Option) (*Database, error) {
	db := &Database{
		disk: disk,
		log:  xlog.Nop(),
	}
	for _, opt := range opts {
		opt(db)
	}
	db.meta = &header{
		blockSizeExp:       defaultBlockSizeExp,
		numBlocksAllocated: 1,
		rootBTreeOffset:    0,
	}
	if err := db.persistHeader(); err != nil {
		return nil, err
	}
	db.log.Debug().Uint64("block_size", db.meta.blockSize()).Msg("initialized new database")
	return db, nil
}

// OpenExisting reads the header off an already-formatted disk.
func OpenExisting(disk Disk, opts ...Option) (*Database, error) {
	db := &Database{
		disk: disk,
		log:  xlog.Nop(),
	}
	for _, opt := range opts {
		opt(db)
	}
	buf := make([]byte, headerSize)
	n, err := disk.ReadAt(buf, 0)
	if err != nil && n < headerSize {
		return nil, xerrors.WrapIO("read header", err)
	}
	meta, err := decodeHeader(buf)
	if err != nil {
		return nil, err
	}
	db.meta = meta
	db.log.Debug().Uint64("root_offset", meta.rootBTreeOffset).Msg("opened existing database")
	return db, nil
}

func (db *Database) persistHeader() error {
	_, err := db.disk.WriteAt(db.meta.encode(), 0)
	return xerrors.WrapIO("write header", err)
}

// BlockSize returns the configured block size in bytes.
func (db *Database) BlockSize() uint64 {
	return db.meta.blockSize()
}

// Logger returns the logger this database was constructed with, so page
// and tree code can share it instead of building their own.
func (db *Database) Logger() zerolog.Logger {
	return db.log
}

// AllocateBlock hands out the next never-before-used block offset and
// persists the bumped counter immediately, so a crash right after
// allocation never reuses an offset.
func (db *Database) AllocateBlock() (uint64, error) {
	offset := db.meta.blockSize() * db.meta.numBlocksAllocated
	db.meta.numBlocksAllocated++
	if err := db.persistHeader(); err != nil {
		db.meta.numBlocksAllocated--
		return 0, err
	}
	db.log.Debug().Uint64("offset", offset).Msg("allocated block")
	return offset, nil
}

// WriteAt writes data at the given absolute file offset.
func (db *Database) WriteAt(offset uint64, data []byte) error {
	_, err := db.disk.WriteAt(data, int64(offset))
	return xerrors.WrapIO("write", err)
}

// ReadAt reads len(buf) bytes starting at the given absolute file offset.
func (db *Database) ReadAt(offset uint64, buf []byte) error {
	n, err := db.disk.ReadAt(buf, int64(offset))
	if err != nil && n < len(buf) {
		return xerrors.WrapIO("read", err)
	}
	return nil
}

// RootOffset returns the current root B+-tree block offset, or 0 if no
// tree has been allocated yet.
func (db *Database) RootOffset() uint64 {
	return db.meta.rootBTreeOffset
}

// SetRootOffset persists a new root offset, used the first time a tree
// is lazily allocated and whenever the root is collapsed or replaced.
func (db *Database) SetRootOffset(offset uint64) error {
	db.meta.rootBTreeOffset = offset
	return db.persistHeader()
}
