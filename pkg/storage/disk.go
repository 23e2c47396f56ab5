// Package storage owns the block device abstraction and the file header:
// the bottom two layers of the engine, below the page codec and the
// B+-tree itself.
package storage

import "io"

// Disk is the minimal surface Database needs from a backing store:
// reads and writes at absolute offsets. *os.File and the in-memory
// MemDisk both satisfy it without adaptation.
type Disk interface {
	io.ReaderAt
	io.WriterAt
}
