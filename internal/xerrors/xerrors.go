// Package xerrors collects the typed error taxonomy used across nestdb's
// storage, page, and tree layers, so callers can branch on failure class
// with errors.As instead of string matching.
package xerrors

import "github.com/pkg/errors"

// IOError wraps a failure from the underlying block device: short reads,
// short writes, or an *os.File call returning an error.
type IOError struct {
	Op  string
	err error
}

func (e *IOError) Error() string {
	return errors.Wrap(e.err, "io: "+e.Op).Error()
}

func (e *IOError) Unwrap() error { return e.err }

// WrapIO builds an *IOError for the named operation, or returns nil if err
// is nil, so callers can write `return xerrors.WrapIO("read", err)` inline.
func WrapIO(op string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, err: err}
}

// FormatError reports that bytes read off disk don't match the on-disk
// layout this package expects: a bad tag byte, a header that doesn't round
// trip, a block_size_exp that isn't a sane power of two.
type FormatError struct {
	msg string
	err error
}

func (e *FormatError) Error() string {
	if e.err != nil {
		return errors.Wrap(e.err, e.msg).Error()
	}
	return e.msg
}

func (e *FormatError) Unwrap() error { return e.err }

// NewFormat builds a *FormatError describing msg, optionally wrapping a
// lower-level cause.
func NewFormat(msg string, cause error) error {
	return &FormatError{msg: msg, err: cause}
}

// CapacityError reports that a page cannot accommodate a value of the
// given size even after defragmentation - the value is simply too large
// for the configured block size.
type CapacityError struct {
	Requested int
	Available int
}

func (e *CapacityError) Error() string {
	return errors.Errorf("capacity exceeded: need %d bytes, have %d available", e.Requested, e.Available)
}

// NewCapacity builds a *CapacityError for a value of size requested against
// a page with available free bytes.
func NewCapacity(requested, available int) error {
	return &CapacityError{Requested: requested, Available: available}
}

// InvariantError reports that an internal structural invariant was found
// violated: a pointers/keys length mismatch, a negative free-space
// computation, a root collapse that left an empty non-leaf root. These
// should never surface in a correct build; they exist so a bug announces
// itself instead of silently corrupting the file.
type InvariantError struct {
	msg string
}

func (e *InvariantError) Error() string {
	return "invariant violated: " + e.msg
}

// NewInvariant builds an *InvariantError describing the violated
// invariant.
func NewInvariant(msg string) error {
	return &InvariantError{msg: msg}
}
