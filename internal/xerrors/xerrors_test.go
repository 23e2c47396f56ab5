package xerrors

import (
	"errors"
	"testing"
)

func TestWrapIONil(t *testing.T) {
	if WrapIO("read", nil) != nil {
		t.Fatalf("expected nil for nil cause")
	}
}

func TestIOErrorUnwrap(t *testing.T) {
	cause := errors.New("disk yanked")
	err := WrapIO("read", cause)

	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("expected *IOError, got %T", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected Unwrap chain to reach cause")
	}
}

func TestCapacityError(t *testing.T) {
	err := NewCapacity(100, 40)
	var capErr *CapacityError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected *CapacityError, got %T", err)
	}
	if capErr.Requested != 100 || capErr.Available != 40 {
		t.Fatalf("unexpected fields: %+v", capErr)
	}
}

func TestInvariantError(t *testing.T) {
	err := NewInvariant("pointers/keys length mismatch")
	var invErr *InvariantError
	if !errors.As(err, &invErr) {
		t.Fatalf("expected *InvariantError, got %T", err)
	}
}
