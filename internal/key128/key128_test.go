package key128

import "testing"

func TestRoundTrip(t *testing.T) {
	k := Key128{Hi: 0x0102030405060708, Lo: 0x090a0b0c0d0e0f10}
	b := k.Bytes()
	got := FromBytes(b[:])
	if !got.Equal(k) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, k)
	}
}

func TestLess(t *testing.T) {
	a := FromUint64(1)
	b := FromUint64(2)
	if !a.Less(b) {
		t.Fatalf("expected %v < %v", a, b)
	}
	if b.Less(a) {
		t.Fatalf("did not expect %v < %v", b, a)
	}
	hi := Key128{Hi: 1, Lo: 0}
	if !b.Less(hi) {
		t.Fatalf("expected low u64 to order before any nonzero high half")
	}
}

func TestLowerBound(t *testing.T) {
	keys := []Key128{FromUint64(10), FromUint64(20), FromUint64(30)}
	cases := []struct {
		target Key128
		want   int
	}{
		{FromUint64(5), 0},
		{FromUint64(10), 0},
		{FromUint64(15), 1},
		{FromUint64(30), 2},
		{FromUint64(31), 3},
	}
	for _, c := range cases {
		if got := LowerBound(keys, c.target); got != c.want {
			t.Fatalf("LowerBound(%v) = %d, want %d", c.target, got, c.want)
		}
	}
}
