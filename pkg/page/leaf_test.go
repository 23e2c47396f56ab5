package page

import (
	"errors"
	"testing"

	"nestdb/internal/key128"
	"nestdb/internal/xerrors"
	"nestdb/pkg/storage"
)

func newTestDB(t *testing.T) *storage.Database {
	t.Helper()
	db, err := storage.Initialize(storage.NewMemDisk())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return db
}

func TestLeafPageUpsertAndLookup(t *testing.T) {
	db := newTestDB(t)
	leaf, err := InitLeafPage(db)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	for i := uint64(0); i < 5; i++ {
		if err := leaf.UpsertValue(key128.FromUint64(i), []byte{0, 1, 2, 3}); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}
	for i := uint64(2); i < 4; i++ {
		got, ok, err := leaf.LookupValue(key128.FromUint64(i))
		if err != nil || !ok {
			t.Fatalf("lookup %d: ok=%v err=%v", i, ok, err)
		}
		if string(got) != string([]byte{0, 1, 2, 3}) {
			t.Fatalf("value mismatch for %d: %v", i, got)
		}
	}
	for i := uint64(3); i < 5; i++ {
		found, err := leaf.DeleteValue(key128.FromUint64(i))
		if err != nil || !found {
			t.Fatalf("delete %d: found=%v err=%v", i, found, err)
		}
	}
}

func TestLeafPageUpsertReplacesValue(t *testing.T) {
	db := newTestDB(t)
	leaf, err := InitLeafPage(db)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	k := key128.FromUint64(0)
	if err := leaf.UpsertValue(k, []byte{0, 1, 2, 3}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := leaf.UpsertValue(k, []byte{1, 2}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, ok, err := leaf.LookupValue(k)
	if err != nil || !ok {
		t.Fatalf("lookup: ok=%v err=%v", ok, err)
	}
	if string(got) != string([]byte{1, 2}) {
		t.Fatalf("expected replaced value, got %v", got)
	}

	if err := leaf.UpsertValue(k, []byte{2, 3, 4, 5}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, ok, err = leaf.LookupValue(k)
	if err != nil || !ok {
		t.Fatalf("lookup: ok=%v err=%v", ok, err)
	}
	if string(got) != string([]byte{2, 3, 4, 5}) {
		t.Fatalf("expected second replaced value, got %v", got)
	}
}

func TestLeafPageSplitInHalf(t *testing.T) {
	db := newTestDB(t)
	leaf, err := InitLeafPage(db)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	for i := uint64(0); i < 100; i++ {
		if err := leaf.UpsertValue(key128.FromUint64(i), []byte{0, 1, 2, 3}); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}
	sibling, err := leaf.SplitInHalf()
	if err != nil {
		t.Fatalf("split: %v", err)
	}

	reread, err := readLeafPage(leaf.Offset(), db)
	if err != nil {
		t.Fatalf("reread left: %v", err)
	}
	if len(reread.Keys()) != 50 {
		t.Fatalf("expected 50 keys left, got %d", len(reread.Keys()))
	}

	rereadSibling, err := readLeafPage(sibling.Offset(), db)
	if err != nil {
		t.Fatalf("reread right: %v", err)
	}
	if len(rereadSibling.Keys()) != 50 {
		t.Fatalf("expected 50 keys right, got %d", len(rereadSibling.Keys()))
	}
}

// TestLeafPageDefragmentReclaimsDeletedSpace fills a leaf to its real
// on-disk capacity (so the contiguous gap between the slot directory and
// the value region is down to a handful of bytes), deletes a block of
// its earliest entries, and then inserts enough fresh data that the gap
// left by plain header shrinkage can't possibly cover it. The deleted
// entries' value bytes sit behind the surviving frontier entry, so the
// only way the fresh inserts succeed is through upsertValue falling back
// to defragment() to repack the page.
func TestLeafPageDefragmentReclaimsDeletedSpace(t *testing.T) {
	db := newTestDB(t)
	leaf, err := InitLeafPage(db)
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	value := make([]byte, 40)
	for i := range value {
		value[i] = byte(i)
	}

	var filled uint64
	for {
		if err := leaf.UpsertValue(key128.FromUint64(filled), value); err != nil {
			var capErr *xerrors.CapacityError
			if errors.As(err, &capErr) {
				break
			}
			t.Fatalf("upsert %d: %v", filled, err)
		}
		filled++
	}
	if filled < 60 {
		t.Fatalf("expected the page to hold at least 60 entries before filling up, got %d", filled)
	}

	const deleted = 30
	for i := uint64(0); i < deleted; i++ {
		if _, err := leaf.DeleteValue(key128.FromUint64(i)); err != nil {
			t.Fatalf("delete %d: %v", i, err)
		}
	}

	// These 25 deleted-entries'-worth of bytes are trapped behind the
	// surviving frontier entry; the header shrinkage from deleting 30
	// slots alone can't make room for 25 more 40-byte values, so this
	// loop can only succeed by forcing upsertValue through defragment().
	for i := filled; i < filled+25; i++ {
		if err := leaf.UpsertValue(key128.FromUint64(i), value); err != nil {
			t.Fatalf("upsert fresh %d: %v", i, err)
		}
	}

	wantCount := int(filled-deleted) + 25
	if got := len(leaf.Keys()); got != wantCount {
		t.Fatalf("expected %d live entries after defragment, got %d", wantCount, got)
	}

	for i := uint64(deleted); i < filled; i++ {
		got, ok, err := leaf.LookupValue(key128.FromUint64(i))
		if err != nil || !ok {
			t.Fatalf("lookup surviving original %d: ok=%v err=%v", i, ok, err)
		}
		if string(got) != string(value) {
			t.Fatalf("value mismatch for surviving original %d", i)
		}
	}
	for i := filled; i < filled+25; i++ {
		got, ok, err := leaf.LookupValue(key128.FromUint64(i))
		if err != nil || !ok {
			t.Fatalf("lookup fresh %d: ok=%v err=%v", i, ok, err)
		}
		if string(got) != string(value) {
			t.Fatalf("value mismatch for fresh %d", i)
		}
	}

	reloaded, err := readLeafPage(leaf.Offset(), db)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(reloaded.Keys()) != wantCount {
		t.Fatalf("expected %d keys after reopen, got %d", wantCount, len(reloaded.Keys()))
	}
	for i := uint64(deleted); i < filled; i++ {
		got, ok, err := reloaded.LookupValue(key128.FromUint64(i))
		if err != nil || !ok {
			t.Fatalf("reopened lookup %d: ok=%v err=%v", i, ok, err)
		}
		if string(got) != string(value) {
			t.Fatalf("reopened value mismatch for %d", i)
		}
	}
}

func TestLeafPageSplitKeepsExtraOnLeftForOddCount(t *testing.T) {
	db := newTestDB(t)
	leaf, err := InitLeafPage(db)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	for i := uint64(0); i < 101; i++ {
		if err := leaf.UpsertValue(key128.FromUint64(i), []byte{0, 1, 2, 3}); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}
	sibling, err := leaf.SplitInHalf()
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(leaf.Keys()) != 51 {
		t.Fatalf("expected 51 keys on the left, got %d", len(leaf.Keys()))
	}
	if len(sibling.Keys()) != 50 {
		t.Fatalf("expected 50 keys on the right, got %d", len(sibling.Keys()))
	}
}

func TestLeafPagePersistsAcrossReload(t *testing.T) {
	db := newTestDB(t)
	leaf, err := InitLeafPage(db)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	k := key128.FromUint64(42)
	if err := leaf.UpsertValue(k, []byte("hello")); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	loaded, err := Load(leaf.Offset(), db)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	reloadedLeaf, ok := loaded.(*LeafPage)
	if !ok {
		t.Fatalf("expected *LeafPage, got %T", loaded)
	}
	got, ok, err := reloadedLeaf.LookupValue(k)
	if err != nil || !ok {
		t.Fatalf("lookup after reload: ok=%v err=%v", ok, err)
	}
	if string(got) != "hello" {
		t.Fatalf("value mismatch after reload: %q", got)
	}
}
