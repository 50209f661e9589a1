package bolt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/haukened/callguard/internal/guard/domain"
	"github.com/haukened/callguard/internal/guard/repos/blocklist"
)

func tempDB(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "bl.db")
}

func openStore(t *testing.T) blocklist.Store {
	t.Helper()
	dbPath := tempDB(t)
	st, err := New(dbPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = st.Close(); _ = os.Remove(dbPath) })
	return st
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestBoltStore_UpsertGetAndRename(t *testing.T) {
	st := openStore(t)

	if _, ok, err := st.Get("+15551234567"); err != nil || ok {
		t.Fatalf("expected empty miss, got ok=%v err=%v", ok, err)
	}

	e, created, err := st.Upsert("+15551234567", "Spam", t0)
	if err != nil || !created {
		t.Fatalf("Upsert: created=%v err=%v", created, err)
	}
	if e.Row != 1 || e.DisplayName != "Spam" || !e.DateAdded.Equal(t0) {
		t.Fatalf("unexpected entry: %+v", e)
	}

	// second upsert keeps DateAdded and row, updates name
	e2, created, err := st.Upsert("+15551234567", "Telemarketer", t0.Add(time.Hour))
	if err != nil || created {
		t.Fatalf("second Upsert: created=%v err=%v", created, err)
	}
	if e2.Row != e.Row || !e2.DateAdded.Equal(t0) || e2.DisplayName != "Telemarketer" {
		t.Fatalf("unexpected entry after rename: %+v", e2)
	}

	// empty name leaves the existing one alone
	e3, _, err := st.Upsert("+15551234567", "", t0)
	if err != nil || e3.DisplayName != "Telemarketer" {
		t.Fatalf("empty rename: %+v err=%v", e3, err)
	}

	got, ok, err := st.Get("+15551234567")
	if err != nil || !ok || got != e3 {
		t.Fatalf("Get: got=%+v ok=%v err=%v", got, ok, err)
	}
}

func TestBoltStore_InsertDuplicate(t *testing.T) {
	st := openStore(t)

	if _, err := st.Insert("12345", "", t0); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	_, err := st.Insert("12345", "again", t0)
	if !errors.Is(err, domain.ErrDuplicateIdentifier) {
		t.Fatalf("expected ErrDuplicateIdentifier, got %v", err)
	}
	if errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("duplicate must not be reported as store failure: %v", err)
	}
	if n := st.Stats().Entries; n != 1 {
		t.Fatalf("expected 1 entry, got %d", n)
	}
}

func TestBoltStore_RowAddressing(t *testing.T) {
	st := openStore(t)

	a, _ := st.Insert("111", "a", t0)
	b, _ := st.Insert("222", "b", t0)
	if a.Row != 1 || b.Row != 2 {
		t.Fatalf("rows: a=%d b=%d", a.Row, b.Row)
	}

	got, ok, err := st.GetRow(b.Row)
	if err != nil || !ok || got.Identifier != "222" {
		t.Fatalf("GetRow: %+v ok=%v err=%v", got, ok, err)
	}
	if _, ok, _ := st.GetRow(99); ok {
		t.Fatalf("expected miss for unknown row")
	}

	renamed, err := st.RenameRow(a.Row, "renamed")
	if err != nil || renamed.DisplayName != "renamed" || renamed.Identifier != "111" {
		t.Fatalf("RenameRow: %+v err=%v", renamed, err)
	}
	if _, err := st.RenameRow(99, "x"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	del, existed, err := st.DeleteRow(a.Row)
	if err != nil || !existed || del.Identifier != "111" {
		t.Fatalf("DeleteRow: %+v existed=%v err=%v", del, existed, err)
	}
	if _, ok, _ := st.Get("111"); ok {
		t.Fatalf("expected identifier gone after DeleteRow")
	}
	if _, existed, err := st.DeleteRow(a.Row); err != nil || existed {
		t.Fatalf("second DeleteRow: existed=%v err=%v", existed, err)
	}

	// rows are never reused
	c, _ := st.Insert("333", "", t0)
	if c.Row != 3 {
		t.Fatalf("expected row 3, got %d", c.Row)
	}
	if last := st.Stats().LastRow; last != 3 {
		t.Fatalf("LastRow=%d", last)
	}
}

func TestBoltStore_DeleteAndList(t *testing.T) {
	st := openStore(t)

	for _, id := range []string{"300", "100", "200"} {
		if _, _, err := st.Upsert(id, "", t0); err != nil {
			t.Fatalf("Upsert %s: %v", id, err)
		}
	}
	list, err := st.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var ids []string
	for _, e := range list {
		ids = append(ids, e.Identifier)
	}
	if fmt.Sprint(ids) != "[300 100 200]" {
		t.Fatalf("expected insertion order, got %v", ids)
	}

	e, existed, err := st.Delete("100")
	if err != nil || !existed || e.Identifier != "100" {
		t.Fatalf("Delete: %+v existed=%v err=%v", e, existed, err)
	}
	if _, existed, err := st.Delete("100"); err != nil || existed {
		t.Fatalf("Delete absent: existed=%v err=%v", existed, err)
	}
	if _, ok, _ := st.GetRow(e.Row); ok {
		t.Fatalf("row index not cleaned up")
	}
	if n := st.Stats().Entries; n != 2 {
		t.Fatalf("expected 2 entries, got %d", n)
	}
	if st.Stats().UpdatedUnix == 0 {
		t.Fatalf("expected updated timestamp")
	}
}

func TestBoltStore_Increment(t *testing.T) {
	st := openStore(t)

	if _, ok, err := st.Increment("404", blocklist.CounterCalls); err != nil || ok {
		t.Fatalf("increment absent: ok=%v err=%v", ok, err)
	}

	_, _, _ = st.Upsert("555", "", t0)
	_, _, _ = st.Increment("555", blocklist.CounterCalls)
	e, ok, err := st.Increment("555", blocklist.CounterMessages)
	if err != nil || !ok {
		t.Fatalf("Increment: ok=%v err=%v", ok, err)
	}
	if e.BlockedCalls != 1 || e.BlockedMessages != 1 {
		t.Fatalf("counters: %+v", e)
	}
}

func TestBoltStore_ConcurrentIncrements(t *testing.T) {
	st := openStore(t)
	_, _, _ = st.Upsert("555", "", t0)

	const workers, each = 8, 25
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < each; j++ {
				if _, _, err := st.Increment("555", blocklist.CounterCalls); err != nil {
					t.Errorf("Increment: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	e, _, _ := st.Get("555")
	if e.BlockedCalls != workers*each {
		t.Fatalf("expected %d, got %d", workers*each, e.BlockedCalls)
	}
}

func TestBoltStore_CorruptRecord(t *testing.T) {
	st := openStore(t)
	bs := st.(*boltStore)

	if err := bs.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEntries).Put([]byte("999"), []byte("{not json"))
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, _, err := st.Get("999"); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

type fakeBucketCreator struct{ errs map[string]error }

func (f fakeBucketCreator) CreateBucketIfNotExists(name []byte) (*bbolt.Bucket, error) {
	if err := f.errs[string(name)]; err != nil {
		return nil, err
	}
	return nil, nil
}

type assertErr struct{}

func (assertErr) Error() string { return "assert error" }

// Test the error paths for bucket creation by temporarily replacing ensureBucketsFn.
func TestNew_EnsureBucketsErrors(t *testing.T) {
	cases := []struct {
		name string
		fail string
	}{
		{name: "entries bucket fails", fail: string(bucketEntries)},
		{name: "rows bucket fails", fail: string(bucketRows)},
		{name: "meta bucket fails", fail: string(bucketMeta)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			old := ensureBucketsFn
			ensureBucketsFn = func(tx bucketCreator) error {
				fb := fakeBucketCreator{errs: map[string]error{tc.fail: assertErr{}}}
				return ensureBuckets(fb)
			}
			defer func() { ensureBucketsFn = old }()

			dbPath := tempDB(t)
			st, err := New(dbPath)
			if err == nil || st != nil {
				t.Fatalf("expected error from New when %s fails", tc.fail)
			}
			if !errors.Is(err, domain.ErrStoreUnavailable) {
				t.Fatalf("expected ErrStoreUnavailable, got %v", err)
			}
			_ = os.Remove(dbPath)
		})
	}
}

// Ensure New returns an error when the DB file cannot be opened (non-existent parent dir).
func TestNew_OpenError(t *testing.T) {
	base := t.TempDir()
	badPath := filepath.Join(base, "no-such-dir", "bl.db")
	st, err := New(badPath)
	if err == nil || st != nil {
		t.Fatalf("expected New to fail when parent directory does not exist")
	}
}

func TestNew_ReopenKeepsEntries(t *testing.T) {
	dbPath := tempDB(t)
	st, err := New(dbPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, _ = st.Insert("+4917612345678", "kept", t0)
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st, err = New(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	e, ok, err := st.Get("+4917612345678")
	if err != nil || !ok || e.DisplayName != "kept" {
		t.Fatalf("after reopen: %+v ok=%v err=%v", e, ok, err)
	}
}
