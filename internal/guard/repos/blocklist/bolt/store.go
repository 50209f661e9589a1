package bolt

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/haukened/callguard/internal/guard/domain"
	"github.com/haukened/callguard/internal/guard/repos/blocklist"
)

var (
	bucketEntries = []byte("entries")
	bucketRows    = []byte("rows")
	bucketMeta    = []byte("meta")

	metaUpdated = []byte("updated")
)

// bucketCreator is the subset of *bbolt.Tx used to create buckets.
type bucketCreator interface {
	CreateBucketIfNotExists(name []byte) (*bbolt.Bucket, error)
}

func ensureBuckets(tx bucketCreator) error {
	for _, name := range [][]byte{bucketEntries, bucketRows, bucketMeta} {
		if _, err := tx.CreateBucketIfNotExists(name); err != nil {
			return fmt.Errorf("create bucket %s: %w", name, err)
		}
	}
	return nil
}

// ensureBucketsFn is swapped in tests to exercise bucket creation failures.
var ensureBucketsFn = func(tx bucketCreator) error { return ensureBuckets(tx) }

// record is the persisted value in the entries bucket.
type record struct {
	Row             uint64    `json:"row"`
	DisplayName     string    `json:"name,omitempty"`
	DateAdded       time.Time `json:"date_added"`
	BlockedCalls    uint64    `json:"blocked_calls"`
	BlockedMessages uint64    `json:"blocked_messages"`
}

func (r record) entry(id string) domain.BlockedEntry {
	return domain.BlockedEntry{
		Row:             r.Row,
		Identifier:      id,
		DisplayName:     r.DisplayName,
		DateAdded:       r.DateAdded,
		BlockedCalls:    r.BlockedCalls,
		BlockedMessages: r.BlockedMessages,
	}
}

// boltStore implements blocklist.Store using bbolt.
//
// entries maps identifier → JSON record; rows maps big-endian row id →
// identifier so the row-addressed surface and insertion order share one index.
// Row ids come from the rows bucket sequence and are never reused.
type boltStore struct {
	db *bbolt.DB
}

// New opens (or creates) a Bolt database at path and ensures buckets exist.
func New(path string) (blocklist.Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, unavailable(err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error { return ensureBucketsFn(tx) }); err != nil {
		_ = db.Close()
		return nil, unavailable(err)
	}
	return &boltStore{db: db}, nil
}

func (s *boltStore) Close() error { return s.db.Close() }

func (s *boltStore) Get(id string) (domain.BlockedEntry, bool, error) {
	var (
		e     domain.BlockedEntry
		found bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		rec, ok, err := readRecord(tx.Bucket(bucketEntries), id)
		if err != nil || !ok {
			return err
		}
		e, found = rec.entry(id), true
		return nil
	})
	if err != nil {
		return domain.BlockedEntry{}, false, unavailable(err)
	}
	return e, found, nil
}

func (s *boltStore) GetRow(row uint64) (domain.BlockedEntry, bool, error) {
	var (
		e     domain.BlockedEntry
		found bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketRows).Get(rowKey(row))
		if id == nil {
			return nil
		}
		rec, ok, err := readRecord(tx.Bucket(bucketEntries), string(id))
		if err != nil || !ok {
			return err
		}
		e, found = rec.entry(string(id)), true
		return nil
	})
	if err != nil {
		return domain.BlockedEntry{}, false, unavailable(err)
	}
	return e, found, nil
}

func (s *boltStore) Upsert(id, name string, now time.Time) (domain.BlockedEntry, bool, error) {
	var (
		e       domain.BlockedEntry
		created bool
	)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		entries := tx.Bucket(bucketEntries)
		rec, ok, err := readRecord(entries, id)
		if err != nil {
			return err
		}
		if ok {
			if name != "" {
				rec.DisplayName = name
			}
		} else {
			rec, err = newRecord(tx, name, now)
			if err != nil {
				return err
			}
			if err := tx.Bucket(bucketRows).Put(rowKey(rec.Row), []byte(id)); err != nil {
				return err
			}
			created = true
		}
		if err := writeRecord(entries, id, rec); err != nil {
			return err
		}
		e = rec.entry(id)
		return touch(tx, now)
	})
	if err != nil {
		return domain.BlockedEntry{}, false, unavailable(err)
	}
	return e, created, nil
}

func (s *boltStore) Insert(id, name string, now time.Time) (domain.BlockedEntry, error) {
	var e domain.BlockedEntry
	err := s.db.Update(func(tx *bbolt.Tx) error {
		entries := tx.Bucket(bucketEntries)
		if entries.Get([]byte(id)) != nil {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateIdentifier, id)
		}
		rec, err := newRecord(tx, name, now)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketRows).Put(rowKey(rec.Row), []byte(id)); err != nil {
			return err
		}
		if err := writeRecord(entries, id, rec); err != nil {
			return err
		}
		e = rec.entry(id)
		return touch(tx, now)
	})
	if err != nil {
		return domain.BlockedEntry{}, unavailable(err)
	}
	return e, nil
}

func (s *boltStore) RenameRow(row uint64, name string) (domain.BlockedEntry, error) {
	var e domain.BlockedEntry
	err := s.db.Update(func(tx *bbolt.Tx) error {
		idb := tx.Bucket(bucketRows).Get(rowKey(row))
		if idb == nil {
			return fmt.Errorf("row %d: %w", row, domain.ErrNotFound)
		}
		id := string(idb)
		entries := tx.Bucket(bucketEntries)
		rec, ok, err := readRecord(entries, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("row %d: %w", row, domain.ErrNotFound)
		}
		rec.DisplayName = name
		if err := writeRecord(entries, id, rec); err != nil {
			return err
		}
		e = rec.entry(id)
		return touch(tx, time.Now())
	})
	if err != nil {
		return domain.BlockedEntry{}, unavailable(err)
	}
	return e, nil
}

func (s *boltStore) Delete(id string) (domain.BlockedEntry, bool, error) {
	var (
		e       domain.BlockedEntry
		existed bool
	)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		var err error
		e, existed, err = deleteEntry(tx, id)
		return err
	})
	if err != nil {
		return domain.BlockedEntry{}, false, unavailable(err)
	}
	return e, existed, nil
}

func (s *boltStore) DeleteRow(row uint64) (domain.BlockedEntry, bool, error) {
	var (
		e       domain.BlockedEntry
		existed bool
	)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketRows).Get(rowKey(row))
		if id == nil {
			return nil
		}
		var err error
		e, existed, err = deleteEntry(tx, string(id))
		return err
	})
	if err != nil {
		return domain.BlockedEntry{}, false, unavailable(err)
	}
	return e, existed, nil
}

// Increment performs the counter read-modify-write inside one bbolt write
// transaction; bbolt serializes writers, so concurrent increments never lose
// updates.
func (s *boltStore) Increment(id string, c blocklist.Counter) (domain.BlockedEntry, bool, error) {
	var (
		e     domain.BlockedEntry
		found bool
	)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		entries := tx.Bucket(bucketEntries)
		rec, ok, err := readRecord(entries, id)
		if err != nil || !ok {
			return err
		}
		switch c {
		case blocklist.CounterMessages:
			rec.BlockedMessages++
		default:
			rec.BlockedCalls++
		}
		if err := writeRecord(entries, id, rec); err != nil {
			return err
		}
		e, found = rec.entry(id), true
		return nil
	})
	if err != nil {
		return domain.BlockedEntry{}, false, unavailable(err)
	}
	return e, found, nil
}

// List returns every entry in insertion (row) order.
func (s *boltStore) List() ([]domain.BlockedEntry, error) {
	var out []domain.BlockedEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		entries := tx.Bucket(bucketEntries)
		return tx.Bucket(bucketRows).ForEach(func(_, id []byte) error {
			rec, ok, err := readRecord(entries, string(id))
			if err != nil {
				return err
			}
			if ok {
				out = append(out, rec.entry(string(id)))
			}
			return nil
		})
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

func (s *boltStore) Stats() blocklist.StoreStats {
	st := blocklist.StoreStats{}
	_ = s.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket(bucketEntries); b != nil {
			st.Entries = uint64(b.Stats().KeyN)
		}
		if b := tx.Bucket(bucketRows); b != nil {
			st.LastRow = b.Sequence()
		}
		if b := tx.Bucket(bucketMeta); b != nil {
			if v := b.Get(metaUpdated); len(v) == 8 {
				st.UpdatedUnix = int64(binary.BigEndian.Uint64(v))
			}
		}
		return nil
	})
	return st
}

func newRecord(tx *bbolt.Tx, name string, now time.Time) (record, error) {
	row, err := tx.Bucket(bucketRows).NextSequence()
	if err != nil {
		return record{}, err
	}
	return record{Row: row, DisplayName: name, DateAdded: now.UTC()}, nil
}

func deleteEntry(tx *bbolt.Tx, id string) (domain.BlockedEntry, bool, error) {
	entries := tx.Bucket(bucketEntries)
	rec, ok, err := readRecord(entries, id)
	if err != nil || !ok {
		return domain.BlockedEntry{}, false, err
	}
	if err := entries.Delete([]byte(id)); err != nil {
		return domain.BlockedEntry{}, false, err
	}
	if err := tx.Bucket(bucketRows).Delete(rowKey(rec.Row)); err != nil {
		return domain.BlockedEntry{}, false, err
	}
	return rec.entry(id), true, touch(tx, time.Now())
}

func readRecord(b *bbolt.Bucket, id string) (record, bool, error) {
	v := b.Get([]byte(id))
	if v == nil {
		return record{}, false, nil
	}
	var rec record
	if err := json.Unmarshal(v, &rec); err != nil {
		return record{}, false, fmt.Errorf("decode entry %s: %w", id, err)
	}
	return rec, true, nil
}

func writeRecord(b *bbolt.Bucket, id string, rec record) error {
	v, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return b.Put([]byte(id), v)
}

func touch(tx *bbolt.Tx, now time.Time) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(now.Unix()))
	return tx.Bucket(bucketMeta).Put(metaUpdated, buf)
}

func rowKey(row uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, row)
	return k
}

// unavailable wraps infrastructure failures with domain.ErrStoreUnavailable.
// Domain errors raised inside a transaction pass through unchanged.
func unavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrDuplicateIdentifier) || errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
}
