package eventlog

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/haukened/callguard/internal/guard/common/log"
	"github.com/haukened/callguard/internal/guard/domain"
)

var (
	bucketCalls    = []byte("calls")
	bucketMessages = []byte("messages")
)

// Query filters event enumeration. Zero values mean "no filter".
// Results are returned newest first.
type Query struct {
	Since      time.Time
	Identifier string
	Limit      int
}

// Log is the durable append-only record of call and message outcomes.
type Log interface {
	AppendCall(e domain.CallEvent) error
	AppendMessage(e domain.MessageEvent) error
	Calls(q Query) ([]domain.CallEvent, error)
	Messages(q Query) ([]domain.MessageEvent, error)
	Stats() Stats
	Close() error
}

// Stats reports the number of retained records per bucket.
type Stats struct {
	Calls    uint64
	Messages uint64
}

// Options configures the event log.
type Options struct {
	// MaxEntries caps each bucket; the oldest records are pruned on append.
	// Zero keeps everything.
	MaxEntries int
	Logger     log.Logger
}

type boltLog struct {
	db     *bbolt.DB
	max    int
	logger log.Logger

	// appendMu orders count updates with their commits; counts change only
	// after the transaction that produced them committed.
	appendMu sync.Mutex
	calls    atomic.Uint64
	messages atomic.Uint64

	// beforeCommit, when set, runs as the last step of an append
	// transaction; an error rolls it back.
	beforeCommit func() error
}

// New opens (or creates) the event log database at path.
func New(path string, opts Options) (Log, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: open event log: %w", domain.ErrStoreUnavailable, err)
	}
	l := &boltLog{db: db, max: opts.MaxEntries, logger: opts.Logger}
	if l.logger == nil {
		l.logger = log.NewNoopLogger()
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketCalls, bucketMessages} {
			b, err := tx.CreateBucketIfNotExists(name)
			if err != nil {
				return err
			}
			l.counter(name).Store(uint64(b.Stats().KeyN))
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: init event log: %w", domain.ErrStoreUnavailable, err)
	}
	return l, nil
}

func (l *boltLog) counter(bucket []byte) *atomic.Uint64 {
	if string(bucket) == string(bucketMessages) {
		return &l.messages
	}
	return &l.calls
}

func (l *boltLog) AppendCall(e domain.CallEvent) error {
	return l.append(bucketCalls, e.Timestamp, e.Identifier, encodeCall(e))
}

func (l *boltLog) AppendMessage(e domain.MessageEvent) error {
	return l.append(bucketMessages, e.Timestamp, e.Identifier, encodeMessage(e))
}

func (l *boltLog) append(bucket []byte, at time.Time, id string, value []byte) error {
	l.appendMu.Lock()
	defer l.appendMu.Unlock()

	n := l.counter(bucket)
	var retained uint64
	err := l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		if err := b.Put(eventKey(at, seq, sanitize(id)), value); err != nil {
			return err
		}
		count := n.Load() + 1
		pruned, err := prune(b, count, l.max)
		if err != nil {
			return err
		}
		retained = count - pruned
		if l.beforeCommit != nil {
			return l.beforeCommit()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: append %s: %w", domain.ErrStoreUnavailable, bucket, err)
	}
	n.Store(retained)
	return nil
}

// prune deletes the oldest records until at most max remain.
func prune(b *bbolt.Bucket, count uint64, max int) (uint64, error) {
	if max <= 0 || count <= uint64(max) {
		return 0, nil
	}
	excess := count - uint64(max)
	var pruned uint64
	c := b.Cursor()
	for k, _ := c.First(); k != nil && pruned < excess; k, _ = c.First() {
		if err := c.Delete(); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}

func (l *boltLog) Calls(q Query) ([]domain.CallEvent, error) {
	var out []domain.CallEvent
	err := l.scan(bucketCalls, q, func(v []byte) (bool, error) {
		e, err := decodeCall(v)
		if err != nil {
			l.logger.Warn(map[string]any{"error": err}, "skipping unreadable call record")
			return false, nil
		}
		if q.Identifier != "" && e.Identifier != q.Identifier {
			return false, nil
		}
		out = append(out, e)
		return true, nil
	})
	return out, err
}

func (l *boltLog) Messages(q Query) ([]domain.MessageEvent, error) {
	var out []domain.MessageEvent
	err := l.scan(bucketMessages, q, func(v []byte) (bool, error) {
		e, err := decodeMessage(v)
		if err != nil {
			l.logger.Warn(map[string]any{"error": err}, "skipping unreadable message record")
			return false, nil
		}
		if q.Identifier != "" && e.Identifier != q.Identifier {
			return false, nil
		}
		out = append(out, e)
		return true, nil
	})
	return out, err
}

// scan walks bucket newest first, stopping at q.Since or after q.Limit
// accepted records. visit reports whether it kept the record.
func (l *boltLog) scan(bucket []byte, q Query, visit func(v []byte) (bool, error)) error {
	since := int64(-1)
	if !q.Since.IsZero() {
		since = q.Since.UnixMilli()
	}
	err := l.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucket).Cursor()
		kept := 0
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if keyMillis(k) < since {
				break
			}
			ok, err := visit(v)
			if err != nil {
				return err
			}
			if ok {
				kept++
				if q.Limit > 0 && kept >= q.Limit {
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: scan %s: %w", domain.ErrStoreUnavailable, bucket, err)
	}
	return nil
}

func (l *boltLog) Stats() Stats {
	return Stats{Calls: l.calls.Load(), Messages: l.messages.Load()}
}

func (l *boltLog) Close() error { return l.db.Close() }
