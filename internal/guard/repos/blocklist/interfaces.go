package blocklist

import (
	"time"

	"github.com/haukened/callguard/internal/guard/domain"
)

// BloomFilter is the minimal interface the repository needs from Bloom filters.
// Keys are normalized identifiers.
type BloomFilter interface {
	Add(key []byte)
	MightContain(key []byte) bool
}

// BloomFactory constructs Bloom filters sized for an expected number of entries.
// Capacity reports how many keys the returned filter was sized for, which may
// exceed the requested count to leave room for runtime inserts.
type BloomFactory interface {
	New(capacity uint64, fpRate float64) (BloomFilter, uint64)
}

// DecisionCache caches block decisions by normalized identifier.
type DecisionCache interface {
	Get(id string) (domain.BlockDecision, bool)
	Put(id string, d domain.BlockDecision)
	Remove(id string)
	Len() int
	Purge()
	Stats() CacheStats
}

// Counter selects which blocked-event counter to increment.
type Counter uint8

const (
	CounterCalls Counter = iota
	CounterMessages
)

func (c Counter) String() string {
	if c == CounterMessages {
		return "messages"
	}
	return "calls"
}

// Store is the persistent blocklist. Every mutating method commits before it
// returns. Identifiers passed in are already normalized.
//   - Upsert: create, or rename an existing entry keeping DateAdded and counters
//   - Insert: create; ErrDuplicateIdentifier if the identifier exists
//   - Increment: atomic read-modify-write of one counter; ok=false when absent
type Store interface {
	Get(id string) (domain.BlockedEntry, bool, error)
	GetRow(row uint64) (domain.BlockedEntry, bool, error)
	Upsert(id, name string, now time.Time) (entry domain.BlockedEntry, created bool, err error)
	Insert(id, name string, now time.Time) (domain.BlockedEntry, error)
	RenameRow(row uint64, name string) (domain.BlockedEntry, error)
	Delete(id string) (domain.BlockedEntry, bool, error)
	DeleteRow(row uint64) (domain.BlockedEntry, bool, error)
	Increment(id string, c Counter) (domain.BlockedEntry, bool, error)
	List() ([]domain.BlockedEntry, error)
	Stats() StoreStats
	Close() error
}

// RepoStats exposes repository-level counters and underlying store stats.
type RepoStats struct {
	Cache         CacheStats
	Store         StoreStats
	BloomCapacity uint64
	BloomKeys     uint64
	Watchers      int
}

// Repository composes cache → bloom → store for reads and publishes a
// domain.Change after every committed mutation.
type Repository interface {
	IsBlocked(id string) bool
	Decide(id string) domain.BlockDecision
	Get(id string) (domain.BlockedEntry, bool, error)

	Block(id, name string) (domain.BlockedEntry, error)
	Unblock(id string) (bool, error)
	List(order domain.SortOrder) ([]domain.BlockedEntry, error)
	IncrementBlockedCall(id string) (domain.BlockedEntry, error)
	IncrementBlockedMessage(id string) (domain.BlockedEntry, error)

	Insert(id, name string) (domain.BlockedEntry, error)
	GetRow(row uint64) (domain.BlockedEntry, bool, error)
	UpdateRow(row uint64, name string) (domain.BlockedEntry, error)
	DeleteRow(row uint64) (bool, error)

	Watch(buffer int) (<-chan domain.Change, func())
	Rebuild() error
	RepoStats() RepoStats
}
