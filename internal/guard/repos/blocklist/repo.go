package blocklist

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/haukened/callguard/internal/guard/common/clock"
	"github.com/haukened/callguard/internal/guard/common/log"
	"github.com/haukened/callguard/internal/guard/common/metrics"
	"github.com/haukened/callguard/internal/guard/common/phone"
	"github.com/haukened/callguard/internal/guard/domain"
)

// Options configures a Repository.
type Options struct {
	Store   Store
	Cache   DecisionCache
	Factory BloomFactory
	// FPRate is the target false-positive rate when (re)building the Bloom filter.
	FPRate  float64
	Clock   clock.Clock
	Logger  log.Logger
	Metrics *metrics.Metrics
}

// repository implements Repository by composing a Store, a Bloom filter
// (via factory) and a DecisionCache.
//
// Reads hold mu shared for the whole bloom → cache → store → cache-fill
// sequence; mutations that change membership hold it exclusively while they
// commit, drop the cached decision and extend the filter. A read therefore
// never caches a decision that a concurrent Block/Unblock already superseded.
type repository struct {
	mu      sync.RWMutex
	store   Store
	cache   DecisionCache
	factory BloomFactory
	fpRate  float64

	bloom    BloomFilter
	bloomCap uint64
	bloomN   uint64

	clock   clock.Clock
	logger  log.Logger
	metrics *metrics.Metrics
	notify  *notifier
}

// NewRepository constructs a Repository and builds the initial Bloom filter
// from the store contents.
func NewRepository(opts Options) (Repository, error) {
	if opts.Store == nil {
		return nil, errors.New("blocklist: store is required")
	}
	if opts.Cache == nil {
		return nil, errors.New("blocklist: cache is required")
	}
	if opts.Factory == nil {
		return nil, errors.New("blocklist: bloom factory is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	r := &repository{
		store:   opts.Store,
		cache:   opts.Cache,
		factory: opts.Factory,
		fpRate:  opts.FPRate,
		clock:   opts.Clock,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	r.notify = newNotifier(r.metrics.ChangeDropped)
	if err := r.Rebuild(); err != nil {
		return nil, err
	}
	return r, nil
}

// IsBlocked reports whether id is blocked. It fails open: empty identifiers
// and store errors are treated as not blocked.
func (r *repository) IsBlocked(id string) bool {
	return r.Decide(id).Blocked
}

// Decide returns a BlockDecision for the provided identifier.
func (r *repository) Decide(id string) domain.BlockDecision {
	cn := phone.Normalize(id)
	if cn == "" {
		return domain.AllowDecision("")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	// 1) bloom: early-allow if definitively absent
	if r.bloom != nil && !r.bloom.MightContain([]byte(cn)) {
		r.metrics.Lookup("bloom")
		return domain.AllowDecision(cn)
	}
	// 2) cache
	if d, ok := r.cache.Get(cn); ok {
		r.metrics.Lookup("cache")
		return d
	}
	// 3) store, filling the cache only on a clean read
	r.metrics.Lookup("store")
	_, found, err := r.store.Get(cn)
	if err != nil {
		r.logger.Warn(map[string]any{"identifier": cn, "error": err}, "blocklist read failed, allowing")
		return domain.AllowDecision(cn)
	}
	d := domain.BlockDecision{Blocked: found, Identifier: cn}
	r.cache.Put(cn, d)
	return d
}

func (r *repository) Get(id string) (domain.BlockedEntry, bool, error) {
	cn := phone.Normalize(id)
	if cn == "" {
		return domain.BlockedEntry{}, false, nil
	}
	return r.store.Get(cn)
}

// Block adds id to the blocklist or, when already present, updates its
// display name. DateAdded and counters of an existing entry are untouched.
func (r *repository) Block(id, name string) (domain.BlockedEntry, error) {
	cn, err := normalizeForWrite(id)
	if err != nil {
		return domain.BlockedEntry{}, err
	}

	r.mu.Lock()
	e, created, err := r.store.Upsert(cn, name, r.clock.Now())
	if err == nil && created {
		r.admitLocked(cn)
	}
	r.mu.Unlock()
	if err != nil {
		return domain.BlockedEntry{}, err
	}

	kind := domain.ChangeUpdated
	if created {
		kind = domain.ChangeAdded
	}
	r.published(kind, e)
	return e, nil
}

// Insert adds id, rejecting an identifier that is already blocked.
func (r *repository) Insert(id, name string) (domain.BlockedEntry, error) {
	cn, err := normalizeForWrite(id)
	if err != nil {
		return domain.BlockedEntry{}, err
	}

	r.mu.Lock()
	e, err := r.store.Insert(cn, name, r.clock.Now())
	if err == nil {
		r.admitLocked(cn)
	}
	r.mu.Unlock()
	if err != nil {
		return domain.BlockedEntry{}, err
	}
	r.published(domain.ChangeAdded, e)
	return e, nil
}

// Unblock removes id and reports whether it was present. Removing an absent
// identifier succeeds.
func (r *repository) Unblock(id string) (bool, error) {
	cn := phone.Normalize(id)
	if cn == "" {
		return false, nil
	}

	r.mu.Lock()
	e, existed, err := r.store.Delete(cn)
	if err == nil {
		r.cache.Remove(cn)
	}
	r.mu.Unlock()
	if err != nil {
		return false, err
	}
	if existed {
		r.published(domain.ChangeRemoved, e)
	}
	return existed, nil
}

func (r *repository) GetRow(row uint64) (domain.BlockedEntry, bool, error) {
	return r.store.GetRow(row)
}

// UpdateRow renames the entry at row. The identifier itself is immutable.
func (r *repository) UpdateRow(row uint64, name string) (domain.BlockedEntry, error) {
	e, err := r.store.RenameRow(row, name)
	if err != nil {
		return domain.BlockedEntry{}, err
	}
	r.published(domain.ChangeUpdated, e)
	return e, nil
}

func (r *repository) DeleteRow(row uint64) (bool, error) {
	r.mu.Lock()
	e, existed, err := r.store.DeleteRow(row)
	if err == nil && existed {
		r.cache.Remove(e.Identifier)
	}
	r.mu.Unlock()
	if err != nil {
		return false, err
	}
	if existed {
		r.published(domain.ChangeRemoved, e)
	}
	return existed, nil
}

// List returns all entries in the requested order. Ties keep insertion order.
func (r *repository) List(order domain.SortOrder) ([]domain.BlockedEntry, error) {
	entries, err := r.store.List()
	if err != nil {
		return nil, err
	}
	var less func(a, b domain.BlockedEntry) bool
	switch order {
	case domain.SortIdentifier:
		less = func(a, b domain.BlockedEntry) bool { return a.Identifier < b.Identifier }
	case domain.SortDateAdded:
		less = func(a, b domain.BlockedEntry) bool { return a.DateAdded.Before(b.DateAdded) }
	case domain.SortBlockedCalls:
		less = func(a, b domain.BlockedEntry) bool { return a.BlockedCalls > b.BlockedCalls }
	case domain.SortBlockedMessages:
		less = func(a, b domain.BlockedEntry) bool { return a.BlockedMessages > b.BlockedMessages }
	default:
		return entries, nil
	}
	sort.SliceStable(entries, func(i, j int) bool { return less(entries[i], entries[j]) })
	return entries, nil
}

func (r *repository) IncrementBlockedCall(id string) (domain.BlockedEntry, error) {
	return r.increment(id, CounterCalls)
}

func (r *repository) IncrementBlockedMessage(id string) (domain.BlockedEntry, error) {
	return r.increment(id, CounterMessages)
}

// increment does not take mu: counters do not change membership, and the
// store serializes the read-modify-write in a single transaction.
func (r *repository) increment(id string, c Counter) (domain.BlockedEntry, error) {
	cn := phone.Normalize(id)
	if cn == "" {
		return domain.BlockedEntry{}, fmt.Errorf("%w: empty", domain.ErrInvalidIdentifier)
	}
	e, ok, err := r.store.Increment(cn, c)
	if err != nil {
		return domain.BlockedEntry{}, err
	}
	if !ok {
		return domain.BlockedEntry{}, fmt.Errorf("increment %s for %s: %w", c, cn, domain.ErrNotFound)
	}
	r.notify.publish(domain.Change{Kind: domain.ChangeCounted, Entry: e})
	return e, nil
}

// Watch subscribes to change notifications. The returned cancel func must be
// called to release the subscription; it closes the channel.
func (r *repository) Watch(buffer int) (<-chan domain.Change, func()) {
	return r.notify.watch(buffer)
}

// Rebuild sizes a fresh Bloom filter for the current store contents, swaps it
// in and purges the decision cache.
func (r *repository) Rebuild() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rebuildLocked()
}

func (r *repository) rebuildLocked() error {
	entries, err := r.store.List()
	if err != nil {
		return err
	}
	bf, capacity := r.factory.New(uint64(len(entries)), r.fpRate)
	for _, e := range entries {
		bf.Add([]byte(e.Identifier))
	}
	r.bloom = bf
	r.bloomCap = capacity
	r.bloomN = uint64(len(entries))
	r.cache.Purge()
	r.metrics.SetBlocklistEntries(len(entries))

	r.logger.Debug(map[string]any{
		"entries":  len(entries),
		"capacity": capacity,
		"fp_rate":  r.fpRate,
	}, "blocklist bloom filter rebuilt")
	return nil
}

// admitLocked makes a freshly stored identifier visible to readers. When the
// filter is full it is rebuilt so the false-positive rate stays on target.
func (r *repository) admitLocked(cn string) {
	r.cache.Remove(cn)
	if r.bloom == nil {
		return
	}
	if r.bloomN+1 > r.bloomCap {
		err := r.rebuildLocked()
		if err == nil {
			return
		}
		r.logger.Warn(map[string]any{"error": err}, "bloom rebuild failed, extending current filter")
	}
	r.bloom.Add([]byte(cn))
	r.bloomN++
}

func (r *repository) published(kind domain.ChangeKind, e domain.BlockedEntry) {
	if kind == domain.ChangeAdded || kind == domain.ChangeRemoved {
		r.metrics.SetBlocklistEntries(int(r.store.Stats().Entries))
	}
	r.logger.Debug(map[string]any{"identifier": e.Identifier, "change": kind.String()}, "blocklist changed")
	r.notify.publish(domain.Change{Kind: kind, Entry: e})
}

// RepoStats returns a snapshot of cache, store and filter state.
func (r *repository) RepoStats() RepoStats {
	r.mu.RLock()
	capacity, n := r.bloomCap, r.bloomN
	r.mu.RUnlock()
	return RepoStats{
		Cache:         r.cache.Stats(),
		Store:         r.store.Stats(),
		BloomCapacity: capacity,
		BloomKeys:     n,
		Watchers:      r.notify.count(),
	}
}

func normalizeForWrite(id string) (string, error) {
	cn := phone.Normalize(id)
	if !phone.Valid(cn) {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidIdentifier, id)
	}
	return cn, nil
}
