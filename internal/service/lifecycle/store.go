package lifecycle

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	domain "github.com/oshokin/alarm-sink/internal/domain/alarm"
)

// DefaultShards is the number of lock shards used when none is configured.
const DefaultShards = 64

// Store maps alarm keys to their current record.
type Store struct {
	// bulk is held for reading by Update and for writing by Remove and Load,
	// so whole-store operations never interleave with a pending update.
	bulk   sync.RWMutex
	shards []*shard
	mask   uint64
	// active counts alarms that are not cleared.
	active atomic.Int64
}

// shard guards a part of the alarm map. mu is only held for map access;
// the per-key locks serialize updates of one key.
type shard struct {
	mu     sync.Mutex
	alarms map[domain.Key]*domain.Alarm
	locks  map[domain.Key]*keyLock
}

type keyLock struct {
	mu sync.Mutex
	// refs counts holders and waiters; guarded by the shard mutex.
	refs int
}

// NewStore creates an empty store. The shard count is rounded up to a power of two.
func NewStore(shards int) *Store {
	if shards <= 0 {
		shards = DefaultShards
	}

	size := 1
	for size < shards {
		size <<= 1
	}

	s := &Store{
		shards: make([]*shard, size),
		mask:   uint64(size - 1),
	}

	for i := range s.shards {
		s.shards[i] = &shard{
			alarms: make(map[domain.Key]*domain.Alarm),
			locks:  make(map[domain.Key]*keyLock),
		}
	}

	return s
}

// hashKey is shared by the store and the pool so both partition keys the same way.
func hashKey(key domain.Key) uint64 {
	return xxhash.Sum64String(key.String())
}

func (s *Store) shardFor(key domain.Key) *shard {
	return s.shards[hashKey(key)&s.mask]
}

// Update runs fn inside the critical section of key. fn receives the stored
// alarm (nil when absent) and must not modify it; when fn returns a non-nil
// alarm it replaces the stored one. An error from fn leaves the store unchanged.
//
// Only the lock of key is held while fn runs, so fn may block (e.g. on a
// repository write) without stalling other keys of the same shard. Readers
// see the previous alarm until fn returns. fn must not call back into the store.
func (s *Store) Update(key domain.Key, fn func(current *domain.Alarm) (*domain.Alarm, error)) error {
	s.bulk.RLock()
	defer s.bulk.RUnlock()

	sh := s.shardFor(key)

	lock := sh.acquire(key)
	defer sh.release(key, lock)

	sh.mu.Lock()
	current := sh.alarms[key]
	sh.mu.Unlock()

	next, err := fn(current)
	if err != nil || next == nil {
		return err
	}

	sh.mu.Lock()
	sh.alarms[key] = next
	sh.mu.Unlock()

	s.active.Add(activeDelta(current, next))

	return nil
}

// acquire locks key, creating its lock on first use.
func (sh *shard) acquire(key domain.Key) *keyLock {
	sh.mu.Lock()

	lock, ok := sh.locks[key]
	if !ok {
		lock = new(keyLock)
		sh.locks[key] = lock
	}

	lock.refs++
	sh.mu.Unlock()

	lock.mu.Lock()

	return lock
}

// release unlocks key and drops its lock once nobody holds or waits for it.
func (sh *shard) release(key domain.Key, lock *keyLock) {
	lock.mu.Unlock()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	lock.refs--
	if lock.refs == 0 {
		delete(sh.locks, key)
	}
}

// Get returns a copy of the alarm stored under key.
func (s *Store) Get(key domain.Key) (*domain.Alarm, bool) {
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	a, ok := sh.alarms[key]

	return a.Clone(), ok
}

// List returns copies of the alarms matching filter, ordered by key.
func (s *Store) List(filter *domain.Filter) []*domain.Alarm {
	var result []*domain.Alarm

	for _, sh := range s.shards {
		sh.mu.Lock()

		for _, a := range sh.alarms {
			if filter.Match(a) {
				result = append(result, a.Clone())
			}
		}

		sh.mu.Unlock()
	}

	sortAlarms(result)

	return result
}

// Remove deletes the alarms matching filter. It waits for pending updates and
// holds the whole store for the duration; commit is called with the matching
// keys before anything is removed, and if it fails the store is left unchanged.
func (s *Store) Remove(filter *domain.Filter, commit func(keys []domain.Key) error) ([]domain.Key, error) {
	s.bulk.Lock()
	defer s.bulk.Unlock()

	for _, sh := range s.shards {
		sh.mu.Lock()
		defer sh.mu.Unlock()
	}

	var (
		keys          []domain.Key
		removedActive int64
	)

	for _, sh := range s.shards {
		for key, a := range sh.alarms {
			if filter.Match(a) {
				keys = append(keys, key)

				if !a.IsCleared {
					removedActive++
				}
			}
		}
	}

	if len(keys) == 0 {
		return nil, nil
	}

	if commit != nil {
		if err := commit(keys); err != nil {
			return nil, err
		}
	}

	for _, key := range keys {
		delete(s.shardFor(key).alarms, key)
	}

	s.active.Add(-removedActive)

	slices.SortFunc(keys, func(a, b domain.Key) int {
		return cmp.Compare(a.String(), b.String())
	})

	return keys, nil
}

// Load replaces the whole content of the store.
func (s *Store) Load(alarms []*domain.Alarm) {
	s.bulk.Lock()
	defer s.bulk.Unlock()

	for _, sh := range s.shards {
		sh.mu.Lock()
		defer sh.mu.Unlock()
	}

	var active int64

	for _, sh := range s.shards {
		clear(sh.alarms)
	}

	for _, a := range alarms {
		sh := s.shardFor(a.Key)
		if previous, ok := sh.alarms[a.Key]; ok && !previous.IsCleared {
			active--
		}

		sh.alarms[a.Key] = a

		if !a.IsCleared {
			active++
		}
	}

	s.active.Store(active)
}

// Active returns the number of alarms that are not cleared.
func (s *Store) Active() int {
	return int(s.active.Load())
}

// Len returns the number of stored alarms, cleared or not.
func (s *Store) Len() int {
	total := 0

	for _, sh := range s.shards {
		sh.mu.Lock()
		total += len(sh.alarms)
		sh.mu.Unlock()
	}

	return total
}

func activeDelta(before, after *domain.Alarm) int64 {
	var delta int64

	if before != nil && !before.IsCleared {
		delta--
	}

	if after != nil && !after.IsCleared {
		delta++
	}

	return delta
}

func sortAlarms(alarms []*domain.Alarm) {
	slices.SortFunc(alarms, func(a, b *domain.Alarm) int {
		return cmp.Compare(a.Key.String(), b.Key.String())
	})
}
