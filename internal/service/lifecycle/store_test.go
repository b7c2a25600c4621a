package lifecycle

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/oshokin/alarm-sink/internal/domain/alarm"
)

var errTestCommit = errors.New("test commit error")

// newAlarm builds an alarm with a single history entry.
func newAlarm(device string, cleared bool) *domain.Alarm {
	a := domain.New(domain.Key{Device: device, Type: "link-down"})

	a.CurrentSeverity = domain.SeverityMajor
	a.LastPerceivedSeverity = domain.SeverityMajor
	a.StatusChanges = []domain.StatusChange{{Severity: domain.SeverityMajor, State: domain.StateRaised}}

	if cleared {
		a.IsCleared = true
		a.CurrentSeverity = domain.SeverityCleared
	}

	return a
}

// TestNewStore_RoundsShards checks the shard count becomes a power of two.
func TestNewStore_RoundsShards(t *testing.T) {
	t.Parallel()

	require.Len(t, NewStore(0).shards, DefaultShards)
	require.Len(t, NewStore(1).shards, 1)
	require.Len(t, NewStore(5).shards, 8)
	require.Len(t, NewStore(16).shards, 16)
}

// TestStore_UpdateTracksActive verifies the active counter follows raises and clears.
func TestStore_UpdateTracksActive(t *testing.T) {
	t.Parallel()

	s := NewStore(4)
	a := newAlarm("r1", false)

	require.NoError(t, s.Update(a.Key, func(current *domain.Alarm) (*domain.Alarm, error) {
		require.Nil(t, current)

		return a, nil
	}))
	require.Equal(t, 1, s.Active())
	require.Equal(t, 1, s.Len())

	require.NoError(t, s.Update(a.Key, func(current *domain.Alarm) (*domain.Alarm, error) {
		require.NotNil(t, current)

		return newAlarm("r1", true), nil
	}))
	require.Equal(t, 0, s.Active())
	require.Equal(t, 1, s.Len())
}

// TestStore_UpdateErrorKeepsState asserts a failing update leaves the stored alarm untouched.
func TestStore_UpdateErrorKeepsState(t *testing.T) {
	t.Parallel()

	s := NewStore(4)
	a := newAlarm("r1", false)
	s.Load([]*domain.Alarm{a})

	err := s.Update(a.Key, func(*domain.Alarm) (*domain.Alarm, error) {
		return newAlarm("r1", true), errTestCommit
	})
	require.ErrorIs(t, err, errTestCommit)

	stored, ok := s.Get(a.Key)
	require.True(t, ok)
	require.False(t, stored.IsCleared)
	require.Equal(t, 1, s.Active())
}

// TestStore_GetReturnsCopy verifies callers cannot mutate stored alarms.
func TestStore_GetReturnsCopy(t *testing.T) {
	t.Parallel()

	s := NewStore(1)
	a := newAlarm("r1", false)
	s.Load([]*domain.Alarm{a})

	got, ok := s.Get(a.Key)
	require.True(t, ok)
	require.NotSame(t, a, got)

	got.StatusChanges[0].AlarmText = "changed"

	again, _ := s.Get(a.Key)
	require.Empty(t, again.StatusChanges[0].AlarmText)

	_, ok = s.Get(domain.Key{Device: "missing", Type: "link-down"})
	require.False(t, ok)
}

// TestStore_ListFiltersAndSorts checks filtering by status and deterministic ordering.
func TestStore_ListFiltersAndSorts(t *testing.T) {
	t.Parallel()

	s := NewStore(8)
	s.Load([]*domain.Alarm{
		newAlarm("r3", false),
		newAlarm("r1", true),
		newAlarm("r2", false),
	})

	all := s.List(new(domain.Filter))
	require.Len(t, all, 3)
	require.Equal(t, "r1", all[0].Key.Device)
	require.Equal(t, "r2", all[1].Key.Device)
	require.Equal(t, "r3", all[2].Key.Device)

	active := s.List(&domain.Filter{Status: domain.StatusActive})
	require.Len(t, active, 2)

	cleared := s.List(&domain.Filter{Status: domain.StatusCleared})
	require.Len(t, cleared, 1)
	require.Equal(t, "r1", cleared[0].Key.Device)

	require.Empty(t, s.List(&domain.Filter{Device: "r9"}))
}

// TestStore_Remove covers successful and failing commits.
func TestStore_Remove(t *testing.T) {
	t.Parallel()

	s := NewStore(8)
	s.Load([]*domain.Alarm{
		newAlarm("r1", false),
		newAlarm("r2", true),
		newAlarm("r3", false),
	})
	require.Equal(t, 2, s.Active())

	// Failing commit leaves everything in place.
	keys, err := s.Remove(new(domain.Filter), func([]domain.Key) error { return errTestCommit })
	require.ErrorIs(t, err, errTestCommit)
	require.Nil(t, keys)
	require.Equal(t, 3, s.Len())
	require.Equal(t, 2, s.Active())

	var committed []domain.Key

	keys, err = s.Remove(&domain.Filter{Device: "r1"}, func(k []domain.Key) error {
		committed = k

		return nil
	})
	require.NoError(t, err)
	require.Equal(t, committed, keys)
	require.Len(t, keys, 1)
	require.Equal(t, 2, s.Len())
	require.Equal(t, 1, s.Active())

	keys, err = s.Remove(new(domain.Filter), nil)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	require.Equal(t, "r2", keys[0].Device)
	require.Zero(t, s.Len())
	require.Zero(t, s.Active())

	// Nothing left to match.
	keys, err = s.Remove(new(domain.Filter), func([]domain.Key) error { return errTestCommit })
	require.NoError(t, err)
	require.Empty(t, keys)
}

// TestStore_LoadReplaces verifies Load discards the previous content and counts duplicates once.
func TestStore_LoadReplaces(t *testing.T) {
	t.Parallel()

	s := NewStore(2)
	s.Load([]*domain.Alarm{newAlarm("old", false)})

	s.Load([]*domain.Alarm{
		newAlarm("r1", false),
		newAlarm("r1", false),
		newAlarm("r2", true),
	})

	require.Equal(t, 2, s.Len())
	require.Equal(t, 1, s.Active())

	_, ok := s.Get(domain.Key{Device: "old", Type: "link-down"})
	require.False(t, ok)
}

// TestStore_SlowUpdateKeepsShardAvailable checks a blocked update only holds its own key.
func TestStore_SlowUpdateKeepsShardAvailable(t *testing.T) {
	t.Parallel()

	s := NewStore(1)
	slow, fast := newAlarm("slow", false), newAlarm("fast", false)
	s.Load([]*domain.Alarm{slow})

	var (
		entered = make(chan struct{})
		release = make(chan struct{})
		done    = make(chan error, 1)
	)

	go func() {
		done <- s.Update(slow.Key, func(current *domain.Alarm) (*domain.Alarm, error) {
			close(entered)
			<-release

			next := current.Clone()
			next.IsCleared = true

			return next, nil
		})
	}()

	<-entered

	// Same shard, other key: neither writes nor reads wait for the slow update.
	require.NoError(t, s.Update(fast.Key, func(*domain.Alarm) (*domain.Alarm, error) {
		return fast, nil
	}))

	got, ok := s.Get(slow.Key)
	require.True(t, ok)
	require.False(t, got.IsCleared)
	require.Equal(t, 2, s.Active())

	close(release)
	require.NoError(t, <-done)

	got, ok = s.Get(slow.Key)
	require.True(t, ok)
	require.True(t, got.IsCleared)
	require.Equal(t, 1, s.Active())
	require.Empty(t, s.shards[0].locks)
}

// TestStore_UpdateSerializesKey checks updates of one key never overlap.
func TestStore_UpdateSerializesKey(t *testing.T) {
	t.Parallel()

	var (
		s       = NewStore(4)
		key     = newAlarm("r1", false).Key
		running atomic.Int32
		peak    atomic.Int32
		done    = make(chan error, 8)
	)

	for range cap(done) {
		go func() {
			done <- s.Update(key, func(current *domain.Alarm) (*domain.Alarm, error) {
				if n := running.Add(1); n > peak.Load() {
					peak.Store(n)
				}

				time.Sleep(time.Millisecond)
				running.Add(-1)

				next := current.Clone()
				if next == nil {
					next = domain.New(key)
				}

				next.StatusChanges = append(next.StatusChanges, domain.StatusChange{State: domain.StateRaised})

				return next, nil
			})
		}()
	}

	for range cap(done) {
		require.NoError(t, <-done)
	}

	got, ok := s.Get(key)
	require.True(t, ok)
	require.Len(t, got.StatusChanges, cap(done))
	require.Equal(t, int32(1), peak.Load())
}

// TestStore_RemoveWaitsForPendingUpdate checks a purge never drops an update in flight.
func TestStore_RemoveWaitsForPendingUpdate(t *testing.T) {
	t.Parallel()

	var (
		s       = NewStore(2)
		pending = newAlarm("r1", false)
		entered = make(chan struct{})
		release = make(chan struct{})
		updated = make(chan error, 1)
		removed = make(chan []domain.Key, 1)
	)

	go func() {
		updated <- s.Update(pending.Key, func(*domain.Alarm) (*domain.Alarm, error) {
			close(entered)
			<-release

			return pending, nil
		})
	}()

	<-entered

	go func() {
		keys, _ := s.Remove(nil, nil)
		removed <- keys
	}()

	require.Never(t, func() bool { return len(removed) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	close(release)
	require.NoError(t, <-updated)
	require.Equal(t, []domain.Key{pending.Key}, <-removed)

	_, ok := s.Get(pending.Key)
	require.False(t, ok)
	require.Zero(t, s.Active())
}
