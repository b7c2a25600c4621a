package consumer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-sink/internal/config"
	domain "github.com/oshokin/alarm-sink/internal/domain/alarm"
	"github.com/oshokin/alarm-sink/internal/service/lifecycle"
	"github.com/oshokin/alarm-sink/internal/wire"
)

var (
	errTestFetch = errors.New("test fetch error")
	errTestSave  = errors.New("test save error")
)

// fakeReader serves queued messages from partition 0 and blocks when empty.
type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	next      int64
	committed []int64
	fetchErr  error
	closed    bool
}

func (f *fakeReader) add(value []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.messages = append(f.messages, kafka.Message{
		Topic:  "alarm-events",
		Offset: f.next,
		Value:  value,
	})
	f.next++
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()

	if f.fetchErr != nil {
		f.mu.Unlock()

		return kafka.Message{}, f.fetchErr
	}

	if len(f.messages) == 0 {
		f.mu.Unlock()
		<-ctx.Done()

		return kafka.Message{}, ctx.Err()
	}

	msg := f.messages[0]
	f.messages = f.messages[1:]
	f.mu.Unlock()

	return msg, nil
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, msg := range msgs {
		f.committed = append(f.committed, msg.Offset)
	}

	return nil
}

func (f *fakeReader) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()

	return nil
}

// lastCommitted returns the highest committed offset, -1 before the first commit.
func (f *fakeReader) lastCommitted() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.committed) == 0 {
		return -1
	}

	return f.committed[len(f.committed)-1]
}

func (f *fakeReader) commits() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	return slices.Clone(f.committed)
}

// flakyHandler fails with the store error a fixed number of times before delegating.
type flakyHandler struct {
	mu       sync.Mutex
	next     lifecycle.Handler
	failures int
	calls    int
}

func (f *flakyHandler) Handle(ctx context.Context, event *domain.Event) (*lifecycle.Result, error) {
	f.mu.Lock()
	f.calls++

	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()

		return nil, fmt.Errorf("%w: %w", lifecycle.ErrStoreUnavailable, errTestSave)
	}

	f.mu.Unlock()

	return f.next.Handle(ctx, event)
}

// sleepingHandler holds every event for delay and remembers the highest concurrency seen.
type sleepingHandler struct {
	delay   time.Duration
	running atomic.Int32
	peak    atomic.Int32
}

func (s *sleepingHandler) Handle(context.Context, *domain.Event) (*lifecycle.Result, error) {
	n := s.running.Add(1)
	defer s.running.Add(-1)

	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	time.Sleep(s.delay)

	return &lifecycle.Result{Outcome: domain.OutcomeCreateNew}, nil
}

// countingMetrics counts reported errors.
type countingMetrics struct {
	lifecycle.NoOpMetrics

	mu     sync.Mutex
	errors map[string]int
}

func (c *countingMetrics) RecordError(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.errors == nil {
		c.errors = make(map[string]int)
	}

	c.errors[reason]++
}

func encode(t *testing.T, event *domain.Event) []byte {
	t.Helper()

	data, err := wire.Marshal(wire.EventToStruct(event))
	require.NoError(t, err)

	return data
}

func raise(device string) *domain.Event {
	return &domain.Event{
		Kind:          domain.KindCreate,
		Device:        device,
		ManagedObject: "eth0",
		Type:          "link-down",
		Severity:      domain.SeverityMajor,
		AlarmText:     "down",
	}
}

func newPool(t *testing.T, handler lifecycle.Handler, workers int, opts ...lifecycle.PoolOption) *lifecycle.Pool {
	t.Helper()

	pool := lifecycle.NewPool(context.Background(), handler, workers, opts...)

	t.Cleanup(pool.Close)

	return pool
}

func newEngine() *lifecycle.Engine {
	return lifecycle.NewEngine(lifecycle.NewStore(4))
}

// runUntil runs the consumer until cond holds, then stops it.
func runUntil(t *testing.T, c *Consumer, cond func() bool) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- c.Run(ctx)
	}()

	require.Eventually(t, cond, 5*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

// TestConsumer_AppliesAndCommits checks decoded events reach the engine and every offset is committed.
func TestConsumer_AppliesAndCommits(t *testing.T) {
	t.Parallel()

	engine := newEngine()
	pool := newPool(t, engine, 2)
	reader := new(fakeReader)

	reader.add(encode(t, raise("r1")))
	reader.add(encode(t, raise("r1")))
	reader.add(encode(t, raise("r2")))

	clearEvent := raise("r2")
	clearEvent.Kind = domain.KindClear
	reader.add(encode(t, clearEvent))

	runUntil(t, New(reader, pool), func() bool { return reader.lastCommitted() == 3 })

	require.Equal(t, 1, engine.NumberOfAlarms())
	require.Equal(t, lifecycle.Stats{Total: 2, Active: 1, Cleared: 1}, engine.Stats())

	a, ok := engine.Get(domain.Key{Device: "r1", ManagedObject: "eth0", Type: "link-down"})
	require.True(t, ok)
	require.Len(t, a.StatusChanges, 1)
}

// TestConsumer_SkipsPoisonMessages checks undecodable and invalid events are committed without being applied.
func TestConsumer_SkipsPoisonMessages(t *testing.T) {
	t.Parallel()

	engine := newEngine()
	pool := newPool(t, engine, 2)
	reader := new(fakeReader)
	metrics := new(countingMetrics)

	reader.add([]byte("not json"))
	reader.add([]byte(`{"kind":"explode","device":"r1"}`))

	invalid := raise("r1")
	invalid.ManagedObject = ""
	reader.add(encode(t, invalid))

	reader.add(encode(t, raise("r3")))

	runUntil(t, New(reader, pool, WithMetrics(metrics)), func() bool { return reader.lastCommitted() == 3 })

	require.Equal(t, 1, engine.Stats().Total)

	metrics.mu.Lock()
	defer metrics.mu.Unlock()

	require.Equal(t, 2, metrics.errors[ReasonDecode])
}

// TestConsumer_RetriesWhileStoreUnavailable checks the offset is held back until the event is applied.
func TestConsumer_RetriesWhileStoreUnavailable(t *testing.T) {
	t.Parallel()

	engine := newEngine()
	handler := &flakyHandler{next: engine, failures: 3}
	pool := newPool(t, handler, 2, lifecycle.WithRetry(time.Millisecond))
	reader := new(fakeReader)

	reader.add(encode(t, raise("r1")))

	runUntil(t, New(reader, pool), func() bool { return reader.lastCommitted() == 0 })

	handler.mu.Lock()
	defer handler.mu.Unlock()

	require.Equal(t, 4, handler.calls)
	require.Equal(t, 1, engine.NumberOfAlarms())
}

// TestConsumer_HandlesKeysConcurrently checks events of distinct keys overlap and offsets still commit in order.
func TestConsumer_HandlesKeysConcurrently(t *testing.T) {
	t.Parallel()

	const (
		events  = 16
		workers = 8
	)

	handler := &sleepingHandler{delay: 20 * time.Millisecond}
	pool := newPool(t, handler, workers)
	reader := new(fakeReader)

	for i := range events {
		reader.add(encode(t, raise("r"+strconv.Itoa(i))))
	}

	runUntil(t, New(reader, pool, WithMaxInFlight(workers)), func() bool {
		return reader.lastCommitted() == events-1
	})

	require.Greater(t, handler.peak.Load(), int32(1))
	require.LessOrEqual(t, handler.peak.Load(), int32(workers))

	committed := reader.commits()
	require.True(t, slices.IsSorted(committed), committed)
	require.Len(t, slices.Compact(committed), len(committed))
}

// TestOffsetTracker checks commits only advance past a contiguous run of handled messages.
func TestOffsetTracker(t *testing.T) {
	t.Parallel()

	tracker := newOffsetTracker()
	message := func(p int, offset int64) *kafka.Message {
		return &kafka.Message{Topic: "alarm-events", Partition: p, Offset: offset}
	}

	for _, offset := range []int64{10, 11, 14} {
		tracker.track(message(0, offset))
	}

	tracker.track(message(1, 3))

	_, ok := tracker.complete(message(0, 11))
	require.False(t, ok)

	_, ok = tracker.complete(message(0, 14))
	require.False(t, ok)

	// Partitions advance independently.
	last, ok := tracker.complete(message(1, 3))
	require.True(t, ok)
	require.Equal(t, int64(3), last.Offset)

	last, ok = tracker.complete(message(0, 10))
	require.True(t, ok)
	require.Equal(t, int64(14), last.Offset)

	_, ok = tracker.complete(message(2, 0))
	require.False(t, ok)
}

// TestConsumer_FetchError checks reader failures stop the consumer.
func TestConsumer_FetchError(t *testing.T) {
	t.Parallel()

	pool := newPool(t, newEngine(), 2)
	reader := &fakeReader{fetchErr: errTestFetch}

	c := New(reader, pool)

	err := c.Run(context.Background())
	require.ErrorIs(t, err, errTestFetch)

	require.NoError(t, c.Close())
	require.True(t, reader.closed)
}

// TestNewReader validates the broker list.
func TestNewReader(t *testing.T) {
	t.Parallel()

	_, err := NewReader(&config.Kafka{Topic: "alarm-events"})
	require.ErrorIs(t, err, errNotEnabled)

	reader, err := NewReader(&config.Kafka{
		Brokers: "localhost:9092",
		Topic:   "alarm-events",
		GroupID: "alarm-sink",
	})
	require.NoError(t, err)
	require.Equal(t, "alarm-events", reader.Config().Topic)
	require.NotNil(t, reader.Config().Logger)
	require.NotNil(t, reader.Config().ErrorLogger)
	require.NoError(t, reader.Close())
}
