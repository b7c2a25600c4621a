package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/oshokin/alarm-sink/internal/config"
	domain "github.com/oshokin/alarm-sink/internal/domain/alarm"
	"github.com/oshokin/alarm-sink/internal/logger"
	"github.com/oshokin/alarm-sink/internal/service/lifecycle"
	"github.com/oshokin/alarm-sink/internal/wire"
)

// ReasonDecode is reported to the metrics recorder for undecodable messages.
const ReasonDecode = "decode_error"

const (
	readerMinBytes       = 1
	readerMaxBytes       = 10e6
	readerMaxWait        = 500 * time.Millisecond
	readerCommitInterval = 0
)

// errNotEnabled is returned when no brokers are configured.
var errNotEnabled = errors.New("kafka consumer is not configured")

// MessageReader is the subset of *kafka.Reader used by the consumer.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Dispatcher accepts events for asynchronous handling. lifecycle.Pool implements it.
type Dispatcher interface {
	Enqueue(ctx context.Context, event *domain.Event) (*lifecycle.Pending, error)
}

// Consumer reads events from Kafka and hands them to a Dispatcher. Up to
// maxInFlight events are handled at once; offsets are committed per
// partition in fetch order, only past messages whose events are done.
type Consumer struct {
	reader     MessageReader
	dispatcher Dispatcher
	metrics    lifecycle.MetricsRecorder

	maxInFlight int
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithMetrics sets the recorder for decode failures.
func WithMetrics(m lifecycle.MetricsRecorder) Option {
	return func(c *Consumer) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithMaxInFlight bounds the number of fetched messages not handled yet.
func WithMaxInFlight(n int) Option {
	return func(c *Consumer) {
		if n > 0 {
			c.maxInFlight = n
		}
	}
}

// NewReader creates a group reader for the configured topic.
// Offsets are committed explicitly by the consumer. The client logs through
// the "kafka" component logger at settings.LogLevel.
func NewReader(settings *config.Kafka) (*kafka.Reader, error) {
	brokers := settings.BrokerList()
	if len(brokers) == 0 {
		return nil, errNotEnabled
	}

	clientLog := logger.Component(logger.Logger(), "kafka", settings.LogLevel, zapcore.WarnLevel)

	return kafka.NewReader(kafka.ReaderConfig{
		Logger:         kafka.LoggerFunc(clientLog.Infof),
		ErrorLogger:    kafka.LoggerFunc(clientLog.Errorf),
		Brokers:        brokers,
		Topic:          settings.Topic,
		GroupID:        settings.GroupID,
		MinBytes:       readerMinBytes,
		MaxBytes:       readerMaxBytes,
		MaxWait:        readerMaxWait,
		CommitInterval: readerCommitInterval,
		StartOffset:    kafka.FirstOffset,
	}), nil
}

// New creates a consumer over the reader.
func New(reader MessageReader, dispatcher Dispatcher, opts ...Option) *Consumer {
	c := &Consumer{
		reader:      reader,
		dispatcher:  dispatcher,
		metrics:     lifecycle.NoOpMetrics{},
		maxInFlight: lifecycle.DefaultWorkers,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Run consumes until ctx is cancelled or the reader fails.
// Events still in flight when ctx ends are not committed and will be redelivered.
func (c *Consumer) Run(ctx context.Context) error {
	ctx = logger.WithName(ctx, "kafka-consumer")

	logger.InfoKV(ctx, "Kafka consumer started", "max_in_flight", c.maxInFlight)

	var (
		group, groupCtx = errgroup.WithContext(ctx)
		slots           = make(chan struct{}, c.maxInFlight)
		completed       = make(chan kafka.Message, c.maxInFlight)
		offsets         = newOffsetTracker()
	)

	group.Go(func() error {
		return c.commitLoop(groupCtx, offsets, completed)
	})

	group.Go(func() error {
		for {
			select {
			case slots <- struct{}{}:
			case <-groupCtx.Done():
				return nil
			}

			msg, err := c.reader.FetchMessage(groupCtx)
			if err != nil {
				if groupCtx.Err() != nil {
					return nil
				}

				return fmt.Errorf("fetch message: %w", err)
			}

			offsets.track(&msg)

			pending, err := c.dispatch(groupCtx, &msg)
			if err != nil {
				if groupCtx.Err() != nil {
					return nil
				}

				return err
			}

			group.Go(func() error {
				defer func() {
					<-slots
				}()

				if err := c.await(groupCtx, &msg, pending); err != nil {
					if groupCtx.Err() != nil {
						return nil
					}

					return err
				}

				select {
				case completed <- msg:
				case <-groupCtx.Done():
				}

				return nil
			})
		}
	})

	err := group.Wait()

	logger.Info(ctx, "Kafka consumer stopped")

	return err
}

// Close releases the reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// commitLoop commits the offsets that become contiguous as messages complete.
func (c *Consumer) commitLoop(ctx context.Context, offsets *offsetTracker, completed <-chan kafka.Message) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-completed:
			last, ok := offsets.complete(&msg)
			if !ok {
				continue
			}

			if err := c.reader.CommitMessages(ctx, last); err != nil {
				if ctx.Err() != nil {
					return nil
				}

				return fmt.Errorf("commit message: %w", err)
			}
		}
	}
}

// dispatch decodes the message and enqueues its event. A nil Pending means
// the message carries nothing to apply and may be committed.
func (c *Consumer) dispatch(ctx context.Context, msg *kafka.Message) (*lifecycle.Pending, error) {
	event, err := decode(msg.Value)
	if err != nil {
		c.metrics.RecordError(ReasonDecode)
		logger.WarnKV(messageContext(ctx, msg), "Skipping undecodable message", "error", err)

		return nil, nil
	}

	pending, err := c.dispatcher.Enqueue(ctx, event)

	switch {
	case err == nil:
		return pending, nil
	case errors.Is(err, lifecycle.ErrPoolClosed), ctx.Err() != nil:
		return nil, err
	default:
		// Invalid events are never retried.
		logger.WarnKV(messageContext(ctx, msg), "Skipping rejected event", "error", err)

		return nil, nil
	}
}

// await waits for the event of msg. A nil result means the offset may be committed.
func (c *Consumer) await(ctx context.Context, msg *kafka.Message, pending *lifecycle.Pending) error {
	if pending == nil {
		return nil
	}

	_, err := pending.Wait(ctx)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, lifecycle.ErrStoreUnavailable):
		// Retries ended without the event being applied; keep the offset.
		return fmt.Errorf("apply event at offset %d: %w", msg.Offset, err)
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		logger.WarnKV(messageContext(ctx, msg), "Skipping rejected event", "error", err)

		return nil
	}
}

func messageContext(ctx context.Context, msg *kafka.Message) context.Context {
	return logger.WithFields(ctx,
		"partition", msg.Partition,
		"offset", msg.Offset,
	)
}

func decode(value []byte) (*domain.Event, error) {
	msg, err := wire.Unmarshal(value)
	if err != nil {
		return nil, err
	}

	return wire.EventFromStruct(0, msg)
}

// partition identifies a topic partition.
type partition struct {
	topic string
	id    int
}

// offsetTracker remembers fetched messages per partition until they can be committed.
type offsetTracker struct {
	mu         sync.Mutex
	partitions map[partition]*partitionOffsets
}

type partitionOffsets struct {
	// fetched holds the offsets not committed yet, in fetch order.
	fetched []int64
	done    map[int64]kafka.Message
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{partitions: make(map[partition]*partitionOffsets)}
}

// track records a fetched message. It must be called before the message can complete.
func (t *offsetTracker) track(msg *kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := partition{topic: msg.Topic, id: msg.Partition}

	p, ok := t.partitions[id]
	if !ok {
		p = &partitionOffsets{done: make(map[int64]kafka.Message)}
		t.partitions[id] = p
	}

	p.fetched = append(p.fetched, msg.Offset)
}

// complete marks msg as handled and returns the last message of the run of
// handled messages at the head of its partition, if the head moved.
func (t *offsetTracker) complete(msg *kafka.Message) (kafka.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.partitions[partition{topic: msg.Topic, id: msg.Partition}]
	if !ok {
		return kafka.Message{}, false
	}

	p.done[msg.Offset] = *msg

	var (
		last     kafka.Message
		advanced bool
	)

	for len(p.fetched) > 0 {
		head, handled := p.done[p.fetched[0]]
		if !handled {
			break
		}

		delete(p.done, p.fetched[0])
		p.fetched = p.fetched[1:]
		last, advanced = head, true
	}

	return last, advanced
}
