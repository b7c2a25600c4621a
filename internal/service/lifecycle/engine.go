package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/oshokin/alarm-sink/internal/domain/alarm"
	"github.com/oshokin/alarm-sink/internal/logger"
	"github.com/oshokin/alarm-sink/internal/repository/inventory"
)

// ErrStoreUnavailable wraps persistence failures. The triggering event is not applied.
var ErrStoreUnavailable = errors.New("alarm store unavailable")

// Result is the observable outcome of one handled event.
type Result struct {
	// Outcome is the classification of the event.
	Outcome domain.Outcome
	// Summary describes the alarm after the event.
	Summary domain.Summary
	// Change is the appended history entry, nil when the event was suppressed.
	Change *domain.StatusChange
}

// Stats counts the alarms in the store.
type Stats struct {
	Total   int
	Active  int
	Cleared int
}

// Engine applies alarm events to a Store.
type Engine struct {
	// store holds the current alarms.
	store *Store
	// repo is the durable backing of the store; nil keeps alarms in memory only.
	repo inventory.Repository
	// metrics receives instrumentation.
	metrics MetricsRecorder
	// now is the clock used when an event carries no timestamp.
	now func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithRepository makes every transition durable before it is committed.
func WithRepository(repo inventory.Repository) Option {
	return func(e *Engine) {
		e.repo = repo
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates an engine over the given store.
func NewEngine(store *Store, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		metrics: NoOpMetrics{},
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Restore replaces the store content with the alarms held by the repository.
func (e *Engine) Restore(ctx context.Context) error {
	if e.repo == nil {
		return nil
	}

	alarms, err := e.repo.LoadAll(ctx)
	switch {
	case err == nil:
	case errors.Is(err, inventory.ErrNotFound):
		// Nothing persisted yet.
	default:
		return fmt.Errorf("load inventory: %w", err)
	}

	e.store.Load(alarms)

	logger.InfoKV(ctx, "Alarm inventory restored", "alarms", len(alarms), "active", e.store.Active())

	return nil
}

// Handle applies one event. The classification and the resulting mutation of
// the event's alarm happen atomically with respect to other events for the same key.
func (e *Engine) Handle(ctx context.Context, event *domain.Event) (*Result, error) {
	started := time.Now()

	key, err := e.validate(event)
	if err != nil {
		return nil, err
	}

	var (
		text   = domain.TruncateText(event.AlarmText)
		now    = event.Timestamp
		result = new(Result)
	)

	if now.IsZero() {
		now = e.now()
	}

	err = e.store.Update(key, func(current *domain.Alarm) (*domain.Alarm, error) {
		decision := domain.Classify(event, current, text)
		result.Outcome = decision.Outcome

		if !decision.Mutates() {
			result.Summary = current.Summary()

			return nil, nil
		}

		next := current.Clone()
		if next == nil {
			next = domain.New(key)
		}

		change := next.Apply(decision, event.Severity, text, now)
		next.SetRelations(event.ImpactedObjects, event.RootCauseObjects, event.RelatedAlarms)

		if e.repo != nil {
			if err := e.repo.Save(ctx, next); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
			}
		}

		result.Summary = next.Summary()
		result.Change = &change

		return next, nil
	})
	if err != nil {
		e.metrics.RecordError(ReasonStoreUnavailable)
		logger.ErrorKV(ctx, "Failed to persist alarm", append(keyKV(key), "kind", event.Kind, "error", err)...)

		return nil, err
	}

	e.metrics.RecordEvent(event.Kind, result.Outcome, time.Since(started))

	if result.Outcome == domain.OutcomeSuppress {
		logger.DebugKV(ctx, "Duplicate alarm suppressed", append(keyKV(key), "severity", event.Severity)...)
	} else {
		logger.InfoKV(ctx, "Alarm status changed", append(keyKV(key),
			"outcome", result.Outcome,
			"state", result.Change.State,
			"severity", result.Summary.CurrentSeverity,
			"status_changes", result.Summary.StatusChangeCount,
		)...)
	}

	return result, nil
}

// validate rejects events that must not reach the classifier.
func (e *Engine) validate(event *domain.Event) (domain.Key, error) {
	key, err := domain.ResolveKey(event)
	if err != nil {
		e.metrics.RecordError(ReasonMalformedKey)

		return domain.Key{}, err
	}

	for _, related := range event.RelatedAlarms {
		if err = related.Validate(); err != nil {
			e.metrics.RecordError(ReasonMalformedKey)

			return domain.Key{}, fmt.Errorf("related alarm: %w", err)
		}
	}

	switch event.Kind {
	case domain.KindCreate, domain.KindUpdate:
		if err = domain.ValidateEventSeverity(event.Severity); err != nil {
			e.metrics.RecordError(ReasonInvalidSeverity)

			return domain.Key{}, err
		}
	case domain.KindClear:
	default:
		e.metrics.RecordError(ReasonUnknownKind)

		return domain.Key{}, domain.ErrUnknownKind
	}

	return key, nil
}

// keyKV renders the identity fields as logger key-value pairs.
func keyKV(key domain.Key) []any {
	return []any{
		"device", key.Device,
		"managed_object", key.ManagedObject,
		"alarm_type", key.Type,
		"specific_problem", key.SpecificProblem,
	}
}

// Purge destroys the alarms matching filter, history included, and returns their keys.
func (e *Engine) Purge(ctx context.Context, filter *domain.Filter) ([]domain.Key, error) {
	keys, err := e.store.Remove(filter, func(keys []domain.Key) error {
		if e.repo == nil {
			return nil
		}

		if err := e.repo.Delete(ctx, keys); err != nil {
			return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}

		return nil
	})
	if err != nil {
		e.metrics.RecordError(ReasonStoreUnavailable)

		return nil, err
	}

	e.metrics.RecordPurge(len(keys))
	logger.InfoKV(ctx, "Alarms purged", "purged", len(keys), "active", e.store.Active())

	return keys, nil
}

// Get returns a copy of one alarm.
func (e *Engine) Get(key domain.Key) (*domain.Alarm, bool) {
	return e.store.Get(key)
}

// List returns copies of the alarms matching filter, ordered by key.
func (e *Engine) List(filter *domain.Filter) []*domain.Alarm {
	return e.store.List(filter)
}

// NumberOfAlarms returns the number of alarms that are not cleared.
func (e *Engine) NumberOfAlarms() int {
	return e.store.Active()
}

// Stats returns alarm counts.
func (e *Engine) Stats() Stats {
	total := e.store.Len()
	active := e.store.Active()

	return Stats{
		Total:   total,
		Active:  active,
		Cleared: total - active,
	}
}
