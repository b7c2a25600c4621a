package inventory

import (
	"context"
	"errors"

	domain "github.com/oshokin/alarm-sink/internal/domain/alarm"
)

// Repository defines persistence operations for the alarm inventory.
type Repository interface {
	// LoadAll returns every stored alarm with its history.
	LoadAll(ctx context.Context) ([]*domain.Alarm, error)
	// Save stores the full state of one alarm.
	Save(ctx context.Context, alarm *domain.Alarm) error
	// Delete removes the alarms with the given keys. Missing keys are ignored.
	Delete(ctx context.Context, keys []domain.Key) error
}

// ErrNotFound is returned when no inventory has been persisted yet.
var ErrNotFound = errors.New("inventory not found")
